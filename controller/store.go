package controller

import (
	"context"

	"github.com/google/uuid"

	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

// ConversationStore is the store surface the HTTP layer needs. Satisfied by
// logic.DBStore.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title, model string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
	SetModel(ctx context.Context, id uuid.UUID, model string) error
}
