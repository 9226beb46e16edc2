package logic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LCtech96/Facevoice.AI-sub001/bus"
	"github.com/LCtech96/Facevoice.AI-sub001/metrics"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

// Longest accepted message body.
const maxContentLen = 32 * 1024

// Store is the read surface of the canonical store: the full ordered
// history plus conversation metadata. Viewer sessions depend on this
// interface so remote clients can supply an HTTP-backed implementation.
type Store interface {
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)
}

// AppendStore adds the insert operation the orchestrator needs. Every
// successful insert is relayed to the broadcast bus.
type AppendStore interface {
	Store
	InsertMessage(ctx context.Context, conversationID uuid.UUID, role, content, author string) (*models.Message, error)
}

// ConversationData is the row access DBStore needs for conversations.
// Implemented by dao.ConversationDAO.
type ConversationData interface {
	CreateConversation(title, model string) (*models.Conversation, error)
	GetConversationByID(id uuid.UUID) (*models.Conversation, error)
	ListConversations() ([]models.Conversation, error)
	TouchUpdatedAt(id uuid.UUID) error
	UpdateModel(id uuid.UUID, model string) error
}

// MessageData is the row access DBStore needs for messages. Implemented by
// dao.MessageDAO.
type MessageData interface {
	CreateMessage(conversationID uuid.UUID, role, content, author string) (*models.Message, error)
	GetMessagesByConversationID(conversationID uuid.UUID) ([]models.Message, error)
}

// DBStore is the gorm-backed canonical store. Inserts are published to the
// broker so every subscribed viewer observes them, including the writer.
type DBStore struct {
	convos   ConversationData
	messages MessageData
	broker   *bus.Broker

	// serializes insert+publish per conversation so the bus relays
	// events in store insertion order
	appendLocks sync.Map
}

func NewDBStore(convos ConversationData, messages MessageData, broker *bus.Broker) *DBStore {
	return &DBStore{convos: convos, messages: messages, broker: broker}
}

func (s *DBStore) appendLock(conversationID uuid.UUID) *sync.Mutex {
	mu, _ := s.appendLocks.LoadOrStore(conversationID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateConversation creates a new conversation with the given title and
// model selector.
func (s *DBStore) CreateConversation(ctx context.Context, title, model string) (*models.Conversation, error) {
	convo, err := s.convos.CreateConversation(title, model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return convo, nil
}

// GetConversation retrieves a conversation by id.
func (s *DBStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	convo, err := s.convos.GetConversationByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return convo, nil
}

// ListConversations retrieves all conversations, most recently active first.
func (s *DBStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	convos, err := s.convos.ListConversations()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return convos, nil
}

// ListMessages retrieves the conversation's full ordered history. The
// conversation must exist; an unknown id is NotFound, never an empty list.
func (s *DBStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.messages.GetMessagesByConversationID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return messages, nil
}

// SetModel changes the conversation's model selector. The value is accepted
// as-is; provider capability is not checked here.
func (s *DBStore) SetModel(ctx context.Context, id uuid.UUID, model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("%w: model must not be empty", models.ErrValidation)
	}
	if _, err := s.GetConversation(ctx, id); err != nil {
		return err
	}
	if err := s.convos.UpdateModel(id, model); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	return nil
}

// InsertMessage validates and appends one message, bumps the conversation's
// updated_at and relays the insert to the bus.
func (s *DBStore) InsertMessage(ctx context.Context, conversationID uuid.UUID, role, content, author string) (*models.Message, error) {
	if !models.ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrValidation, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content must not be empty", models.ErrValidation)
	}
	if len(content) > maxContentLen {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", models.ErrValidation, maxContentLen)
	}
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	// insert and publish as a unit: concurrent appends to the same
	// conversation must reach every subscriber in insertion order
	mu := s.appendLock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	msg, err := s.messages.CreateMessage(conversationID, role, content, author)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}

	if err := s.convos.TouchUpdatedAt(conversationID); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conversationID.String()).
			Msg("failed to bump conversation updated_at")
	}

	metrics.BusEventsTotal.Inc()
	s.broker.Publish(bus.Event{ConversationID: conversationID, Message: *msg})
	return msg, nil
}
