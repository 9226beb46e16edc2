package dao

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

// ConversationDAO handles conversation-related database operations
type ConversationDAO struct {
	db *gorm.DB
}

func NewConversationDAO(db *gorm.DB) *ConversationDAO {
	return &ConversationDAO{db: db}
}

// CreateConversation creates a new conversation
func (d *ConversationDAO) CreateConversation(title, model string) (*models.Conversation, error) {
	convo := &models.Conversation{
		ID:    uuid.New(),
		Title: title,
		Model: model,
	}
	if err := d.db.Create(convo).Error; err != nil {
		return nil, err
	}
	return convo, nil
}

// GetConversationByID retrieves a conversation by id
func (d *ConversationDAO) GetConversationByID(id uuid.UUID) (*models.Conversation, error) {
	var convo models.Conversation
	if err := d.db.First(&convo, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &convo, nil
}

// ListConversations retrieves all conversations, most recently updated first
func (d *ConversationDAO) ListConversations() ([]models.Conversation, error) {
	var convos []models.Conversation
	if err := d.db.Order("updated_at DESC").Find(&convos).Error; err != nil {
		return nil, err
	}
	return convos, nil
}

// TouchUpdatedAt bumps the conversation's updated_at after an accepted append
func (d *ConversationDAO) TouchUpdatedAt(id uuid.UUID) error {
	return d.db.Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// UpdateModel changes the conversation's model selector
func (d *ConversationDAO) UpdateModel(id uuid.UUID, model string) error {
	return d.db.Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("model", model).Error
}
