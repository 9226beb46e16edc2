package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation represents a shared conversation reachable by a stable link id
type Conversation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string    `json:"title"`
	Model     string    `gorm:"not null" json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
