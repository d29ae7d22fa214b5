// Package domain contains core concepts of the chat system.
// This file defines Message records and related rules.
// Messages are immutable once created and never updated or deleted.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a persisted chat record. Exactly one of Room or RecipientID
// is set: a message is either a room broadcast or a direct message.
type Message struct {
	ID          uuid.UUID
	SenderID    string
	Room        string
	RecipientID string
	Body        string
	CreatedAt   time.Time
}

// IsDM reports whether the message is a direct message.
func (m Message) IsDM() bool {
	return m.RecipientID != ""
}
