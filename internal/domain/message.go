package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ProvisionalPrefix marks identifiers assigned locally before the store confirms a message
const ProvisionalPrefix = "temp-"

// Message is a single turn in a session
type Message struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"session_id"`
	Role        MessageRole `json:"role"`
	Content     string      `json:"content"`
	Model       string      `json:"model,omitempty"`
	CreditsUsed float64     `json:"credits_used"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewProvisionalID returns a fresh local-only message identifier
func NewProvisionalID() string {
	return ProvisionalPrefix + uuid.NewString()
}

// IsProvisionalID reports whether id was assigned locally
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// IsProvisional reports whether the message has not been confirmed by the store
func (m Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// Draft is the in-progress assistant reply assembled from a response stream.
// It is never persisted.
type Draft struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Model     string      `json:"model,omitempty"`
	Streaming bool        `json:"streaming"`
}

// NewDraft returns an empty streaming assistant draft
func NewDraft() Draft {
	return Draft{
		ID:        NewProvisionalID(),
		Role:      RoleAssistant,
		Streaming: true,
	}
}

// MessageRepository defines the interface for message storage.
// ListBySession returns messages oldest first.
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	ListBySession(ctx context.Context, sessionID string) ([]Message, error)
}
