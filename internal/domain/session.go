package domain

import (
	"context"
	"time"
)

// Session is a named conversation owned by a single user
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultSessionTitle is used when a session is created without a title
const DefaultSessionTitle = "New Chat"

// SessionTitleFromContent derives a session title from the first message
func SessionTitleFromContent(content string) string {
	runes := []rune(content)
	if len(runes) > 30 {
		return string(runes[:30]) + "..."
	}
	if len(runes) == 0 {
		return DefaultSessionTitle
	}
	return content
}

// SessionRepository defines the interface for session storage
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListByUser(ctx context.Context, userID string, limit int, offset int) ([]Session, error)
	Delete(ctx context.Context, id string) error
}
