package supabase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Rrens/chat-gateway/internal/domain"
)

type sessionRow struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type messageRow struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ModelUsed   *string   `json:"model_used"`
	CreditsUsed *float64  `json:"credits_used"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r messageRow) toDomain() domain.Message {
	m := domain.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      domain.MessageRole(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
	if r.ModelUsed != nil {
		m.Model = *r.ModelUsed
	}
	if r.CreditsUsed != nil {
		m.CreditsUsed = *r.CreditsUsed
	}
	return m
}

// SessionRepository implements domain.SessionRepository over the Supabase REST API
type SessionRepository struct {
	c *Client
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(c *Client) *SessionRepository {
	return &SessionRepository{c: c}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	row := sessionRow{
		ID:        session.ID,
		UserID:    session.UserID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	_, _, err := r.c.client.From(sessionsTable).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	var rows []sessionRow
	_, err := r.c.client.From(sessionsTable).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}

	s := rows[0].toDomain()
	return &s, nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int, offset int) ([]domain.Session, error) {
	var rows []sessionRow
	_, err := r.c.client.From(sessionsTable).
		Select("*", "", false).
		Eq("user_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
	})

	sessions := []domain.Session{}
	for i := offset; i < len(rows) && len(sessions) < limit; i++ {
		sessions = append(sessions, rows[i].toDomain())
	}
	return sessions, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_, _, err := r.c.client.From(sessionsTable).
		Delete("minimal", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// MessageRepository implements domain.MessageRepository over the Supabase REST API
type MessageRepository struct {
	c *Client
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(c *Client) *MessageRepository {
	return &MessageRepository{c: c}
}

func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	row := messageRow{
		ID:          message.ID,
		SessionID:   message.SessionID,
		Role:        string(message.Role),
		Content:     message.Content,
		CreditsUsed: &message.CreditsUsed,
		CreatedAt:   message.CreatedAt,
	}
	if message.Model != "" {
		row.ModelUsed = &message.Model
	}

	_, _, err := r.c.client.From(messagesTable).
		Insert(row, false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	_, _, err = r.c.client.From(sessionsTable).
		Update(map[string]any{"updated_at": message.CreatedAt}, "minimal", "").
		Eq("id", message.SessionID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var rows []messageRow
	_, err := r.c.client.From(messagesTable).
		Select("*", "", false).
		Eq("session_id", sessionID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toDomain())
	}
	return messages, nil
}
