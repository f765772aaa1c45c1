package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/google/uuid"
)

// Store keeps sessions and messages in process memory.
// It backs local development and tests; nothing survives a restart.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	messages map[string][]domain.Message
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]domain.Session),
		messages: make(map[string][]domain.Message),
	}
}

// Sessions returns the session repository view of the store
func (s *Store) Sessions() domain.SessionRepository {
	return sessionRepository{s}
}

// Messages returns the message repository view of the store
func (s *Store) Messages() domain.MessageRepository {
	return messageRepository{s}
}

// Truncate removes the message with id fromID and everything after it
func (s *Store) Truncate(sessionID, fromID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[sessionID]
	for i, m := range msgs {
		if m.ID == fromID {
			s.messages[sessionID] = msgs[:i:i]
			return
		}
	}
}

type sessionRepository struct {
	s *Store
}

func (r sessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	r.s.sessions[session.ID] = *session
	return nil
}

func (r sessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	session, ok := r.s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

func (r sessionRepository) ListByUser(ctx context.Context, userID string, limit int, offset int) ([]domain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var sessions []domain.Session
	for _, s := range r.s.sessions {
		if s.UserID == userID {
			sessions = append(sessions, s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	if offset >= len(sessions) {
		return []domain.Session{}, nil
	}
	sessions = sessions[offset:]
	if limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (r sessionRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.sessions, id)
	delete(r.s.messages, id)
	return nil
}

type messageRepository struct {
	s *Store
}

func (r messageRepository) Create(ctx context.Context, message *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	r.s.messages[message.SessionID] = append(r.s.messages[message.SessionID], *message)
	if session, ok := r.s.sessions[message.SessionID]; ok {
		session.UpdatedAt = message.CreatedAt
		r.s.sessions[message.SessionID] = session
	}
	return nil
}

func (r messageRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msgs := make([]domain.Message, len(r.s.messages[sessionID]))
	copy(msgs, r.s.messages[sessionID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}
