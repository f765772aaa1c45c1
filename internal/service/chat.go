package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chat-gateway/internal/backend"
	"github.com/Rrens/chat-gateway/internal/controller"
	"github.com/Rrens/chat-gateway/internal/credit"
	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/Rrens/chat-gateway/internal/ledger"
)

type controllerKey struct {
	userID    string
	sessionID string
}

// ChatService owns the session controllers of all users and the
// session bookkeeping around them
type ChatService struct {
	sessions domain.SessionRepository
	messages domain.MessageRepository
	backend  controller.Backend
	balances credit.Cache

	mu          sync.RWMutex
	controllers map[controllerKey]*controller.Controller
}

// NewChatService creates a new chat service
func NewChatService(
	sessions domain.SessionRepository,
	messages domain.MessageRepository,
	be controller.Backend,
	balances credit.Cache,
) *ChatService {
	return &ChatService{
		sessions:    sessions,
		messages:    messages,
		backend:     be,
		balances:    balances,
		controllers: make(map[controllerKey]*controller.Controller),
	}
}

// ListSessions returns the sessions of a user, most recently active first
func (s *ChatService) ListSessions(ctx context.Context, userID string, limit, offset int) ([]domain.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.sessions.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession creates an empty session
func (s *ChatService) CreateSession(ctx context.Context, userID, title string) (*domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultSessionTitle
	}

	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session owned by userID together with its controller
func (s *ChatService) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.owned(ctx, userID, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.controllers, controllerKey{userID, sessionID})
	s.mu.Unlock()

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	log.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("Session deleted")
	return nil
}

// History returns the visible state of a session. A session with a live
// controller reports its ledger, otherwise the stored messages.
func (s *ChatService) History(ctx context.Context, userID, sessionID string) (ledger.Snapshot, error) {
	if c := s.lookup(userID, sessionID); c != nil {
		return c.Ledger().Snapshot(), nil
	}

	if _, err := s.owned(ctx, userID, sessionID); err != nil {
		return ledger.Snapshot{}, err
	}
	msgs, err := s.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("failed to list messages: %w", err)
	}
	return ledger.Snapshot{SessionID: sessionID, Messages: msgs}, nil
}

// Send posts content to sessionID, or to a new session when sessionID is empty
func (s *ChatService) Send(
	ctx context.Context,
	userID, sessionID, content string,
	mode backend.Mode,
	observers ...ledger.Observer,
) (*controller.Controller, error) {
	c, err := s.controller(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	return c, c.Send(ctx, content, mode, observers...)
}

// Edit replaces a user message of sessionID and streams the new reply
func (s *ChatService) Edit(
	ctx context.Context,
	userID, sessionID, messageID, content string,
	observers ...ledger.Observer,
) (*controller.Controller, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: no session selected", domain.ErrPrecondition)
	}
	c, err := s.controller(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return c, c.Edit(ctx, messageID, content, observers...)
}

// Regenerate streams a fresh reply for an assistant message of sessionID
func (s *ChatService) Regenerate(
	ctx context.Context,
	userID, sessionID, messageID string,
	observers ...ledger.Observer,
) (*controller.Controller, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: no session selected", domain.ErrPrecondition)
	}
	c, err := s.controller(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return c, c.Regenerate(ctx, messageID, observers...)
}

// Balance returns the cached balance of a user, nil when unknown
func (s *ChatService) Balance(ctx context.Context, userID string) (*float64, error) {
	return credit.NewGate(s.balances, userID).Balance(ctx)
}

// controller returns the live controller of a session, opening one when needed.
// An empty sessionID yields a fresh controller that registers itself as soon
// as it picks the id of the session it creates.
func (s *ChatService) controller(ctx context.Context, userID, sessionID string) (*controller.Controller, error) {
	gate := credit.NewGate(s.balances, userID)
	if sessionID == "" {
		var c *controller.Controller
		c = controller.New(userID, "", s.sessions, s.messages, s.backend, gate,
			controller.WithSessionHooks(
				func(id string) { s.register(userID, id, c) },
				func(id string) { s.unregister(userID, id, c) },
			))
		return c, nil
	}

	if c := s.lookup(userID, sessionID); c != nil {
		return c, nil
	}

	if _, err := s.owned(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	c := controller.New(userID, sessionID, s.sessions, s.messages, s.backend, gate)
	if err := c.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	return s.register(userID, sessionID, c), nil
}

func (s *ChatService) lookup(userID, sessionID string) *controller.Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controllers[controllerKey{userID, sessionID}]
}

// register stores c for the session unless a controller is already live,
// and returns the one that owns the session
func (s *ChatService) register(userID, sessionID string, c *controller.Controller) *controller.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := controllerKey{userID, sessionID}
	if existing, ok := s.controllers[key]; ok {
		return existing
	}
	s.controllers[key] = c
	return c
}

func (s *ChatService) unregister(userID, sessionID string, c *controller.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := controllerKey{userID, sessionID}
	if s.controllers[key] == c {
		delete(s.controllers, key)
	}
}

// owned returns the session when it exists and belongs to userID
func (s *ChatService) owned(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return session, nil
}
