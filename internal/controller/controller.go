package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chat-gateway/internal/backend"
	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/Rrens/chat-gateway/internal/ledger"
	"github.com/Rrens/chat-gateway/internal/stream"
)

// State is the phase of the controller's current operation
type State int

const (
	StateIdle State = iota
	StateSending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Backend issues streaming requests to the model backend
type Backend interface {
	Chat(ctx context.Context, req backend.ChatRequest) (*backend.Response, error)
	Edit(ctx context.Context, req backend.EditRequest) (*backend.Response, error)
}

// Gate decides whether an operation may start and refreshes the balance afterwards
type Gate interface {
	Check(ctx context.Context) error
	Refresh(ctx context.Context)
}

// Controller runs the mutating operations of one session, one at a time
type Controller struct {
	userID   string
	sessions domain.SessionRepository
	backend  Backend
	gate     Gate
	ledger   *ledger.Ledger

	mu        sync.Mutex
	busy      bool
	state     State
	sessionID string

	onAssigned  func(sessionID string)
	onAbandoned func(sessionID string)
}

// Option configures a Controller
type Option func(*Controller)

// WithSessionHooks reports the id of a session the controller is about to
// create, before it is written to the store, and reports it again through
// abandoned when the write fails.
func WithSessionHooks(assigned, abandoned func(sessionID string)) Option {
	return func(c *Controller) {
		c.onAssigned = assigned
		c.onAbandoned = abandoned
	}
}

// New creates a controller for sessionID, or for a session yet to be
// created on the first Send when sessionID is empty.
func New(
	userID string,
	sessionID string,
	sessions domain.SessionRepository,
	messages domain.MessageRepository,
	be Backend,
	gate Gate,
	opts ...Option,
) *Controller {
	c := &Controller{
		userID:    userID,
		sessions:  sessions,
		backend:   be,
		gate:      gate,
		ledger:    ledger.New(messages),
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ledger returns the visible message list of the session
func (c *Controller) Ledger() *ledger.Ledger {
	return c.ledger
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session id, empty until a session exists
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Open loads the authoritative history of the session into the ledger
func (c *Controller) Open(ctx context.Context) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	sessionID := c.SessionID()
	if sessionID == "" {
		return nil
	}
	return c.ledger.Reconcile(ctx, sessionID)
}

// Send posts a new user message and streams the reply. Observers see every
// snapshot published while the operation holds the controller.
func (c *Controller) Send(ctx context.Context, content string, mode backend.Mode, observers ...ledger.Observer) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty message", domain.ErrPrecondition)
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	defer c.observe(observers)()

	// the operation runs to completion even if the caller goes away
	ctx = context.WithoutCancel(ctx)

	if err := c.gate.Check(ctx); err != nil {
		return err
	}

	sessionID, err := c.ensureSession(ctx, content)
	if err != nil {
		return err
	}

	provisional := c.ledger.AppendProvisional(domain.Message{
		SessionID: sessionID,
		Role:      domain.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	})

	return c.run(ctx, "send", sessionID, provisional.ID, func(ctx context.Context) (*backend.Response, error) {
		return c.backend.Chat(ctx, backend.ChatRequest{
			Message:   content,
			SessionID: sessionID,
			Mode:      mode,
		})
	})
}

// Edit replaces the content of a user message. The backend discards every
// later message and regenerates the reply. Identical content is a no-op.
func (c *Controller) Edit(ctx context.Context, messageID, newContent string, observers ...ledger.Observer) error {
	if strings.TrimSpace(newContent) == "" {
		return fmt.Errorf("%w: empty message", domain.ErrPrecondition)
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	defer c.observe(observers)()

	return c.edit(context.WithoutCancel(ctx), "edit", messageID, newContent, false)
}

// Regenerate produces a fresh reply for an assistant message by resending
// the user message right before it through the edit pathway.
func (c *Controller) Regenerate(ctx context.Context, messageID string, observers ...ledger.Observer) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	defer c.observe(observers)()

	idx, target, ok := c.ledger.Find(messageID)
	if !ok || idx < 1 || target.Role != domain.RoleAssistant {
		return fmt.Errorf("%w: message %s cannot be regenerated", domain.ErrPrecondition, messageID)
	}
	prev, ok := c.ledger.At(idx - 1)
	if !ok || prev.Role != domain.RoleUser {
		return fmt.Errorf("%w: message %s has no preceding user message", domain.ErrPrecondition, messageID)
	}

	// identical content must still go out, so the no-op check is skipped
	return c.edit(context.WithoutCancel(ctx), "regenerate", prev.ID, prev.Content, true)
}

// edit must be called with the operation acquired
func (c *Controller) edit(ctx context.Context, op, messageID, newContent string, force bool) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return fmt.Errorf("%w: no session selected", domain.ErrPrecondition)
	}

	_, target, ok := c.ledger.Find(messageID)
	if !ok || target.Role != domain.RoleUser || target.IsProvisional() {
		return fmt.Errorf("%w: message %s is not an editable user message", domain.ErrPrecondition, messageID)
	}
	if !force && target.Content == newContent {
		return nil
	}

	if err := c.gate.Check(ctx); err != nil {
		return err
	}

	return c.run(ctx, op, sessionID, "", func(ctx context.Context) (*backend.Response, error) {
		return c.backend.Edit(ctx, backend.EditRequest{
			MessageID:  messageID,
			NewContent: newContent,
			SessionID:  sessionID,
		})
	})
}

// run streams one request into the draft and settles the ledger
func (c *Controller) run(
	ctx context.Context,
	op string,
	sessionID string,
	provisionalID string,
	issue func(context.Context) (*backend.Response, error),
) error {
	start := time.Now()
	logger := log.With().Str("op", op).Str("session_id", sessionID).Str("user_id", c.userID).Logger()

	c.setState(StateSending)
	draft := domain.NewDraft()
	c.ledger.PublishDraft(draft)

	err := c.consume(ctx, issue, draft)
	if err == nil {
		c.setState(StateSucceeded)
		reloadErr := c.ledger.Reconcile(ctx, sessionID)
		c.gate.Refresh(ctx)

		if reloadErr != nil {
			logger.Error().Err(reloadErr).Msg("Failed to reload session after operation")
			return reloadErr
		}
		logger.Info().Int64("duration_ms", time.Since(start).Milliseconds()).Msg("Operation completed")
		return nil
	}

	c.setState(StateFailed)
	c.ledger.DiscardDraft()
	if provisionalID != "" {
		c.ledger.RollbackProvisional(provisionalID)
	}
	c.gate.Refresh(ctx)

	logger.Warn().
		Err(err).
		Str("code", domain.ErrorCode(err)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Operation failed")
	return err
}

func (c *Controller) consume(
	ctx context.Context,
	issue func(context.Context) (*backend.Response, error),
	draft domain.Draft,
) error {
	resp, err := issue(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.Model != "" {
		draft.Model = resp.Model
	}

	reducer := stream.NewReducer(draft)
	events := stream.NewReader(resp.Body)
	for {
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &domain.TransportError{
				Code:    domain.CodeNetworkError,
				Message: "The connection was interrupted while receiving the response. Please try again.",
				Err:     err,
			}
		}

		if err := reducer.Apply(ev); err != nil {
			return err
		}
		c.ledger.PublishDraft(reducer.Draft())
	}
}

func (c *Controller) ensureSession(ctx context.Context, content string) (string, error) {
	if id := c.SessionID(); id != "" {
		return id, nil
	}

	id := uuid.NewString()
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	if c.onAssigned != nil {
		c.onAssigned(id)
	}

	now := time.Now()
	session := &domain.Session{
		ID:        id,
		UserID:    c.userID,
		Title:     domain.SessionTitleFromContent(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.sessions.Create(ctx, session); err != nil {
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		if c.onAbandoned != nil {
			c.onAbandoned(id)
		}
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().Str("session_id", session.ID).Str("user_id", c.userID).Msg("Session created")
	return session.ID, nil
}

// observe subscribes observers for the rest of the operation
func (c *Controller) observe(observers []ledger.Observer) func() {
	cancels := make([]func(), 0, len(observers))
	for _, o := range observers {
		cancels = append(cancels, c.ledger.Subscribe(o))
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (c *Controller) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return domain.ErrOperationInFlight
	}
	c.busy = true
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.busy = false
	c.state = StateIdle
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}
