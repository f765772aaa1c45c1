package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/Rrens/chat-gateway/internal/domain"
)

// Snapshot is the visible state of a session: confirmed and provisional
// messages in order, followed by the draft reply when one is streaming.
type Snapshot struct {
	SessionID string           `json:"session_id,omitempty"`
	Messages  []domain.Message `json:"messages"`
	Draft     *domain.Draft    `json:"draft,omitempty"`
	Version   uint64           `json:"version"`
}

// Observer receives a copy of the snapshot after every mutation.
// Observers run synchronously in mutation order and must not call back into the ledger.
type Observer func(Snapshot)

// Ledger keeps the message list of one session consistent across
// optimistic writes and authoritative reloads.
type Ledger struct {
	messages domain.MessageRepository

	mu        sync.Mutex
	sessionID string
	entries   []domain.Message
	draft     *domain.Draft
	version   uint64
	observers map[int]Observer
	nextID    int
}

// New creates an empty ledger that reloads from messages
func New(messages domain.MessageRepository) *Ledger {
	return &Ledger{
		messages:  messages,
		observers: make(map[int]Observer),
	}
}

// AppendProvisional adds a locally created message at the tail.
// A message without a provisional identifier is given one.
func (l *Ledger) AppendProvisional(msg domain.Message) domain.Message {
	if !msg.IsProvisional() {
		msg.ID = domain.NewProvisionalID()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, msg)
	l.notify()
	return msg
}

// PublishDraft makes draft the trailing visible entry
func (l *Ledger) PublishDraft(draft domain.Draft) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.draft = &draft
	l.notify()
}

// DiscardDraft removes the draft without touching the message list
func (l *Ledger) DiscardDraft() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.draft == nil {
		return
	}
	l.draft = nil
	l.notify()
}

// RollbackProvisional removes the provisional entry with the given id.
// Confirmed messages are never removed.
func (l *Ledger) RollbackProvisional(id string) bool {
	if !domain.IsProvisionalID(id) {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for i, m := range l.entries {
		if m.ID == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			l.notify()
			return true
		}
	}
	return false
}

// Reconcile drops the draft and replaces the message list with the
// authoritative history of sessionID. When the reload fails, provisional
// entries are still retired and the last confirmed messages are kept.
func (l *Ledger) Reconcile(ctx context.Context, sessionID string) error {
	msgs, err := l.messages.ListBySession(ctx, sessionID)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.draft = nil
	if err != nil {
		if l.sessionID == sessionID {
			l.entries = confirmed(l.entries)
		} else {
			l.entries = nil
		}
		l.sessionID = sessionID
		l.notify()
		return fmt.Errorf("failed to reload session messages: %w", err)
	}

	l.sessionID = sessionID
	l.entries = confirmed(msgs)
	l.notify()
	return nil
}

// Find returns the position and value of the message with the given id
func (l *Ledger) Find(id string) (int, domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, m := range l.entries {
		if m.ID == id {
			return i, m, true
		}
	}
	return -1, domain.Message{}, false
}

// At returns the message at position i
func (l *Ledger) At(i int) (domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i < 0 || i >= len(l.entries) {
		return domain.Message{}, false
	}
	return l.entries[i], true
}

// Snapshot returns a copy of the current visible state
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.snapshot()
}

// Subscribe registers o and returns a function that removes it
func (l *Ledger) Subscribe(o Observer) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	l.observers[id] = o

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.observers, id)
	}
}

// notify must be called with mu held
func (l *Ledger) notify() {
	l.version++
	if len(l.observers) == 0 {
		return
	}
	snap := l.snapshot()
	for _, o := range l.observers {
		o(snap)
	}
}

func (l *Ledger) snapshot() Snapshot {
	snap := Snapshot{
		SessionID: l.sessionID,
		Messages:  make([]domain.Message, len(l.entries)),
		Version:   l.version,
	}
	copy(snap.Messages, l.entries)
	if l.draft != nil {
		d := *l.draft
		snap.Draft = &d
	}
	return snap
}

func confirmed(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.IsProvisional() {
			out = append(out, m)
		}
	}
	return out
}
