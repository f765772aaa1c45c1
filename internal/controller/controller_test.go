package controller

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/chat-gateway/internal/backend"
	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/Rrens/chat-gateway/internal/ledger"
	"github.com/Rrens/chat-gateway/internal/repository/memory"
)

const helloStream = "data: {\"content\":\"Hel\"}\n" + "data: {\"content\":\"lo\"}\n" + "data: [DONE]\n"

type fixture struct {
	store   *memory.Store
	backend *fakeBackend
	gate    *MockGate
	ctrl    *Controller
	drafts  []domain.Draft
	clock   time.Time
}

func newFixture(t *testing.T, sessionID string) *fixture {
	t.Helper()

	f := &fixture{
		store:   memory.NewStore(),
		backend: &fakeBackend{body: helloStream},
		gate:    new(MockGate),
		clock:   time.Now().Add(-time.Hour),
	}
	f.gate.On("Check", mock.Anything).Return(nil).Maybe()
	f.gate.On("Refresh", mock.Anything).Return().Maybe()

	f.ctrl = New("u1", sessionID, f.store.Sessions(), f.store.Messages(), f.backend, f.gate)
	cancel := f.ctrl.Ledger().Subscribe(func(s ledger.Snapshot) {
		if s.Draft != nil {
			f.drafts = append(f.drafts, *s.Draft)
		}
	})
	t.Cleanup(cancel)
	return f
}

// persist appends a confirmed message the way the backend would
func (f *fixture) persist(t *testing.T, sessionID, id string, role domain.MessageRole, content string) {
	t.Helper()
	f.clock = f.clock.Add(time.Second)
	require.NoError(t, f.store.Messages().Create(context.Background(), &domain.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: f.clock,
	}))
}

// seed creates session s1 with one exchange and opens it
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Sessions().Create(context.Background(), &domain.Session{ID: "s1", UserID: "u1", Title: "hi"}))
	f.persist(t, "s1", "u-1", domain.RoleUser, "hi")
	f.persist(t, "s1", "a-1", domain.RoleAssistant, "hello there")
	require.NoError(t, f.ctrl.Open(context.Background()))
}

func assertSettled(t *testing.T, c *Controller) {
	t.Helper()
	snap := c.Ledger().Snapshot()
	assert.Nil(t, snap.Draft)
	for _, m := range snap.Messages {
		assert.False(t, m.IsProvisional(), "provisional message %s left behind", m.ID)
	}
	assert.Equal(t, StateIdle, c.State())
}

func TestController_SendSuccess(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.backend.model = "gpt-4o-mini"
	f.backend.onChat = func(req backend.ChatRequest) {
		f.persist(t, req.SessionID, "u-2", domain.RoleUser, req.Message)
		f.persist(t, req.SessionID, "a-2", domain.RoleAssistant, "Hello")
	}

	err := f.ctrl.Send(context.Background(), "how are you", backend.ModeFast)
	require.NoError(t, err)

	require.Len(t, f.backend.chats, 1)
	assert.Equal(t, backend.ChatRequest{Message: "how are you", SessionID: "s1", Mode: backend.ModeFast}, f.backend.chats[0])

	contents := make([]string, len(f.drafts))
	for i, d := range f.drafts {
		contents[i] = d.Content
	}
	assert.Equal(t, []string{"", "Hel", "Hello"}, contents)
	assert.Equal(t, "gpt-4o-mini", f.drafts[len(f.drafts)-1].Model)

	snap := f.ctrl.Ledger().Snapshot()
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, "a-2", snap.Messages[3].ID)
	assertSettled(t, f.ctrl)
	f.gate.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestController_SendCreatesSession(t *testing.T) {
	f := newFixture(t, "")
	f.backend.onChat = func(req backend.ChatRequest) {
		f.persist(t, req.SessionID, "u-1", domain.RoleUser, req.Message)
		f.persist(t, req.SessionID, "a-1", domain.RoleAssistant, "Hello")
	}

	err := f.ctrl.Send(context.Background(), "Explain the difference between goroutines and threads", "")
	require.NoError(t, err)

	sessionID := f.ctrl.SessionID()
	require.NotEmpty(t, sessionID)
	assert.Equal(t, sessionID, f.backend.chats[0].SessionID)

	session, err := f.store.Sessions().Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, "Explain the difference between...", session.Title)

	assert.Len(t, f.ctrl.Ledger().Snapshot().Messages, 2)
	assertSettled(t, f.ctrl)
}

func TestController_SendEmptyContent(t *testing.T) {
	f := newFixture(t, "s1")

	err := f.ctrl.Send(context.Background(), "   ", backend.ModeAuto)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.True(t, domain.IsSilent(err))
	assert.Zero(t, f.backend.requests())
}

func TestController_SendRejectedWithoutCredits(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	before := f.ctrl.Ledger().Snapshot()

	gate := new(MockGate)
	gate.On("Check", mock.Anything).Return(domain.ErrInsufficientCredits)
	f.ctrl.gate = gate

	err := f.ctrl.Send(context.Background(), "hello", backend.ModeAuto)

	assert.ErrorIs(t, err, domain.ErrGateRejected)
	assert.True(t, domain.IsSilent(err))
	assert.Zero(t, f.backend.requests())
	assert.Equal(t, before, f.ctrl.Ledger().Snapshot())
	gate.AssertNotCalled(t, "Refresh", mock.Anything)
}

func TestController_SendStreamError(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.backend.body = "data: {\"content\":\"Hel\"}\n" +
		"data: {\"type\":\"error\",\"error\":\"The AI service is busy\",\"code\":\"OPENAI_RATE_LIMIT\"}\n"

	err := f.ctrl.Send(context.Background(), "hello", backend.ModeAuto)

	var se *domain.StreamDecodeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, domain.CodeOpenAIRateLimit, se.Code)
	assert.False(t, domain.IsSilent(err))

	snap := f.ctrl.Ledger().Snapshot()
	require.Len(t, snap.Messages, 2, "confirmed history survives")
	assertSettled(t, f.ctrl)
	f.gate.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestController_SendImageMissing(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.backend.body = "data: {\"type\":\"image\"}\n"

	err := f.ctrl.Send(context.Background(), "draw a cat", backend.ModeAuto)

	assert.ErrorIs(t, err, domain.ErrImageMissing)
	assert.Len(t, f.ctrl.Ledger().Snapshot().Messages, 2)
	assertSettled(t, f.ctrl)
	f.gate.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestController_SendImage(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.backend.body = "data: {\"type\":\"status\",\"content\":\"Generating image...\"}\n" +
		"data: {\"type\":\"image\",\"image_url\":\"https://img/cat.png\",\"prompt\":\"a cat\"}\n" +
		"data: [DONE]\n"

	require.NoError(t, f.ctrl.Send(context.Background(), "draw a cat", backend.ModeAuto))

	last := f.drafts[len(f.drafts)-1]
	assert.Equal(t, "![Generated Image](https://img/cat.png)\n\n**Prompt:** a cat", last.Content)
	assert.Equal(t, "dall-e-3", last.Model)
	assertSettled(t, f.ctrl)
}

func TestController_SendTransportError(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.backend.err = &domain.TransportError{StatusCode: 429, Code: domain.CodeRateLimitExceeded, Message: "slow down"}

	err := f.ctrl.Send(context.Background(), "hello", backend.ModeAuto)

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "slow down", te.Message)
	assert.Len(t, f.ctrl.Ledger().Snapshot().Messages, 2)
	assertSettled(t, f.ctrl)
	f.gate.AssertNumberOfCalls(t, "Refresh", 1)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }
func (failingReader) Close() error             { return nil }

func TestController_SendInterruptedStream(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.backend.reader = failingReader{}

	err := f.ctrl.Send(context.Background(), "hello", backend.ModeAuto)

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.CodeNetworkError, te.Code)
	assertSettled(t, f.ctrl)
}

func TestController_SingleFlight(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)

	pr, pw := io.Pipe()
	f.backend.reader = pr

	done := make(chan error, 1)
	go func() {
		done <- f.ctrl.Send(context.Background(), "first", backend.ModeAuto)
	}()

	require.Eventually(t, func() bool {
		return f.ctrl.State() == StateSending && f.backend.requests() == 1
	}, time.Second, time.Millisecond)

	err := f.ctrl.Send(context.Background(), "second", backend.ModeAuto)
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)
	assert.ErrorIs(t, f.ctrl.Regenerate(context.Background(), "a-1"), domain.ErrOperationInFlight)

	_, _ = io.WriteString(pw, helloStream)
	require.NoError(t, pw.Close())
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.backend.requests())
	assertSettled(t, f.ctrl)
}

func TestController_EditIdenticalContent(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)

	err := f.ctrl.Edit(context.Background(), "u-1", "hi")

	assert.NoError(t, err)
	assert.Zero(t, f.backend.requests())
	f.gate.AssertNotCalled(t, "Check", mock.Anything)
}

func TestController_Edit(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.persist(t, "s1", "u-2", domain.RoleUser, "later")
	f.persist(t, "s1", "a-2", domain.RoleAssistant, "later reply")
	require.NoError(t, f.ctrl.Open(context.Background()))

	f.backend.onEdit = func(req backend.EditRequest) {
		f.store.Truncate(req.SessionID, req.MessageID)
		f.persist(t, req.SessionID, "u-3", domain.RoleUser, req.NewContent)
		f.persist(t, req.SessionID, "a-3", domain.RoleAssistant, "Hello")
	}

	err := f.ctrl.Edit(context.Background(), "u-1", "hi again")
	require.NoError(t, err)

	require.Len(t, f.backend.edits, 1)
	assert.Equal(t, backend.EditRequest{MessageID: "u-1", NewContent: "hi again", SessionID: "s1"}, f.backend.edits[0])

	snap := f.ctrl.Ledger().Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hi again", snap.Messages[0].Content)
	assert.Equal(t, "a-3", snap.Messages[1].ID)
	assertSettled(t, f.ctrl)
}

func TestController_EditRejectsNonUserTarget(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)

	err := f.ctrl.Edit(context.Background(), "a-1", "rewritten")
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	err = f.ctrl.Edit(context.Background(), "missing", "rewritten")
	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Zero(t, f.backend.requests())
}

func TestController_EditWithoutSession(t *testing.T) {
	f := newFixture(t, "")
	err := f.ctrl.Edit(context.Background(), "u-1", "x")
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestController_RegenerateFirstMessage(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	before := f.ctrl.Ledger().Snapshot()

	err := f.ctrl.Regenerate(context.Background(), "u-1")

	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.True(t, domain.IsSilent(err))
	assert.Equal(t, before, f.ctrl.Ledger().Snapshot())
	assert.Equal(t, StateIdle, f.ctrl.State())
	assert.Zero(t, f.backend.requests())
}

func TestController_RegenerateAfterAssistant(t *testing.T) {
	f := newFixture(t, "s1")
	require.NoError(t, f.store.Sessions().Create(context.Background(), &domain.Session{ID: "s1", UserID: "u1"}))
	f.persist(t, "s1", "u-1", domain.RoleUser, "hi")
	f.persist(t, "s1", "a-1", domain.RoleAssistant, "welcome")
	f.persist(t, "s1", "a-2", domain.RoleAssistant, "anything else?")
	require.NoError(t, f.ctrl.Open(context.Background()))
	before := f.ctrl.Ledger().Snapshot()

	err := f.ctrl.Regenerate(context.Background(), "a-2")

	assert.ErrorIs(t, err, domain.ErrPrecondition)
	assert.Equal(t, before, f.ctrl.Ledger().Snapshot())
	assert.Zero(t, f.backend.requests())
}

func TestController_Regenerate(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.backend.onEdit = func(req backend.EditRequest) {
		f.store.Truncate(req.SessionID, req.MessageID)
		f.persist(t, req.SessionID, "u-9", domain.RoleUser, req.NewContent)
		f.persist(t, req.SessionID, "a-9", domain.RoleAssistant, "Hello")
	}

	err := f.ctrl.Regenerate(context.Background(), "a-1")
	require.NoError(t, err)

	require.Len(t, f.backend.edits, 1)
	assert.Equal(t, backend.EditRequest{MessageID: "u-1", NewContent: "hi", SessionID: "s1"}, f.backend.edits[0])

	snap := f.ctrl.Ledger().Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "a-9", snap.Messages[1].ID)
	assertSettled(t, f.ctrl)
	f.gate.AssertNumberOfCalls(t, "Refresh", 1)
}

func TestController_SendReloadsAuthoritativeHistory(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)

	// deleting the session makes the reload return nothing
	f.backend.onChat = func(req backend.ChatRequest) {
		require.NoError(t, f.store.Sessions().Delete(context.Background(), "s1"))
	}

	require.NoError(t, f.ctrl.Send(context.Background(), "hello", backend.ModeAuto))
	assert.Empty(t, f.ctrl.Ledger().Snapshot().Messages)
	assertSettled(t, f.ctrl)
}

func TestController_OperationObservers(t *testing.T) {
	f := newFixture(t, "s1")
	f.seed(t)
	f.gate.ExpectedCalls = nil
	f.gate.On("Check", mock.Anything).Return(domain.ErrInsufficientCredits).Once()
	f.gate.On("Check", mock.Anything).Return(nil)
	f.gate.On("Refresh", mock.Anything).Return()

	var seen []ledger.Snapshot
	observer := func(s ledger.Snapshot) { seen = append(seen, s) }

	err := f.ctrl.Send(context.Background(), "rejected", backend.ModeAuto, observer)
	require.ErrorIs(t, err, domain.ErrInsufficientCredits)
	assert.Empty(t, seen, "a rejected operation publishes nothing")

	require.NoError(t, f.ctrl.Send(context.Background(), "accepted", backend.ModeAuto, observer))
	require.NotEmpty(t, seen)
	assert.Equal(t, "accepted", seen[0].Messages[len(seen[0].Messages)-1].Content)
	assert.True(t, seen[0].Messages[len(seen[0].Messages)-1].IsProvisional())

	count := len(seen)
	f.ctrl.Ledger().DiscardDraft()
	_ = f.ctrl.Ledger().Reconcile(context.Background(), "s1")
	assert.Len(t, seen, count, "observers detach when the operation ends")
}

type failingSessions struct {
	domain.SessionRepository
}

func (failingSessions) Create(context.Context, *domain.Session) error {
	return errors.New("disk full")
}

func TestController_SessionHooks(t *testing.T) {
	t.Run("assigned before the session is stored", func(t *testing.T) {
		store := memory.NewStore()
		gate := new(MockGate)
		gate.On("Check", mock.Anything).Return(nil)
		gate.On("Refresh", mock.Anything).Return()

		var assigned string
		var storedFirst bool
		ctrl := New("u1", "", store.Sessions(), store.Messages(), &fakeBackend{body: helloStream}, gate,
			WithSessionHooks(func(id string) {
				assigned = id
				_, err := store.Sessions().Get(context.Background(), id)
				storedFirst = err == nil
			}, func(string) { t.Fatal("session abandoned") }))

		require.NoError(t, ctrl.Send(context.Background(), "hi", backend.ModeAuto))
		assert.NotEmpty(t, assigned)
		assert.False(t, storedFirst)
		assert.Equal(t, assigned, ctrl.SessionID())
	})

	t.Run("abandoned when the store write fails", func(t *testing.T) {
		store := memory.NewStore()
		gate := new(MockGate)
		gate.On("Check", mock.Anything).Return(nil)
		fb := &fakeBackend{body: helloStream}

		var assigned, abandoned string
		ctrl := New("u1", "", failingSessions{store.Sessions()}, store.Messages(), fb, gate,
			WithSessionHooks(
				func(id string) { assigned = id },
				func(id string) { abandoned = id },
			))

		err := ctrl.Send(context.Background(), "hi", backend.ModeAuto)
		require.Error(t, err)
		assert.Equal(t, assigned, abandoned)
		assert.Empty(t, ctrl.SessionID())
		assert.Empty(t, fb.chats)
		assertSettled(t, ctrl)
	})
}
