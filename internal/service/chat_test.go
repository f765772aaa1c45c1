package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/chat-gateway/internal/backend"
	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/Rrens/chat-gateway/internal/ledger"
)

const replyStream = "data: {\"content\":\"Hi\"}\ndata: [DONE]\n"

type mocks struct {
	sessions *MockSessionRepository
	messages *MockMessageRepository
	backend  *MockBackend
	balances *MockBalanceCache
}

func newTestService() (*ChatService, *mocks) {
	m := &mocks{
		sessions: new(MockSessionRepository),
		messages: new(MockMessageRepository),
		backend:  new(MockBackend),
		balances: new(MockBalanceCache),
	}
	return NewChatService(m.sessions, m.messages, m.backend, m.balances), m
}

func TestChatService_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		svc, m := newTestService()
		m.sessions.On("Create", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

		session, err := svc.CreateSession(ctx, "u1", "Trip planning")
		require.NoError(t, err)
		assert.Equal(t, "Trip planning", session.Title)
		assert.Equal(t, "u1", session.UserID)
		assert.NotEmpty(t, session.ID)
		m.sessions.AssertExpectations(t)
	})

	t.Run("default title", func(t *testing.T) {
		svc, m := newTestService()
		m.sessions.On("Create", ctx, mock.AnythingOfType("*domain.Session")).Return(nil)

		session, err := svc.CreateSession(ctx, "u1", "  ")
		require.NoError(t, err)
		assert.Equal(t, domain.DefaultSessionTitle, session.Title)
	})

	t.Run("store error", func(t *testing.T) {
		svc, m := newTestService()
		m.sessions.On("Create", ctx, mock.Anything).Return(errors.New("db down"))

		_, err := svc.CreateSession(ctx, "u1", "x")
		assert.Error(t, err)
	})
}

func TestChatService_ListSessionsClampsLimit(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService()
	m.sessions.On("ListByUser", ctx, "u1", 20, 0).Return([]domain.Session{{ID: "s1"}}, nil)

	sessions, err := svc.ListSessions(ctx, "u1", 500, -3)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	m.sessions.AssertExpectations(t)
}

func TestChatService_DeleteSession(t *testing.T) {
	ctx := context.Background()

	t.Run("owner", func(t *testing.T) {
		svc, m := newTestService()
		m.sessions.On("Get", ctx, "s1").Return(&domain.Session{ID: "s1", UserID: "u1"}, nil)
		m.sessions.On("Delete", ctx, "s1").Return(nil)

		require.NoError(t, svc.DeleteSession(ctx, "u1", "s1"))
		m.sessions.AssertExpectations(t)
	})

	t.Run("other user", func(t *testing.T) {
		svc, m := newTestService()
		m.sessions.On("Get", ctx, "s1").Return(&domain.Session{ID: "s1", UserID: "u2"}, nil)

		err := svc.DeleteSession(ctx, "u1", "s1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		m.sessions.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestChatService_HistoryFromStore(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService()
	m.sessions.On("Get", ctx, "s1").Return(&domain.Session{ID: "s1", UserID: "u1"}, nil)
	m.messages.On("ListBySession", ctx, "s1").Return([]domain.Message{
		{ID: "m1", SessionID: "s1", Role: domain.RoleUser, Content: "hi"},
	}, nil)

	snap, err := svc.History(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.SessionID)
	require.Len(t, snap.Messages, 1)
	assert.Nil(t, snap.Draft)
}

func TestChatService_SendToNewSessionRegistersController(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService()

	var created *domain.Session
	m.balances.On("Get", mock.Anything, "u1").Return(credits(10), nil)
	m.balances.On("Refresh", mock.Anything, "u1").Return(credits(9), nil)
	m.sessions.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).
		Run(func(args mock.Arguments) { created = args.Get(1).(*domain.Session) }).
		Return(nil)
	m.backend.On("Chat", mock.Anything, mock.MatchedBy(func(req backend.ChatRequest) bool {
		return req.Message == "plan a trip" && req.SessionID != ""
	})).Return(streamResponse(replyStream), nil)
	m.messages.On("ListBySession", mock.Anything, mock.Anything).Return([]domain.Message{
		{ID: "m1", Role: domain.RoleUser, Content: "plan a trip"},
		{ID: "m2", Role: domain.RoleAssistant, Content: "Hi"},
	}, nil)

	var frames int
	c, err := svc.Send(ctx, "u1", "", "plan a trip", backend.ModeAuto, func(ledger.Snapshot) { frames++ })
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "plan a trip", created.Title)
	assert.Equal(t, created.ID, c.SessionID())
	assert.Greater(t, frames, 0)

	snap, err := svc.History(ctx, "u1", created.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 2)
	m.sessions.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestChatService_NewSessionIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService()

	started := make(chan string, 1)
	release := make(chan struct{})
	m.balances.On("Get", mock.Anything, "u1").Return(credits(10), nil)
	m.balances.On("Refresh", mock.Anything, "u1").Return(credits(9), nil)
	m.sessions.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).Return(nil)
	m.backend.On("Chat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).
		Run(func(args mock.Arguments) {
			started <- args.Get(1).(backend.ChatRequest).SessionID
			<-release
		}).
		Return(streamResponse(replyStream), nil).Once()
	m.messages.On("ListBySession", mock.Anything, mock.Anything).Return([]domain.Message{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, "u1", "", "first", backend.ModeAuto)
		done <- err
	}()

	sessionID := <-started

	snap, err := svc.History(ctx, "u1", sessionID)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.Messages[0].IsProvisional())

	_, err = svc.Send(ctx, "u1", sessionID, "second", backend.ModeAuto)
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)

	_, err = svc.Regenerate(ctx, "u1", sessionID, "m2")
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)

	close(release)
	require.NoError(t, <-done)

	m.backend.AssertNumberOfCalls(t, "Chat", 1)
	m.sessions.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	assert.NotNil(t, svc.lookup("u1", sessionID))
}

func TestChatService_FailedSessionCreateUnregisters(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService()

	var attempted string
	m.balances.On("Get", mock.Anything, "u1").Return(credits(10), nil)
	m.sessions.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).
		Run(func(args mock.Arguments) { attempted = args.Get(1).(*domain.Session).ID }).
		Return(errors.New("db down"))

	_, err := svc.Send(ctx, "u1", "", "hi", backend.ModeAuto)
	require.Error(t, err)
	require.NotEmpty(t, attempted)
	assert.Nil(t, svc.lookup("u1", attempted))
	m.backend.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestChatService_SendWithoutCredits(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService()
	m.balances.On("Get", mock.Anything, "u1").Return(credits(0), nil)

	_, err := svc.Send(ctx, "u1", "", "hi", backend.ModeAuto)
	assert.ErrorIs(t, err, domain.ErrInsufficientCredits)
	m.backend.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
	m.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestChatService_EditRequiresSession(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Edit(context.Background(), "u1", "", "m1", "new")
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = svc.Regenerate(context.Background(), "u1", "", "m2")
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestChatService_EditForeignSession(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService()
	m.sessions.On("Get", ctx, "s1").Return(&domain.Session{ID: "s1", UserID: "u2"}, nil)

	_, err := svc.Edit(ctx, "u1", "s1", "m1", "new")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChatService_Balance(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService()
	m.balances.On("Get", ctx, "u1").Return(credits(4.5), nil)

	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, balance)
	assert.Equal(t, 4.5, *balance)
}
