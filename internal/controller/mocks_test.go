package controller

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/chat-gateway/internal/backend"
)

// MockGate mocks the Gate interface
type MockGate struct {
	mock.Mock
}

func (m *MockGate) Check(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockGate) Refresh(ctx context.Context) {
	m.Called(ctx)
}

// fakeBackend replies to every request with a canned stream
type fakeBackend struct {
	mu     sync.Mutex
	chats  []backend.ChatRequest
	edits  []backend.EditRequest
	body   string
	reader io.ReadCloser
	model  string
	err    error
	onChat func(req backend.ChatRequest)
	onEdit func(req backend.EditRequest)
}

func (f *fakeBackend) Chat(ctx context.Context, req backend.ChatRequest) (*backend.Response, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req)
	hook := f.onChat
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if hook != nil {
		hook(req)
	}
	return f.response(), nil
}

func (f *fakeBackend) Edit(ctx context.Context, req backend.EditRequest) (*backend.Response, error) {
	f.mu.Lock()
	f.edits = append(f.edits, req)
	hook := f.onEdit
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if hook != nil {
		hook(req)
	}
	return f.response(), nil
}

func (f *fakeBackend) response() *backend.Response {
	body := f.reader
	if body == nil {
		body = io.NopCloser(strings.NewReader(f.body))
	}
	return &backend.Response{Body: body, Model: f.model}
}

func (f *fakeBackend) requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chats) + len(f.edits)
}
