package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/chat-gateway/internal/api/middleware"
	"github.com/Rrens/chat-gateway/internal/api/response"
	"github.com/Rrens/chat-gateway/internal/backend"
	"github.com/Rrens/chat-gateway/internal/controller"
	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/Rrens/chat-gateway/internal/ledger"
	"github.com/Rrens/chat-gateway/internal/service"
)

// SSE event names
const (
	EventSnapshot = "snapshot"
	EventDone     = "done"
	EventError    = "error"
)

// ChatHandler relays the session operations as server-sent events
type ChatHandler struct {
	chatService  *service.ChatService
	frameTimeout time.Duration
}

// NewChatHandler creates a new chat handler. A client that does not accept
// an event within frameTimeout is dropped from the stream.
func NewChatHandler(chatService *service.ChatService, frameTimeout time.Duration) *ChatHandler {
	return &ChatHandler{chatService: chatService, frameTimeout: frameTimeout}
}

type sendRequest struct {
	Content   string       `json:"content" validate:"required,max=32000"`
	SessionID string       `json:"session_id" validate:"omitempty,max=64"`
	Mode      backend.Mode `json:"mode" validate:"omitempty,oneof=auto fast pro"`
}

type editRequest struct {
	Content string `json:"content" validate:"required,max=32000"`
}

type donePayload struct {
	SessionID string          `json:"session_id"`
	Snapshot  ledger.Snapshot `json:"snapshot"`
}

// Send posts a user message and streams the reply
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User ID not found")
		return
	}

	var req sendRequest
	if !decode(w, r, &req, false) {
		return
	}

	h.stream(w, r, func(observer ledger.Observer) (*controller.Controller, error) {
		return h.chatService.Send(r.Context(), userID, req.SessionID, req.Content, req.Mode, observer)
	})
}

// Edit replaces a user message and streams the regenerated reply
func (h *ChatHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User ID not found")
		return
	}

	var req editRequest
	if !decode(w, r, &req, false) {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	messageID := chi.URLParam(r, "messageID")
	h.stream(w, r, func(observer ledger.Observer) (*controller.Controller, error) {
		return h.chatService.Edit(r.Context(), userID, sessionID, messageID, req.Content, observer)
	})
}

// Regenerate streams a fresh reply for an assistant message
func (h *ChatHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User ID not found")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	messageID := chi.URLParam(r, "messageID")
	h.stream(w, r, func(observer ledger.Observer) (*controller.Controller, error) {
		return h.chatService.Regenerate(r.Context(), userID, sessionID, messageID, observer)
	})
}

// stream runs op with an observer relaying ledger snapshots. Errors raised
// before the first snapshot are answered as JSON with a status code,
// later ones as a single error event.
func (h *ChatHandler) stream(
	w http.ResponseWriter,
	r *http.Request,
	op func(ledger.Observer) (*controller.Controller, error),
) {
	events, err := response.NewEventWriter(w, h.frameTimeout)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	relay := newSnapshotRelay(events)
	ctrl, err := op(relay.publish)
	relay.close()

	if err != nil {
		if !events.Started() {
			writeOperationError(w, err)
			return
		}
		_ = events.Send(EventError, response.ErrorBody{
			Message: domain.UserMessage(err),
			Code:    domain.ErrorCode(err),
		})
		return
	}

	// identical edits succeed without publishing anything
	snap := ctrl.Ledger().Snapshot()
	_ = events.Send(EventDone, donePayload{
		SessionID: ctrl.SessionID(),
		Snapshot:  snap,
	})
}

func writeOperationError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := domain.UserMessage(err)

	var te *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrOperationInFlight):
		status = http.StatusConflict
		message = "Another request is still in progress for this session."
	case errors.Is(err, domain.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
		message = domain.StatusFallbackMessage(http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrPrecondition):
		status = http.StatusUnprocessableEntity
		message = "The message cannot be changed."
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		message = "Session not found"
	case errors.As(err, &te):
		status = http.StatusBadGateway
		if te.StatusCode >= 400 && te.StatusCode < 500 {
			status = te.StatusCode
		}
	}

	response.Error(w, status, response.ErrorBody{
		Message: message,
		Code:    domain.ErrorCode(err),
	})
}
