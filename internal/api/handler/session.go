package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/chat-gateway/internal/api/middleware"
	"github.com/Rrens/chat-gateway/internal/api/response"
	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/Rrens/chat-gateway/internal/service"
)

type SessionHandler struct {
	chatService *service.ChatService
}

func NewSessionHandler(chatService *service.ChatService) *SessionHandler {
	return &SessionHandler{chatService: chatService}
}

type createSessionRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// List returns the sessions of the current user
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User ID not found")
		return
	}

	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	sessions, err := h.chatService.ListSessions(r.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(w, "Failed to list sessions")
		return
	}

	response.OK(w, sessions)
}

// Create creates an empty session
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User ID not found")
		return
	}

	var req createSessionRequest
	if !decode(w, r, &req, true) {
		return
	}

	session, err := h.chatService.CreateSession(r.Context(), userID, req.Title)
	if err != nil {
		response.InternalError(w, "Failed to create session")
		return
	}

	response.Created(w, session)
}

// Delete removes a session of the current user
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User ID not found")
		return
	}

	err := h.chatService.DeleteSession(r.Context(), userID, chi.URLParam(r, "sessionID"))
	if errors.Is(err, domain.ErrNotFound) {
		response.NotFound(w, "Session not found")
		return
	}
	if err != nil {
		response.InternalError(w, "Failed to delete session")
		return
	}

	response.NoContent(w)
}

// Messages returns the visible message list of a session
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User ID not found")
		return
	}

	snap, err := h.chatService.History(r.Context(), userID, chi.URLParam(r, "sessionID"))
	if errors.Is(err, domain.ErrNotFound) {
		response.NotFound(w, "Session not found")
		return
	}
	if err != nil {
		response.InternalError(w, "Failed to load messages")
		return
	}

	response.OK(w, snap)
}
