package handler

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/chat-gateway/internal/api/middleware"
	"github.com/Rrens/chat-gateway/internal/api/response"
	"github.com/Rrens/chat-gateway/internal/service"
)

type BalanceHandler struct {
	chatService *service.ChatService
}

func NewBalanceHandler(chatService *service.ChatService) *BalanceHandler {
	return &BalanceHandler{chatService: chatService}
}

// Get returns the cached credit balance of the current user. An unknown
// balance is reported as null.
func (h *BalanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "User ID not found")
		return
	}

	balance, err := h.chatService.Balance(r.Context(), userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to read balance")
	}

	response.OK(w, map[string]any{
		"credits": balance,
	})
}
