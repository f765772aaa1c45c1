package response

import (
	"encoding/json"
	"net/http"

	"github.com/Rrens/chat-gateway/internal/domain"
)

// Response is the envelope of every JSON answer
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries a user-facing message and the error code shared with the
// model backend. Stream error events use the same shape.
type ErrorBody struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func write(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// JSON sends a successful response with data
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{Success: status >= 200 && status < 300, Data: data})
}

// Error sends an error response
func Error(w http.ResponseWriter, status int, body ErrorBody) {
	write(w, status, Response{Error: &body})
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response with data
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response with data
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// BadRequest sends a 400 with a validation error
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrorBody{Message: message, Code: domain.CodeValidationError})
}

// InvalidFields sends a 400 listing the rejected request fields
func InvalidFields(w http.ResponseWriter, fields map[string]string) {
	Error(w, http.StatusBadRequest, ErrorBody{
		Message: "request validation failed",
		Code:    domain.CodeValidationError,
		Fields:  fields,
	})
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, ErrorBody{Message: message, Code: domain.CodeUnauthorized})
}

// NotFound sends a 404 Not Found response
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrorBody{Message: message, Code: domain.CodeNotFound})
}

// TooManyRequests sends a 429 from the gateway's own rate limiter
func TooManyRequests(w http.ResponseWriter) {
	Error(w, http.StatusTooManyRequests, ErrorBody{
		Message: domain.StatusFallbackMessage(http.StatusTooManyRequests),
		Code:    domain.CodeRateLimitExceeded,
	})
}

// Unavailable sends a 503 Service Unavailable response
func Unavailable(w http.ResponseWriter, message string) {
	Error(w, http.StatusServiceUnavailable, ErrorBody{Message: message, Code: domain.CodeInternalServerError})
}

// InternalError sends a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, ErrorBody{Message: message, Code: domain.CodeInternalServerError})
}
