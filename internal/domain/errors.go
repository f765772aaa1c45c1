package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared with the model backend
const (
	CodeRateLimitExceeded          = "RATE_LIMIT_EXCEEDED"
	CodeConcurrentRequestsExceeded = "CONCURRENT_REQUESTS_EXCEEDED"
	CodeInsufficientCredits        = "INSUFFICIENT_CREDITS"
	CodeOpenAIRateLimit            = "OPENAI_RATE_LIMIT"
	CodeOpenAIAPIError             = "OPENAI_API_ERROR"
	CodeImageGenerationError       = "IMAGE_GENERATION_ERROR"
	CodeInternalServerError        = "INTERNAL_SERVER_ERROR"
	CodeValidationError            = "VALIDATION_ERROR"
	CodeUnauthorized               = "UNAUTHORIZED"
	CodeNotFound                   = "NOT_FOUND"
	CodeNetworkError               = "NETWORK_ERROR"
	CodeOperationInFlight          = "OPERATION_IN_FLIGHT"
)

var (
	// ErrGateRejected is returned when an operation is refused before any request is made
	ErrGateRejected = errors.New("operation rejected")

	ErrInsufficientCredits = fmt.Errorf("%w: insufficient credits", ErrGateRejected)
	ErrOperationInFlight   = fmt.Errorf("%w: another operation is in flight", ErrGateRejected)

	// ErrPrecondition is returned when the target of an operation is missing or unsuitable
	ErrPrecondition = errors.New("operation precondition not met")

	// ErrImageMissing is returned when an image event carries no URL
	ErrImageMissing = errors.New("no image url in response")

	ErrNotFound = errors.New("not found")
)

// TransportError is a non-success response from the model backend or a failure to reach it
type TransportError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport error: %s", e.Message)
	}
	return fmt.Sprintf("transport error: %d - %s", e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusFallbackMessage is the message used when an error response has no readable body
func StatusFallbackMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "Please sign in again to continue."
	case http.StatusPaymentRequired:
		return "Insufficient credits. Please purchase more credits to continue."
	case http.StatusForbidden:
		return "You don't have permission to perform this action."
	case http.StatusNotFound:
		return "The requested resource was not found."
	case http.StatusTooManyRequests:
		return "You've reached the rate limit. Please wait a moment before making another request."
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "The AI service is temporarily unavailable. Please try again in a few moments."
	default:
		return fmt.Sprintf("Request failed with status %d", status)
	}
}

// StreamDecodeError is an error record delivered inside an otherwise successful stream
type StreamDecodeError struct {
	Message string
	Code    string
}

func (e *StreamDecodeError) Error() string {
	if e.Code == "" {
		return "stream error: " + e.Message
	}
	return fmt.Sprintf("stream error: %s (%s)", e.Message, e.Code)
}

// IsSilent reports whether err should be swallowed instead of shown to the user
func IsSilent(err error) bool {
	return errors.Is(err, ErrGateRejected) || errors.Is(err, ErrPrecondition)
}

// ErrorCode returns the error code carried by err, or a generic one
func ErrorCode(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		if te.Code != "" {
			return te.Code
		}
		if te.StatusCode == 0 {
			return CodeNetworkError
		}
		return CodeInternalServerError
	}

	var se *StreamDecodeError
	if errors.As(err, &se) && se.Code != "" {
		return se.Code
	}

	switch {
	case errors.Is(err, ErrImageMissing):
		return CodeImageGenerationError
	case errors.Is(err, ErrInsufficientCredits):
		return CodeInsufficientCredits
	case errors.Is(err, ErrOperationInFlight):
		return CodeOperationInFlight
	case errors.Is(err, ErrPrecondition):
		return CodeValidationError
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	}
	return CodeInternalServerError
}

// UserMessage returns the text to show for a surfaced error
func UserMessage(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Message
	}
	var se *StreamDecodeError
	if errors.As(err, &se) {
		return se.Message
	}
	if errors.Is(err, ErrImageMissing) {
		return "We couldn't generate the image. Please check your prompt and try again."
	}
	return "An unexpected error occurred. Please try again in a few moments."
}
