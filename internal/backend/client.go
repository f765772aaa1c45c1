package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Rrens/chat-gateway/internal/config"
	"github.com/Rrens/chat-gateway/internal/domain"
)

// Mode selects how the backend routes a message to a model
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeFast Mode = "fast"
	ModePro  Mode = "pro"
)

// Valid reports whether m is a known routing mode
func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModeFast, ModePro:
		return true
	}
	return false
}

const (
	chatPath    = "/api/chat"
	editPath    = "/api/chat/edit"
	balancePath = "/api/user/balance"

	maxErrorBody = 64 << 10
)

// ChatRequest sends a new user message
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Mode      Mode   `json:"mode,omitempty"`
}

// EditRequest replaces a user message and regenerates everything after it
type EditRequest struct {
	MessageID  string `json:"message_id"`
	NewContent string `json:"new_content"`
	SessionID  string `json:"session_id"`
}

// Response is an accepted streaming response. The caller must close Body.
type Response struct {
	Body        io.ReadCloser
	Model       string
	RouteMode   string
	CreditsUsed float64
}

// Client talks to the model backend over HTTP
type Client struct {
	baseURL     string
	client      *http.Client
	credentials CredentialProvider
	timeout     time.Duration
}

// NewClient creates a backend client.
// cfg.Timeout bounds the wait for response headers, never the stream itself.
func NewClient(cfg config.BackendConfig, credentials CredentialProvider) *Client {
	if credentials == nil {
		credentials = ContextCredentials{}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		client:      &http.Client{Transport: transport},
		credentials: credentials,
		timeout:     cfg.Timeout,
	}
}

// Chat issues a send request and returns the open response stream
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	if req.Mode == "" {
		req.Mode = ModeAuto
	}
	return c.stream(ctx, chatPath, req)
}

// Edit issues an edit request and returns the open response stream
func (c *Client) Edit(ctx context.Context, req EditRequest) (*Response, error) {
	return c.stream(ctx, editPath, req)
}

type balanceResponse struct {
	Credits float64 `json:"credits"`
}

// Balance fetches the authoritative credit balance of the current principal
func (c *Client) Balance(ctx context.Context) (float64, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(ctx, http.MethodGet, balancePath, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, transportError(resp)
	}

	var br balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return 0, fmt.Errorf("failed to decode balance: %w", err)
	}
	return br.Credits, nil
}

func (c *Client) stream(ctx context.Context, path string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, networkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, transportError(resp)
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &domain.TransportError{
			StatusCode: resp.StatusCode,
			Code:       domain.CodeInternalServerError,
			Message:    "The server returned an empty response. Please try again.",
		}
	}

	credits, _ := strconv.ParseFloat(resp.Header.Get("X-Credits-Used"), 64)
	return &Response{
		Body:        resp.Body,
		Model:       resp.Header.Get("X-Model-Used"),
		RouteMode:   resp.Header.Get("X-Route-Mode"),
		CreditsUsed: credits,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token := c.credentials.Token(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

func networkError(err error) error {
	return &domain.TransportError{
		Code:    domain.CodeNetworkError,
		Message: "Network connection issue. Please check your internet connection and try again.",
		Err:     err,
	}
}

// transportError derives the error for a non-success response: structured
// JSON body first, then the raw body text, then a per-status fallback.
func transportError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg, code := parseErrorBody(raw)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = domain.StatusFallbackMessage(resp.StatusCode)
	}
	if h := resp.Header.Get("X-Error-Code"); h != "" {
		code = h
	}

	return &domain.TransportError{
		StatusCode: resp.StatusCode,
		Code:       code,
		Message:    msg,
	}
}

func parseErrorBody(raw []byte) (string, string) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", ""
	}

	code, _ := body["code"].(string)
	for _, key := range []string{"detail", "error", "message"} {
		if msg, c := messageFrom(body[key]); msg != "" {
			if code == "" {
				code = c
			}
			return msg, code
		}
	}
	return "", code
}

// messageFrom handles detail values shaped as a string, an object or a list of validation errors
func messageFrom(v any) (string, string) {
	switch val := v.(type) {
	case string:
		return val, ""
	case map[string]any:
		code, _ := val["code"].(string)
		for _, key := range []string{"message", "error", "msg", "detail"} {
			if msg, ok := val[key].(string); ok && msg != "" {
				return msg, code
			}
		}
	case []any:
		if len(val) > 0 {
			return messageFrom(val[0])
		}
	}
	return "", ""
}
