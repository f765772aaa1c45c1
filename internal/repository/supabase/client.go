package supabase

import (
	"context"
	"fmt"

	"github.com/supabase-community/supabase-go"

	"github.com/Rrens/chat-gateway/internal/config"
)

const (
	sessionsTable = "chat_sessions"
	messagesTable = "chat_messages"
)

// Client wraps the Supabase REST client used by the repositories
type Client struct {
	client *supabase.Client
}

// New creates a new Supabase client
func New(cfg config.SupabaseConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{client: client}, nil
}

// Ping issues a cheap read to confirm the REST endpoint answers
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.client.From(sessionsTable).
		Select("id", "", false).
		Limit(1, "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase ping failed: %w", err)
	}
	return nil
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}
