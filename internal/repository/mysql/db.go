package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/Rrens/chat-gateway/internal/config"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
		id         VARCHAR(36)  NOT NULL PRIMARY KEY,
		user_id    VARCHAR(64)  NOT NULL,
		title      VARCHAR(255) NOT NULL,
		created_at BIGINT       NOT NULL,
		updated_at BIGINT       NOT NULL,
		INDEX idx_chat_sessions_user (user_id, updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id           VARCHAR(36)  NOT NULL PRIMARY KEY,
		session_id   VARCHAR(36)  NOT NULL,
		role         VARCHAR(16)  NOT NULL,
		content      MEDIUMTEXT   NOT NULL,
		model_used   VARCHAR(128) NOT NULL DEFAULT '',
		credits_used DOUBLE       NOT NULL DEFAULT 0,
		created_at   BIGINT       NOT NULL,
		INDEX idx_chat_messages_session (session_id, created_at),
		CONSTRAINT fk_chat_messages_session FOREIGN KEY (session_id)
			REFERENCES chat_sessions (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// DB wraps a MySQL connection pool holding sessions and messages
type DB struct {
	db *sql.DB
}

// Open connects to MySQL and creates the tables when missing
func Open(ctx context.Context, cfg config.MySQLConfig) (*DB, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &DB{db: db}, nil
}

// DB returns the underlying handle
func (d *DB) DB() *sql.DB {
	return d.db
}

// Ping verifies database connectivity
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the connection pool
func (d *DB) Close() error {
	return d.db.Close()
}
