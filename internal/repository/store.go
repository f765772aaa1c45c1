package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/chat-gateway/internal/config"
	"github.com/Rrens/chat-gateway/internal/domain"
	"github.com/Rrens/chat-gateway/internal/repository/memory"
	"github.com/Rrens/chat-gateway/internal/repository/mongo"
	"github.com/Rrens/chat-gateway/internal/repository/mysql"
	"github.com/Rrens/chat-gateway/internal/repository/postgres"
	"github.com/Rrens/chat-gateway/internal/repository/sqlite"
	"github.com/Rrens/chat-gateway/internal/repository/sqlstore"
	"github.com/Rrens/chat-gateway/internal/repository/supabase"
)

// Store bundles the repositories of one configured backend
type Store struct {
	Sessions domain.SessionRepository
	Messages domain.MessageRepository

	ping  func(ctx context.Context) error
	close func() error
}

// Ping verifies the underlying store is reachable
func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the underlying store
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Open creates the store selected by cfg.Store.Driver
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		log.Info().Str("host", cfg.Database.Host).Msg("Connected to PostgreSQL")
		return &Store{
			Sessions: postgres.NewSessionRepository(db.Pool),
			Messages: postgres.NewMessageRepository(db.Pool),
			ping:     db.Ping,
			close:    db.Close,
		}, nil

	case config.StoreSupabase:
		client, err := supabase.New(cfg.Supabase)
		if err != nil {
			return nil, err
		}
		log.Info().Str("url", cfg.Supabase.URL).Msg("Using Supabase store")
		return &Store{
			Sessions: supabase.NewSessionRepository(client),
			Messages: supabase.NewMessageRepository(client),
			ping:     client.Ping,
			close:    client.Close,
		}, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("Opened SQLite store")
		return &Store{
			Sessions: sqlstore.NewSessionRepository(db.DB()),
			Messages: sqlstore.NewMessageRepository(db.DB()),
			ping:     db.Ping,
			close:    db.Close,
		}, nil

	case config.StoreMySQL:
		db, err := mysql.Open(ctx, cfg.MySQL)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Connected to MySQL")
		return &Store{
			Sessions: sqlstore.NewSessionRepository(db.DB()),
			Messages: sqlstore.NewMessageRepository(db.DB()),
			ping:     db.Ping,
			close:    db.Close,
		}, nil

	case config.StoreMongo:
		db, err := mongo.Open(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		log.Info().Str("database", cfg.Mongo.Database).Msg("Connected to MongoDB")
		return &Store{
			Sessions: mongo.NewSessionRepository(db),
			Messages: mongo.NewMessageRepository(db),
			ping:     db.Ping,
			close:    db.Close,
		}, nil

	case config.StoreMemory:
		log.Warn().Msg("Using in-memory store, sessions will not survive a restart")
		mem := memory.NewStore()
		return &Store{
			Sessions: mem.Sessions(),
			Messages: mem.Messages(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
