package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chat-gateway/internal/api"
	"github.com/Rrens/chat-gateway/internal/api/handler"
	customMiddleware "github.com/Rrens/chat-gateway/internal/api/middleware"
	"github.com/Rrens/chat-gateway/internal/backend"
	"github.com/Rrens/chat-gateway/internal/config"
	"github.com/Rrens/chat-gateway/internal/credit"
	"github.com/Rrens/chat-gateway/internal/logging"
	"github.com/Rrens/chat-gateway/internal/repository"
	"github.com/Rrens/chat-gateway/internal/repository/memory"
	"github.com/Rrens/chat-gateway/internal/repository/redis"
	"github.com/Rrens/chat-gateway/internal/service"
)

func main() {
	// Load .env file - try multiple locations
	envPaths := []string{".env", "../.env", "../../.env"}
	envLoaded := false
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			envLoaded = true
			break
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(cfg.Logging, os.Getenv("ENV") == "production"); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if !envLoaded {
		log.Debug().Msg(".env file not found in any standard location")
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("store", cfg.Store.Driver).
		Str("backend", cfg.Backend.BaseURL).
		Msg("Starting chat gateway")

	ctx := context.Background()

	// Initialize store
	store, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	// Backend client forwards the caller's token
	backendClient := backend.NewClient(cfg.Backend, backend.ContextCredentials{})

	readiness := map[string]handler.Pinger{"store": store}

	// Balance cache and rate limiter live in Redis when configured
	var balances credit.Cache
	var limiter customMiddleware.Limiter
	if cfg.Redis.Enabled() {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()

		balances = redis.NewBalanceCache(redisClient, backendClient, cfg.Redis.BalanceTTL)
		limiter = redis.NewRateLimiter(redisClient, cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
		readiness["redis"] = redisClient
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("Connected to Redis")
	} else {
		balances = memory.NewBalanceCache(backendClient, cfg.Redis.BalanceTTL)
		limiter = memory.NewRateLimiter(cfg.Security.RateLimit.RequestsPerMinute, cfg.Security.RateLimit.Burst)
	}

	chatService := service.NewChatService(store.Sessions, store.Messages, backendClient, balances)

	// Initialize router
	router := api.NewRouter(cfg, api.Deps{
		ChatService: chatService,
		RateLimiter: limiter,
		Readiness:   readiness,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
