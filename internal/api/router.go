package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Rrens/chat-gateway/internal/api/handler"
	customMiddleware "github.com/Rrens/chat-gateway/internal/api/middleware"
	"github.com/Rrens/chat-gateway/internal/config"
	"github.com/Rrens/chat-gateway/internal/security"
	"github.com/Rrens/chat-gateway/internal/service"
)

// Deps are the collaborators the router wires into handlers
type Deps struct {
	ChatService *service.ChatService
	RateLimiter customMiddleware.Limiter
	Readiness   map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
	authMiddleware := customMiddleware.NewAuthMiddleware(jwtManager)

	sessionHandler := handler.NewSessionHandler(deps.ChatService)
	chatHandler := handler.NewChatHandler(deps.ChatService, cfg.Server.StreamWriteTimeout)
	balanceHandler := handler.NewBalanceHandler(deps.ChatService)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Readiness))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Get("/balance", balanceHandler.Get)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)
				r.Post("/", sessionHandler.Create)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Delete("/", sessionHandler.Delete)
					r.Get("/messages", sessionHandler.Messages)

					r.Group(func(r chi.Router) {
						useRateLimit(r, cfg, deps.RateLimiter)
						r.Post("/messages/{messageID}/edit", chatHandler.Edit)
						r.Post("/messages/{messageID}/regenerate", chatHandler.Regenerate)
					})
				})
			})

			r.Group(func(r chi.Router) {
				useRateLimit(r, cfg, deps.RateLimiter)
				r.Post("/chat", chatHandler.Send)
			})
		})
	})

	return r
}

// useRateLimit limits the streaming endpoints when a limiter is configured
func useRateLimit(r chi.Router, cfg *config.Config, limiter customMiddleware.Limiter) {
	if !cfg.Security.RateLimit.Enabled || limiter == nil {
		return
	}
	r.Use(customMiddleware.NewRateLimitMiddleware(limiter).Limit)
}
