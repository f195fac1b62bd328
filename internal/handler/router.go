// Package handler provides the HTTP and WebSocket API of the sendme server.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/prn-tf/sendme/internal/metrics"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Router wires every endpoint onto a chi mux.
type Router struct {
	authHandler    *AuthHandler
	messageHandler *MessageHandler
	hub            *Hub
	auth           TokenParser
	limiter        *RateLimiter
	health         HealthChecker
	metrics        *metrics.Metrics
	metricsPath    string
	logger         zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	AuthHandler    *AuthHandler
	MessageHandler *MessageHandler
	Hub            *Hub
	TokenParser    TokenParser

	// RateLimiter is optional; nil disables per-user limiting.
	RateLimiter *RateLimiter

	// Health is optional; nil reports healthy unconditionally.
	Health HealthChecker

	// Metrics is optional; nil disables request metrics and the scrape endpoint.
	Metrics     *metrics.Metrics
	MetricsPath string

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	return &Router{
		authHandler:    config.AuthHandler,
		messageHandler: config.MessageHandler,
		hub:            config.Hub,
		auth:           config.TokenParser,
		limiter:        config.RateLimiter,
		health:         config.Health,
		metrics:        config.Metrics,
		metricsPath:    config.MetricsPath,
		logger:         config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(rt.logger))
	r.Use(middleware.Recoverer)
	r.Use(Metrics(rt.metrics))

	r.Get("/health", rt.handleHealth)
	if rt.metrics != nil {
		r.Handle(rt.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", rt.authHandler.Register)
			r.Post("/verify", rt.authHandler.Verify)
			r.Post("/login", rt.authHandler.Login)
			r.Post("/refresh", rt.authHandler.Refresh)
			r.With(rt.protected(false)...).Post("/logout", rt.authHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(rt.protected(false)...)

			r.Get("/me/quota", rt.authHandler.Quota)

			r.Route("/messages", func(r chi.Router) {
				r.Get("/", rt.messageHandler.List)
				r.Post("/text", rt.messageHandler.SendText)
				r.Post("/file", rt.messageHandler.SendFile)
				r.Get("/{id}", rt.messageHandler.Get)
				r.Put("/{id}", rt.messageHandler.EditText)
				r.Get("/{id}/download", rt.messageHandler.Download)
				r.Delete("/{id}", rt.messageHandler.SoftDelete)
				r.Post("/{id}/restore", rt.messageHandler.Restore)
				r.Delete("/{id}/purge", rt.messageHandler.HardDelete)
			})
		})

		if rt.hub != nil {
			r.With(Authenticate(rt.auth, true)).Get("/ws", rt.hub.ServeWS)
		}
	})

	return r
}

func (rt *Router) protected(allowQuery bool) []func(http.Handler) http.Handler {
	mws := []func(http.Handler) http.Handler{Authenticate(rt.auth, allowQuery)}
	if rt.limiter != nil {
		mws = append(mws, rt.limiter.Middleware)
	}
	return mws
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.health.Health(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
