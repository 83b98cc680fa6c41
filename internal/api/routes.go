package api

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/MedGAN-AI/price-pilot/internal/identity"
	"github.com/MedGAN-AI/price-pilot/internal/middleware"
)

// RouterConfig collects everything the HTTP surface needs.
type RouterConfig struct {
	Orchestrator Orchestrator
	Store        Pinger
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Limiter throttles the chat endpoints when set.
	Limiter      *middleware.RateLimiter
	CORSOrigins  []string
	MaxBodyBytes int64
	Conns        *ConnRegistry
	// Frontend serves every path not matched by an API route.
	Frontend http.Handler
	Logger   *slog.Logger
}

// NewRouter builds the chi router for the orchestrator service.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Conns == nil {
		cfg.Conns = NewConnRegistry()
	}
	h := NewHandler(cfg.Orchestrator, cfg.MaxBodyBytes, cfg.Logger)
	h.conns = cfg.Conns
	health := NewHealthHandler(cfg.Store)
	ws := NewChatSocket(cfg.Orchestrator, cfg.Conns, originPatterns(cfg.CORSOrigins), cfg.MaxBodyBytes)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware)

	r.Get("/ready", health.Ready)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.Limiter != nil {
		limit = cfg.Limiter.Middleware
	}

	r.With(limit).Get("/ws/chat", ws.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.With(limit).Post("/chat", h.Chat)
		r.Get("/agents/status", h.AgentsStatus)
		r.Get("/workflows", h.Workflows)
		r.Get("/sessions/{id}/history", h.History)
		r.Delete("/sessions/{id}", h.ResetSession)
	})

	if cfg.Frontend != nil {
		r.Handle("/*", cfg.Frontend)
	}

	return r
}

// originPatterns converts CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
