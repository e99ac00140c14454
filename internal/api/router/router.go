// Package router assembles the HTTP surface: the public Chatwoot
// webhook, health and metrics endpoints, and JWT-protected operator
// routes.
package router

import (
	"net/http"

	"github.com/echoposthq/echopost/internal/http/handlers"
	httpmiddleware "github.com/echoposthq/echopost/internal/http/middleware"
	"github.com/echoposthq/echopost/pkg/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ChatwootWebhook    *handlers.ChatwootWebhookHandler
	Admin              *handlers.AdminHandler
	MetricsHandler     http.Handler
	AdminAuthSecret    string
	CORSAllowedOrigins []string

	// WebhookRatePerSecond throttles webhook deliveries per source IP.
	// Chatwoot retries a 429, so throttling delays rather than drops.
	// Zero disables the limiter.
	WebhookRatePerSecond float64
	WebhookBurst         int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhook, health check, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.ChatwootWebhook != nil {
			if cfg.WebhookRatePerSecond > 0 {
				burst := cfg.WebhookBurst
				if burst <= 0 {
					burst = 10
				}
				public.With(httpmiddleware.RateLimit(cfg.WebhookRatePerSecond, burst)).
					Post("/webhooks/chatwoot", cfg.ChatwootWebhook.Handle)
			} else {
				public.Post("/webhooks/chatwoot", cfg.ChatwootWebhook.Handle)
			}
		}
	})

	// Operator routes (protected by JWT)
	if cfg.Admin != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Get("/conversations/{conversationID}", cfg.Admin.GetConversation)
			admin.Get("/orders", cfg.Admin.ListOrders)
			admin.Get("/orders/{orderID}", cfg.Admin.GetOrder)
			admin.Get("/notes", cfg.Admin.ListNotes)
			admin.Post("/sweep", cfg.Admin.RunSweep)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
