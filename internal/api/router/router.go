// Package router assembles the chi router: REST endpoints, the websocket
// entry point, health, and metrics.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mindhaven/mindhaven-platform/internal/chat"
	"github.com/mindhaven/mindhaven-platform/internal/http/handlers"
	httpmiddleware "github.com/mindhaven/mindhaven-platform/internal/http/middleware"
	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger              *logging.Logger
	ChatHandler         *handlers.ChatHandler
	AppointmentsHandler *handlers.AppointmentsHandler
	WSHandler           *chat.WSHandler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string
}

// New creates a new chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

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

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/chat", func(c chi.Router) {
			if cfg.WSHandler != nil {
				c.Get("/ws", cfg.WSHandler.ServeHTTP)
			}
			c.Post("/session/create", cfg.ChatHandler.CreateSession)
			c.Get("/session/{sessionID}/stats", cfg.ChatHandler.Stats)
			c.Post("/messages", cfg.ChatHandler.PostMessage)
			c.Get("/messages/{sessionID}", cfg.ChatHandler.History)
			c.Post("/therapist/join/{sessionID}", cfg.ChatHandler.TherapistJoin)
			c.Get("/escalations/{sessionID}", cfg.ChatHandler.Escalations)
		})

		if cfg.AppointmentsHandler != nil {
			api.Route("/appointments", func(a chi.Router) {
				a.Get("/", cfg.AppointmentsHandler.List)
				a.Get("/upcoming", cfg.AppointmentsHandler.Upcoming)
				a.Get("/{appointmentID}", cfg.AppointmentsHandler.Get)
				a.Patch("/{appointmentID}", cfg.AppointmentsHandler.UpdateStatus)
			})
		}
	})

	return r
}
