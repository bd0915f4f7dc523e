package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brightreach/leadpilot/internal/http/handlers"
	httpmiddleware "github.com/brightreach/leadpilot/internal/http/middleware"
	"github.com/brightreach/leadpilot/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Automations        *handlers.AutomationHandler
	Webhooks           *handlers.WebhookHandler
	Cron               *handlers.CronHandler
	TriggerSecret      string
	CronSecret         string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a chi router with all routes configured.
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

	if cfg.Automations != nil {
		r.Route("/automations", func(r chi.Router) {
			r.With(httpmiddleware.RequireBearer(cfg.TriggerSecret)).
				Post("/{key}/trigger", cfg.Automations.Trigger)
			r.With(httpmiddleware.RequireBearer(cfg.TriggerSecret)).
				Patch("/drafts/{runID}", cfg.Automations.ResolveDraft)
		})
	}

	if cfg.Webhooks != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/inbound-lead", cfg.Webhooks.InboundLead)
			r.Post("/twilio", cfg.Webhooks.TwilioSMS)
		})
	}

	if cfg.Cron != nil {
		r.With(httpmiddleware.RequireBearer(cfg.CronSecret)).
			Get("/internal/cron/tick", cfg.Cron.Tick)
	}

	return r
}
