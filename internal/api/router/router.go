package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-booking-assistant/internal/booking"
	"github.com/wolfman30/clinic-booking-assistant/internal/calllog"
	"github.com/wolfman30/clinic-booking-assistant/internal/channels/voice"
	"github.com/wolfman30/clinic-booking-assistant/internal/channels/webchat"
	"github.com/wolfman30/clinic-booking-assistant/internal/channels/whatsapp"
	"github.com/wolfman30/clinic-booking-assistant/internal/clinic"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	httpmiddleware "github.com/wolfman30/clinic-booking-assistant/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-assistant/internal/reminders"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// Config holds router configuration. Nil handlers are not mounted.
type Config struct {
	Logger      *logging.Logger
	Environment string
	// Services is reported by /health as the configured integrations.
	Services map[string]bool

	AdminAuthSecret    string
	CORSAllowedOrigins string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MetricsHandler     http.Handler

	Voice           *voice.Handler
	WhatsApp        *whatsapp.Webhook
	WebChat         *webchat.Handler
	Appointments    *booking.Handler
	Reminders       *reminders.Handler
	CallLogs        *calllog.Handler
	ClinicDashboard *clinic.DashboardHandler
	Jobs            *conversation.JobHandler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.CORSAllowedOrigins != "" {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Provider webhooks and probes. Providers retry on 429, so no rate limit here.
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.Environment, cfg.Services))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Voice != nil {
			cfg.Voice.RegisterRoutes(public)
		}
		if cfg.WhatsApp != nil {
			cfg.WhatsApp.RegisterRoutes(public)
		}
	})

	// Browser-facing surface.
	r.Group(func(api chi.Router) {
		if cfg.RateLimitRequests > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}
		if cfg.WebChat != nil {
			cfg.WebChat.RegisterRoutes(api)
		}
		if cfg.AdminAuthSecret == "" {
			return
		}
		api.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			scoped := admin.With(httpmiddleware.RequireClinicAccess)
			if cfg.Appointments != nil {
				cfg.Appointments.RegisterRoutes(scoped)
			}
			if cfg.Reminders != nil {
				cfg.Reminders.RegisterRoutes(scoped)
			}
			if cfg.CallLogs != nil {
				cfg.CallLogs.RegisterRoutes(scoped)
			}
			if cfg.ClinicDashboard != nil {
				scoped.Get("/clinics/{clinicID}/dashboard", cfg.ClinicDashboard.GetDashboard)
			}
			if cfg.Jobs != nil {
				admin.Get("/jobs/{jobID}", cfg.Jobs.GetJob)
			}
		})
	})

	return r
}
