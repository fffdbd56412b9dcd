package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-voice-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-voice-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Voice          *handlers.VoiceHandler
	Health         http.Handler
	MetricsHandler http.Handler

	// Twilio webhook verification.
	TwilioAuthToken   string
	PublicBaseURL     string
	ValidateSignature bool

	// Per-caller webhook limit; zero disables it.
	WebhookRatePerSecond float64
	WebhookBurst         int

	AdminAuthSecret string
}

// AdminScope is the scope admin tokens need for the call endpoints.
const AdminScope = "calls:read"

// New creates a chi router with the voice webhooks, health, metrics and the
// admin call inspection endpoints.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/health", cfg.Health)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Voice != nil {
		r.Route("/webhooks/voice", func(wh chi.Router) {
			wh.Use(httpmiddleware.TwilioSignature(cfg.TwilioAuthToken, cfg.PublicBaseURL, cfg.ValidateSignature, cfg.Logger))
			if cfg.WebhookRatePerSecond > 0 {
				wh.Use(httpmiddleware.RateLimit(httpmiddleware.NewRateLimiter(cfg.WebhookRatePerSecond, cfg.WebhookBurst)))
			}
			wh.Post("/incoming", cfg.Voice.Incoming)
			wh.Post("/recording", cfg.Voice.Recording)
			wh.Post("/status", cfg.Voice.Status)
		})

		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret, AdminScope))
			admin.Use(middleware.Timeout(10 * time.Second))
			admin.Get("/calls/{callID}", cfg.Voice.GetCall)
		})
	}

	return r
}
