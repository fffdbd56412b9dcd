package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-voice-booking/internal/api/router"
	appconfig "github.com/wolfman30/clinic-voice-booking/internal/config"
	"github.com/wolfman30/clinic-voice-booking/internal/http/handlers"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic voice booking API",
		"env", cfg.Env,
		"port", cfg.Port,
		"calendar_backend", cfg.CalendarBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(&router.Config{
			Logger: logger,
			Voice: handlers.NewVoiceHandler(app.calls, handlers.VoiceConfig{
				PublicBaseURL:     cfg.PublicBaseURL,
				Voice:             cfg.TwilioVoice,
				Language:          cfg.TwilioVoiceLanguage,
				MaxRecordSeconds:  cfg.RecordingMaxSeconds,
				SilenceTimeoutSec: cfg.RecordingSilenceSecs,
			}, logger),
			Health:               handlers.Health(app.health),
			MetricsHandler:       app.metricsHandler,
			TwilioAuthToken:      cfg.TwilioAuthToken,
			PublicBaseURL:        cfg.PublicBaseURL,
			ValidateSignature:    cfg.TwilioValidateSig,
			WebhookRatePerSecond: cfg.WebhookRatePerSecond,
			WebhookBurst:         cfg.WebhookBurst,
			AdminAuthSecret:      cfg.AdminJWTSecret,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
