// Command recovery-worker drains the manual recovery queue and emails the
// clinic about calls that cancelled an appointment without booking the new one.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-voice-booking/cmd/mainconfig"
	"github.com/wolfman30/clinic-voice-booking/internal/config"
	"github.com/wolfman30/clinic-voice-booking/internal/notify"
	"github.com/wolfman30/clinic-voice-booking/internal/recovery"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.RecoveryQueueURL == "" || cfg.ClinicEmail == "" {
		logger.Error("recovery worker requires RECOVERY_QUEUE_URL and CLINIC_EMAIL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	queue, err := recovery.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.RecoveryQueueURL)
	if err != nil {
		logger.Error("failed to create recovery queue", "error", err)
		os.Exit(1)
	}

	senders := mainconfig.EmailSenders(cfg, &awsCfg, logger)
	if len(senders) == 0 {
		logger.Warn("no email provider configured; recovery emails will only be logged")
	}

	worker := recovery.NewWorker(queue, notify.NewNotifier(logger, senders...), cfg.ClinicEmail, logger).
		WithBatchSize(5).
		WithErrorBackoff(10 * time.Second)

	logger.Info("recovery worker started", "queue", cfg.RecoveryQueueURL)
	worker.Run(ctx)
	logger.Info("recovery worker shutting down")
}
