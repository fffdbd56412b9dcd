package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-voice-booking/cmd/mainconfig"
	"github.com/wolfman30/clinic-voice-booking/internal/calendar"
	"github.com/wolfman30/clinic-voice-booking/internal/callstore"
	appconfig "github.com/wolfman30/clinic-voice-booking/internal/config"
	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/internal/http/handlers"
	"github.com/wolfman30/clinic-voice-booking/internal/nlu"
	"github.com/wolfman30/clinic-voice-booking/internal/notify"
	"github.com/wolfman30/clinic-voice-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-voice-booking/internal/recovery"
	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
	"github.com/wolfman30/clinic-voice-booking/internal/speech"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

// app holds everything the HTTP layer needs plus the resources to release
// on shutdown.
type app struct {
	calls          *dialogue.Service
	health         map[string]handlers.Pinger
	metricsHandler http.Handler
	closers        []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{health: map[string]handlers.Pinger{}}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	metricsHandler, dialogueMetrics := setupMetrics()
	a.metricsHandler = metricsHandler

	var awsCfg *aws.Config
	if mainconfig.AWSEnabled(cfg) {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &loaded
	}

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
		a.health["postgres"] = handlers.PingFunc(pool.Ping)
	}

	cal, err := setupCalendar(ctx, cfg, rules, pool)
	if err != nil {
		return nil, err
	}

	store, rdb := setupSessionStore(cfg, logger)
	if rdb != nil {
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.health["redis"] = handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	llm, closeLLM := setupLLM(ctx, cfg, awsCfg, logger)
	a.closers = append(a.closers, closeLLM)
	notifier := setupNotifier(cfg, awsCfg, logger)

	transcriber, closeSpeech := setupTranscriber(ctx, cfg, logger)
	if closeSpeech != nil {
		a.closers = append(a.closers, closeSpeech)
	}

	engine, err := dialogue.NewEngine(dialogue.Collaborators{
		Extractor: nlu.NewSlotExtractor(llm, rules.Location, logger),
		Emails:    nlu.NewEmailReconstructor(llm, logger),
		YesNo:     nlu.NewYesNoClassifier(llm, logger),
		Calendar:  cal,
		Notifier:  notifier,
	}, dialogue.EngineOptions{
		Rules:      rules,
		MaxRetries: cfg.MaxRetries,
		Suggest: schedule.SuggestOptions{
			Count:       cfg.SuggestionCount,
			HorizonDays: cfg.SuggestionHorizonDays,
		},
		ClinicName:    cfg.ClinicName,
		ClinicEmail:   cfg.ClinicEmail,
		Subject:       cfg.AppointmentSubject,
		NotifyTimeout: cfg.NotifyTimeout,
		Metrics:       dialogueMetrics,
	}, logger)
	if err != nil {
		return nil, err
	}

	opts, err := setupRecovery(cfg, awsCfg, pool, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts, dialogue.WithSessionTimeout(cfg.SessionTimeout))

	a.calls, err = dialogue.NewService(engine, store, transcriber, speech.SaySynthesizer{}, logger, opts...)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func setupMetrics() (http.Handler, *metrics.DialogueMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), metrics.NewDialogueMetrics(registry)
}

func connectPostgresPool(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(dbURL) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres ping failed", "error", err)
		pool.Close()
		return nil
	}
	logger.Info("connected to postgres")
	return pool
}

func setupCalendar(ctx context.Context, cfg *appconfig.Config, rules schedule.Rules, pool *pgxpool.Pool) (dialogue.Calendar, error) {
	switch cfg.CalendarBackend {
	case "postgres":
		if pool == nil {
			return nil, errors.New("CALENDAR_BACKEND=postgres requires a reachable DATABASE_URL")
		}
		return calendar.NewPostgresStore(pool, rules.SlotDuration), nil
	case "google":
		svc, err := calendar.NewGoogleService(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, err
		}
		store, err := calendar.NewGoogleStore(svc, cfg.GoogleCalendarID, rules.Location, rules.SlotDuration,
			calendar.WithClinicAttendee(cfg.ClinicEmail))
		if err != nil {
			return nil, err
		}
		return store, nil
	case "", "memory":
		return calendar.NewMemoryStore(rules.SlotDuration), nil
	default:
		return nil, fmt.Errorf("unknown CALENDAR_BACKEND %q", cfg.CalendarBackend)
	}
}

func setupSessionStore(cfg *appconfig.Config, logger *logging.Logger) (dialogue.SessionStore, *redis.Client) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		logger.Warn("REDIS_ADDR not set; call sessions are kept in memory")
		return callstore.NewMemoryStore(), nil
	}
	opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	ttl := 4 * cfg.SessionTimeout
	if ttl < time.Hour {
		ttl = time.Hour
	}
	return callstore.NewRedisStore(rdb, callstore.WithTTL(ttl)), rdb
}

// setupLLM chains Gemini then Bedrock, whichever are configured. A nil
// completer leaves the nlu components on keyword handling only.
func setupLLM(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (nlu.Completer, func()) {
	var providers []nlu.Completer
	closeFn := func() {}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := nlu.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
		} else {
			providers = append(providers, gemini)
			closeFn = func() { _ = gemini.Close() }
		}
	}
	if awsCfg != nil && strings.TrimSpace(cfg.BedrockModelID) != "" {
		bedrock, err := nlu.NewBedrock(bedrockruntime.NewFromConfig(*awsCfg), cfg.BedrockModelID)
		if err != nil {
			logger.Error("failed to create bedrock client", "error", err)
		} else {
			providers = append(providers, bedrock)
		}
	}
	llm := nlu.Chain(logger, providers...)
	if llm == nil {
		logger.Warn("no LLM configured; slot extraction is disabled")
	}
	return llm, closeFn
}

func setupNotifier(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *notify.Notifier {
	return notify.NewNotifier(logger, mainconfig.EmailSenders(cfg, awsCfg, logger)...)
}

func setupTranscriber(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (dialogue.Transcriber, func()) {
	if strings.TrimSpace(cfg.GoogleCredentialsFile) == "" {
		logger.Warn("GOOGLE_APPLICATION_CREDENTIALS not set; only gathered speech is understood")
		return speech.NewRouter(nil), nil
	}
	client, err := speech.NewGoogleClient(ctx, cfg.GoogleCredentialsFile)
	if err != nil {
		logger.Error("failed to create speech client", "error", err)
		return speech.NewRouter(nil), nil
	}
	fetcher := speech.NewRecordingFetcher(cfg.TwilioAccountSID, cfg.TwilioAuthToken, nil)
	google, err := speech.NewGoogleTranscriber(client, fetcher, speech.GoogleTranscriberConfig{
		LanguageCode: cfg.SpeechLanguage,
		PhraseHints:  cfg.SpeechHints,
	}, logger)
	if err != nil {
		_ = client.Close()
		logger.Error("failed to create transcriber", "error", err)
		return speech.NewRouter(nil), nil
	}
	return speech.NewRouter(google), func() { _ = client.Close() }
}

// setupRecovery wires outcome logging, the manual recovery queue and the
// transcript archive. Each is optional.
func setupRecovery(cfg *appconfig.Config, awsCfg *aws.Config, pool *pgxpool.Pool, logger *logging.Logger) ([]dialogue.ServiceOption, error) {
	var recorders recovery.Recorders
	if pool != nil {
		recorders = append(recorders, recovery.NewPostgresOutcomeLog(pool))
	}
	var opts []dialogue.ServiceOption
	if awsCfg != nil {
		if table := strings.TrimSpace(cfg.OutcomeTable); table != "" {
			dynamo, err := recovery.NewDynamoOutcomeLog(dynamodb.NewFromConfig(*awsCfg), table, 0)
			if err != nil {
				return nil, err
			}
			recorders = append(recorders, dynamo)
		}
		if url := strings.TrimSpace(cfg.RecoveryQueueURL); url != "" {
			queue, err := recovery.NewSQSQueue(sqs.NewFromConfig(*awsCfg), url)
			if err != nil {
				return nil, err
			}
			opts = append(opts, dialogue.WithRecoveryQueue(queue))
		}
		if bucket := strings.TrimSpace(cfg.ArchiveBucket); bucket != "" {
			opts = append(opts, dialogue.WithTranscriptArchiver(recovery.NewS3Archive(mainconfig.NewS3Client(*awsCfg, cfg), bucket, logger)))
		}
	}
	if len(recorders) > 0 {
		opts = append(opts, dialogue.WithOutcomeRecorder(recorders))
	}
	return opts, nil
}
