package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Clinic
	ClinicName            string
	ClinicEmail           string
	ClinicTimezone        string
	ClinicClosedWeekday   string
	ClinicHours           string
	ClinicRestPeriod      string
	SlotDuration          time.Duration
	SuggestionCount       int
	SuggestionHorizonDays int
	AppointmentSubject    string

	// Dialogue
	MaxRetries     int
	SessionTimeout time.Duration
	NotifyTimeout  time.Duration

	// Calendar
	CalendarBackend       string
	DatabaseURL           string
	GoogleCredentialsFile string
	GoogleCalendarID      string

	// Speech
	SpeechLanguage string
	SpeechHints    []string

	// Telephony
	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioValidateSig    bool
	TwilioVoice          string
	TwilioVoiceLanguage  string
	RecordingMaxSeconds  int
	RecordingSilenceSecs int

	WebhookRatePerSecond float64
	WebhookBurst         int

	AdminJWTSecret string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	RecoveryQueueURL    string
	OutcomeTable        string
	ArchiveBucket       string
	SESFromEmail        string
	SESConfigurationSet string

	// LLM
	GeminiAPIKey   string
	GeminiModel    string
	BedrockModelID string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		ClinicName:            getEnv("CLINIC_NAME", "the clinic"),
		ClinicEmail:           getEnv("CLINIC_EMAIL", ""),
		ClinicTimezone:        getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),
		ClinicClosedWeekday:   getEnv("CLINIC_CLOSED_WEEKDAY", "sunday"),
		ClinicHours:           getEnv("CLINIC_HOURS", "10:00-14:00,16:00-19:00"),
		ClinicRestPeriod:      getEnv("CLINIC_REST_PERIOD", "14:00-16:00"),
		SlotDuration:          getEnvAsDuration("SLOT_DURATION", 20*time.Minute),
		SuggestionCount:       getEnvAsInt("SUGGESTION_COUNT", 3),
		SuggestionHorizonDays: getEnvAsInt("SUGGESTION_HORIZON_DAYS", 14),
		AppointmentSubject:    getEnv("APPOINTMENT_SUBJECT", ""),

		MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
		SessionTimeout: getEnvAsDuration("SESSION_TIMEOUT", 5*time.Minute),
		NotifyTimeout:  getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),

		CalendarBackend:       strings.ToLower(strings.TrimSpace(getEnv("CALENDAR_BACKEND", "memory"))),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		GoogleCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", "primary"),

		SpeechLanguage: getEnv("SPEECH_LANGUAGE", "en-IN"),
		SpeechHints:    getEnvAsList("SPEECH_HINTS", []string{"appointment", "reschedule", "cancel", "dot com", "at the rate"}),

		TwilioAccountSID:     getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioValidateSig:    getEnvAsBool("TWILIO_VALIDATE_SIGNATURE", true),
		TwilioVoice:          getEnv("TWILIO_VOICE", "Polly.Aditi"),
		TwilioVoiceLanguage:  getEnv("TWILIO_VOICE_LANGUAGE", "en-IN"),
		RecordingMaxSeconds:  getEnvAsInt("RECORDING_MAX_SECONDS", 15),
		RecordingSilenceSecs: getEnvAsInt("RECORDING_SILENCE_SECONDS", 2),

		WebhookRatePerSecond: getEnvAsFloat("WEBHOOK_RATE_PER_SECOND", 2),
		WebhookBurst:         getEnvAsInt("WEBHOOK_BURST", 10),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		RecoveryQueueURL:    getEnv("RECOVERY_QUEUE_URL", ""),
		OutcomeTable:        getEnv("OUTCOME_TABLE", ""),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", ""),
	}
}

// Rules builds the clinic schedule from the CLINIC_* settings.
func (c *Config) Rules() (schedule.Rules, error) {
	rules := schedule.DefaultRules()
	if c.ClinicTimezone != "" {
		loc, err := time.LoadLocation(c.ClinicTimezone)
		if err != nil {
			return schedule.Rules{}, fmt.Errorf("config: CLINIC_TIMEZONE: %w", err)
		}
		rules.Location = loc
	}
	if c.ClinicClosedWeekday != "" {
		day, err := schedule.ParseWeekday(c.ClinicClosedWeekday)
		if err != nil {
			return schedule.Rules{}, fmt.Errorf("config: CLINIC_CLOSED_WEEKDAY: %w", err)
		}
		rules.ClosedDay = day
	}
	if c.ClinicHours != "" {
		hours, err := schedule.ParseWindows(c.ClinicHours)
		if err != nil {
			return schedule.Rules{}, fmt.Errorf("config: CLINIC_HOURS: %w", err)
		}
		rules.Hours = hours
	}
	if c.ClinicRestPeriod != "" {
		rest, err := schedule.ParseWindow(c.ClinicRestPeriod)
		if err != nil {
			return schedule.Rules{}, fmt.Errorf("config: CLINIC_REST_PERIOD: %w", err)
		}
		rules.Rest = rest
	}
	if c.SlotDuration > 0 {
		rules.SlotDuration = c.SlotDuration
	}
	return rules, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
