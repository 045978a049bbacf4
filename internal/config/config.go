package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	LogLevel       string
	FrontendURL    string
	AdminJWTSecret string
	DatabaseURL    string

	// Conversation
	SessionBackend       string
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration
	Classifier           string
	LLMProvider          string
	LLMFallbackProvider  string
	BedrockModelID       string
	GeminiAPIKey         string
	GeminiModel          string
	DefaultClinicID      string
	DefaultCountryCode   string

	// Chat turn queue and job tracking
	UseMemoryQueue        bool
	WorkerCount           int
	ConversationQueueURL  string
	ConversationJobsTable string

	// Booking and reminders
	AppointmentDuration  time.Duration
	BookingSafetyMargin  time.Duration
	BookingLockTTL       time.Duration
	ReminderLeadTime     time.Duration
	ReminderPollInterval time.Duration
	ReminderBatchSize    int
	OutboxPollInterval   time.Duration
	// InlineSchedulers runs the reminder dispatcher and outbox deliverer
	// inside the API process instead of the reminder worker.
	InlineSchedulers     bool

	// WhatsApp Cloud API
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WhatsAppAPIBase       string

	// Twilio voice and SMS
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioValidateSig   bool
	VoiceName           string
	VoiceGatherTimeout  int
	VoiceNameMaxSeconds int

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ArchiveBucket       string
	SESFromEmail        string
	SESConfigSet        string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Rate limiting on the public API surface
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		SessionBackend:       strings.ToLower(getEnv("SESSION_BACKEND", "memory")),
		SessionIdleTimeout:   getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionSweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		Classifier:           strings.ToLower(getEnv("CLASSIFIER", "keyword")),
		LLMProvider:          strings.ToLower(getEnv("LLM_PROVIDER", "bedrock")),
		LLMFallbackProvider:  strings.ToLower(getEnv("LLM_FALLBACK_PROVIDER", "")),
		BedrockModelID:       getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", ""),
		DefaultClinicID:      getEnv("DEFAULT_CLINIC_ID", ""),
		DefaultCountryCode:   getEnv("DEFAULT_COUNTRY_CODE", "91"),

		UseMemoryQueue:        getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:           getEnvAsInt("WORKER_COUNT", 2),
		ConversationQueueURL:  getEnv("CONVERSATION_QUEUE_URL", ""),
		ConversationJobsTable: getEnv("CONVERSATION_JOBS_TABLE", "conversation_jobs"),

		AppointmentDuration:  getEnvAsDuration("APPOINTMENT_DURATION", 30*time.Minute),
		BookingSafetyMargin:  getEnvAsDuration("BOOKING_SAFETY_MARGIN", 0),
		BookingLockTTL:       getEnvAsDuration("BOOKING_LOCK_TTL", 10*time.Second),
		ReminderLeadTime:     getEnvAsDuration("REMINDER_LEAD_TIME", 24*time.Hour),
		ReminderPollInterval: getEnvAsDuration("REMINDER_POLL_INTERVAL", time.Minute),
		ReminderBatchSize:    getEnvAsInt("REMINDER_BATCH_SIZE", 10),
		OutboxPollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		InlineSchedulers:     getEnvAsBool("INLINE_SCHEDULERS", false),

		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppAPIBase:       getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v21.0"),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioValidateSig:   getEnvAsBool("TWILIO_VALIDATE_SIGNATURE", true),
		VoiceName:           getEnv("VOICE_NAME", "alice"),
		VoiceGatherTimeout:  getEnvAsInt("VOICE_GATHER_TIMEOUT", 5),
		VoiceNameMaxSeconds: getEnvAsInt("VOICE_NAME_MAX_SECONDS", 10),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ArchiveBucket:       getEnv("CALL_ARCHIVE_BUCKET", ""),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESConfigSet:        getEnv("SES_CONFIGURATION_SET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		EmailProvider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "sendgrid")),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Booking Assistant"),

		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
	}
}

// WhatsAppEnabled reports whether the Cloud API credentials are present.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsAppAccessToken != "" && c.WhatsAppPhoneNumberID != ""
}

// TwilioEnabled reports whether Twilio REST credentials are present.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
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
