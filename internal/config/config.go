package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL is optional — without it
// the service runs on the in-memory stores.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database (optional)
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Background loop poll intervals
	SchedulerInterval time.Duration
	WebhookInterval   time.Duration
	PendingInterval   time.Duration

	// Outbound HTTP (webhook deliveries and http task executions)
	OutboundTimeout time.Duration

	// Rate limiting: provider pacing per channel plus per-user send caps
	RateLimit    int // requests per second per channel
	CapPerMinute int
	CapPerHour   int
	CapPerDay    int

	// Bulk dispatch
	BatchSize  int
	BatchDelay time.Duration

	// Provider credentials; a provider with empty credentials reports
	// itself disabled and is skipped at dispatch time.
	SendGridAPIKey string
	SendGridFrom   string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	FCMServerKey   string
	SMTPAddr       string
	SMTPUsername   string
	SMTPPassword   string
	SMTPFrom       string
}

func Load() (*Config, error) {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		SchedulerInterval: getDuration("SCHEDULER_INTERVAL", time.Second),
		WebhookInterval:   getDuration("WEBHOOK_INTERVAL", 10*time.Second),
		PendingInterval:   getDuration("PENDING_INTERVAL", 5*time.Second),

		OutboundTimeout: getDuration("OUTBOUND_TIMEOUT", 30*time.Second),

		RateLimit:    getInt("RATE_LIMIT_PER_CHANNEL", 100),
		CapPerMinute: getInt("USER_CAP_PER_MINUTE", 0),
		CapPerHour:   getInt("USER_CAP_PER_HOUR", 0),
		CapPerDay:    getInt("USER_CAP_PER_DAY", 0),

		BatchSize:  getInt("BATCH_SIZE", 100),
		BatchDelay: getDuration("BATCH_DELAY", 0),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		SendGridFrom:   os.Getenv("SENDGRID_FROM"),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM"),
		FCMServerKey:   os.Getenv("FCM_SERVER_KEY"),
		SMTPAddr:       os.Getenv("SMTP_ADDR"),
		SMTPUsername:   os.Getenv("SMTP_USERNAME"),
		SMTPPassword:   os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:       os.Getenv("SMTP_FROM"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
