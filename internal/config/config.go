package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Delivery engine
	MaxRetries        int
	NotificationTTL   time.Duration
	WorkerCount       int
	PollInterval      time.Duration
	SendTimeout       time.Duration
	LeaseTTL          time.Duration
	SchedulerInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	BackoffJitter     float64
	CallbackTimeout   time.Duration

	// Rate limiting (requests per window, per caller)
	RateLimit       int
	RateLimitWindow time.Duration

	// AWS
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// SQS fan-out, disabled when the queue URL is empty
	SQSRegion   string
	SQSQueueURL string

	// Telegram
	TelegramBotToken string

	// Twilio (WhatsApp)
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioWhatsAppFrom string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "postgres",
		DBPassword: "",
		DBName:     "notifications",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		MaxRetries:        5,
		NotificationTTL:   24 * time.Hour,
		WorkerCount:       4,
		PollInterval:      time.Second,
		SendTimeout:       10 * time.Second,
		LeaseTTL:          30 * time.Second,
		SchedulerInterval: 30 * time.Second,
		BackoffBase:       30 * time.Second,
		BackoffCap:        30 * time.Minute,
		BackoffJitter:     0.2,
		CallbackTimeout:   10 * time.Second,

		RateLimit:       120,
		RateLimitWindow: time.Minute,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@notifications.local",
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}

	// Database
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		cfg.DBSSLMode = v
	}

	// Redis
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Delivery engine
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid MAX_RETRIES: %q", v)
		}
		cfg.MaxRetries = n
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid WORKER_COUNT: %q", v)
		}
		cfg.WorkerCount = n
	}
	if err := loadDuration("NOTIFICATION_TTL", &cfg.NotificationTTL); err != nil {
		return nil, err
	}
	if err := loadDuration("POLL_INTERVAL", &cfg.PollInterval); err != nil {
		return nil, err
	}
	if err := loadDuration("SEND_TIMEOUT", &cfg.SendTimeout); err != nil {
		return nil, err
	}
	if err := loadDuration("LEASE_TTL", &cfg.LeaseTTL); err != nil {
		return nil, err
	}
	if err := loadDuration("SCHEDULER_INTERVAL", &cfg.SchedulerInterval); err != nil {
		return nil, err
	}
	if err := loadDuration("BACKOFF_BASE", &cfg.BackoffBase); err != nil {
		return nil, err
	}
	if err := loadDuration("BACKOFF_CAP", &cfg.BackoffCap); err != nil {
		return nil, err
	}
	if err := loadDuration("CALLBACK_TIMEOUT", &cfg.CallbackTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("BACKOFF_JITTER"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("invalid BACKOFF_JITTER: %q", v)
		}
		cfg.BackoffJitter = f
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT: %q", v)
		}
		cfg.RateLimit = n
	}
	if err := loadDuration("RATE_LIMIT_WINDOW", &cfg.RateLimitWindow); err != nil {
		return nil, err
	}

	// AWS
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SESFromEmail = v
	}
	if v := os.Getenv("SNS_REGION"); v != "" {
		cfg.SNSRegion = v
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}
	if v := os.Getenv("SQS_REGION"); v != "" {
		cfg.SQSRegion = v
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}
	if v := os.Getenv("SQS_QUEUE_URL"); v != "" {
		cfg.SQSQueueURL = v
	}

	// Telegram
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.TelegramBotToken = v
	}

	// Twilio
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.TwilioAccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.TwilioAuthToken = v
	}
	if v := os.Getenv("TWILIO_WHATSAPP_FROM"); v != "" {
		cfg.TwilioWhatsAppFrom = v
	}

	return cfg, nil
}

func loadDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s: %q", name, v)
	}
	*dst = d
	return nil
}
