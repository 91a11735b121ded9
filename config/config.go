package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"challenge-tasks"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":5300"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"false"`

	DatabaseURL  string `env:"DATABASE_URL,notEmpty"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	ServiceToken string `env:"TASKS_SERVICE_TOKEN,notEmpty"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"challenge-events"`

	R2 R2Config

	Schedule Schedule
	Tasks    Tasks

	ReminderLeadDays   int    `env:"REMINDER_LEAD_DAYS" envDefault:"3"`
	NotificationLimit  int    `env:"NOTIFICATION_LIMIT" envDefault:"100"`
	WalletHistoryLimit int    `env:"WALLET_HISTORY_LIMIT" envDefault:"100"`
	ReleaseMaxAttempts int    `env:"RELEASE_MAX_ATTEMPTS" envDefault:"3"`
	DefaultCurrency    string `env:"DEFAULT_CURRENCY" envDefault:"RWF"`
}

type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

// Enabled reports whether enough is set to archive run reports.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

type Schedule struct {
	Timezone     string        `env:"TIMEZONE" envDefault:"Africa/Kigali"`
	Cron         string        `env:"SCHEDULE_CRON" envDefault:"0 0 * * *"`
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryBackoff time.Duration `env:"RETRY_BACKOFF" envDefault:"30s"`
	RunOnStart   bool          `env:"RUN_ON_START" envDefault:"false"`
}

// Tasks toggles individual midnight tasks.
type Tasks struct {
	Reminders          bool `env:"TASK_REMINDERS_ENABLED" envDefault:"true"`
	DeadlineProcessing bool `env:"TASK_DEADLINE_PROCESSING_ENABLED" envDefault:"true"`
	ReleasedScores     bool `env:"TASK_RELEASED_SCORES_ENABLED" envDefault:"true"`
	StatsRollover      bool `env:"TASK_STATS_ROLLOVER_ENABLED" envDefault:"true"`
	PublicStats        bool `env:"TASK_PUBLIC_STATS_ENABLED" envDefault:"true"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, reading environment variables directly")
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Schedule.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must be >= 0, got %d", c.Schedule.MaxRetries)
	}
	if c.ReminderLeadDays <= 0 {
		return fmt.Errorf("REMINDER_LEAD_DAYS must be positive, got %d", c.ReminderLeadDays)
	}
	if c.ReleaseMaxAttempts <= 0 {
		return fmt.Errorf("RELEASE_MAX_ATTEMPTS must be positive, got %d", c.ReleaseMaxAttempts)
	}
	if c.NotificationLimit <= 0 || c.WalletHistoryLimit <= 0 {
		return fmt.Errorf("NOTIFICATION_LIMIT and WALLET_HISTORY_LIMIT must be positive")
	}
	c.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.DefaultCurrency))
	return nil
}
