package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	EmailGuardAPIKey string `env:"EMAILGUARD_API_KEY,required=true"`
	EmailGuardAPIURL string `env:"EMAILGUARD_API_URL,default=https://app.emailguard.io/api/v1"`

	DataDir     string `env:"DATA_DIR,default=./data"`
	DatabaseDSN string `env:"DATABASE_DSN"`
	RedisURL    string `env:"REDIS_URL"`

	BatchMaxPerRun      int `env:"BATCH_MAX_PER_RUN,default=50"`
	SendDelaySeconds    int `env:"SEND_DELAY_SECONDS,default=3"`
	PollIntervalSeconds int `env:"POLL_INTERVAL_SECONDS,default=30"`
	PollWorkers         int `env:"POLL_WORKERS,default=5"`

	SMTPPort           int    `env:"SMTP_PORT,default=465"`
	SMTPTLSMode        string `env:"SMTP_TLS_MODE,default=smtps"`
	SMTPTimeoutSeconds int    `env:"SMTP_TIMEOUT_SECONDS,default=30"`
	SMTPSkipVerify     bool   `env:"SMTP_SKIP_VERIFY,default=true"`
	ProbeSubject       string `env:"PROBE_SUBJECT,default=Team Meeting Code"`
	ProbeBody          string `env:"PROBE_BODY"`

	HTTPTimeoutSeconds int `env:"HTTP_TIMEOUT_SECONDS,default=30"`
	HTTPRetryCount     int `env:"HTTP_RETRY_COUNT,default=3"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// Load reads the configuration from the environment. Values from envFiles
// (or ./.env when none are given) are applied first without overriding
// variables that are already set.
func Load(envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch {
	case c.BatchMaxPerRun <= 0:
		return fmt.Errorf("BATCH_MAX_PER_RUN must be positive")
	case c.SendDelaySeconds < 0:
		return fmt.Errorf("SEND_DELAY_SECONDS must not be negative")
	case c.PollIntervalSeconds <= 0:
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	case c.PollWorkers <= 0:
		return fmt.Errorf("POLL_WORKERS must be positive")
	case c.SMTPPort <= 0 || c.SMTPPort > 65535:
		return fmt.Errorf("SMTP_PORT %d is out of range", c.SMTPPort)
	}
	return nil
}

func (c *Config) SendDelay() time.Duration {
	return time.Duration(c.SendDelaySeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) SMTPTimeout() time.Duration {
	return time.Duration(c.SMTPTimeoutSeconds) * time.Second
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
