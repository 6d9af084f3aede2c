package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTP struct {
		Addr string `env:"HTTP_ADDR" envDefault:":8080"`

		// Comma separated origins allowed by CORS
		CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	}

	Database struct {
		Path string `env:"DATABASE_PATH" envDefault:"data/ledger.db"`

		// Retries when sqlite reports the database busy or locked
		MaxRetries int `env:"DB_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in milliseconds
		RetryDelayMS int `env:"DB_RETRY_DELAY_MS" envDefault:"50"`
	}

	Push struct {
		Name          string `env:"PUSH_PROVIDER" envDefault:"pawapay"`
		BaseURL       string `env:"PUSH_BASE_URL" envDefault:"https://api.sandbox.pawapay.io"`
		APIToken      string `env:"PUSH_API_TOKEN"`
		WebhookSecret string `env:"PUSH_WEBHOOK_SECRET"`
	}

	Redirect struct {
		Name      string `env:"REDIRECT_PROVIDER" envDefault:"cinetpay"`
		BaseURL   string `env:"REDIRECT_BASE_URL" envDefault:"https://api-checkout.cinetpay.com"`
		APIKey    string `env:"REDIRECT_API_KEY"`
		SiteID    string `env:"REDIRECT_SITE_ID"`
		SecretKey string `env:"REDIRECT_SECRET_KEY"`
		NotifyURL string `env:"REDIRECT_NOTIFY_URL"`
		ReturnURL string `env:"REDIRECT_RETURN_URL"`
	}

	// Outbound provider call timeout in seconds
	GatewayTimeoutSeconds int `env:"GATEWAY_TIMEOUT_SECONDS" envDefault:"30"`

	Billing struct {
		// Pending transactions older than this are failed as expired
		PendingTTLMinutes int `env:"PENDING_TTL_MINUTES" envDefault:"60"`

		// How often the expiry sweep runs
		SweepIntervalSeconds int `env:"EXPIRY_SWEEP_SECONDS" envDefault:"300"`

		// Transactions settled per sweep
		SweepBatchSize int `env:"EXPIRY_SWEEP_BATCH" envDefault:"100"`

		PlanCatalogPath string `env:"PLAN_CATALOG_PATH" envDefault:"config/plans.yaml"`
	}

	EventQueueSize int    `env:"EVENT_QUEUE_SIZE" envDefault:"256"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads the environment, after loading .env files when present.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	for i, origin := range cfg.HTTP.CORSOrigins {
		cfg.HTTP.CORSOrigins[i] = strings.TrimSpace(origin)
	}
	return cfg, nil
}

func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Database.RetryDelayMS) * time.Millisecond
}

func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.Billing.PendingTTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Billing.SweepIntervalSeconds) * time.Second
}
