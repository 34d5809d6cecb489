package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	TransportWebhook = "webhook"
	TransportAMQP    = "amqp"
)

type Config struct {
	Transport        string `env:"TRANSPORT,default=webhook"`
	WebhookURL       string `env:"WEBHOOK_URL"`
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	AMQPPrefetch     int    `env:"AMQP_PREFETCH,default=8"`
	RedisURL         string `env:"REDIS_URL"`
	SubmitTimeoutSec int    `env:"SUBMIT_TIMEOUT_SEC,default=10"`
	APIPort          int    `env:"API_PORT,default=8080"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
}

// Load reads the environment, applies overrides in order and validates the
// result. Overrides let command-line flags win over the environment.
func Load(overrides ...func(*Config)) (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	for _, override := range overrides {
		if override != nil {
			override(&cfg)
		}
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected transport has its endpoint configured.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportWebhook:
		if strings.TrimSpace(c.WebhookURL) == "" {
			return fmt.Errorf("WEBHOOK_URL is required for transport %q", c.Transport)
		}
	case TransportAMQP:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required for transport %q", c.Transport)
		}
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}

	if c.SubmitTimeoutSec <= 0 {
		return fmt.Errorf("SUBMIT_TIMEOUT_SEC must be positive (got %d)", c.SubmitTimeoutSec)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT out of range (got %d)", c.APIPort)
	}
	return nil
}

func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSec) * time.Second
}
