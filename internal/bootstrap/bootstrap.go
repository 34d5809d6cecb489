// Package bootstrap builds the transport and pacing stack selected by config.
// Both binaries share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/sms-dispatcher/internal/config"
	infraredis "github.com/kursadbilgin/sms-dispatcher/internal/infra/redis"
	"github.com/kursadbilgin/sms-dispatcher/internal/provider"
	"github.com/kursadbilgin/sms-dispatcher/internal/queue"
	"github.com/kursadbilgin/sms-dispatcher/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Backend is a provider plus its lifecycle hooks. Start is nil for
// transports without a background consumer.
type Backend struct {
	Provider provider.Provider
	Start    func(ctx context.Context) error
	Ready    func(ctx context.Context) error
	Close    func() error
}

func NewBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	switch cfg.Transport {
	case config.TransportAMQP:
		client, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		p, err := queue.NewAMQPProvider(client, cfg.AMQPPrefetch, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &Backend{
			Provider: p,
			Start:    p.Start,
			Ready: func(context.Context) error {
				if !client.Connected() {
					return errors.New("broker connection closed")
				}
				return nil
			},
			Close: p.Close,
		}, nil
	case config.TransportWebhook:
		p, err := provider.NewWebhookProvider(cfg.WebhookURL, cfg.SubmitTimeout(), logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Provider: p, Close: p.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// NewPacer returns the shared Redis pacer when REDIS_URL is set and the local
// timer pacer otherwise. The returned client is nil for the timer pacer.
func NewPacer(ctx context.Context, cfg *config.Config) (ratelimit.Pacer, *goredis.Client, error) {
	if cfg == nil || cfg.RedisURL == "" {
		return ratelimit.TimerPacer{}, nil, nil
	}

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis initialization failed: %w", err)
	}

	pacer, err := infraredis.NewRedisPacer(rdb)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return pacer, rdb, nil
}
