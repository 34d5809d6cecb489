package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/sms-dispatcher/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	backoffStep = 50 * time.Millisecond
	backoffMax  = 250 * time.Millisecond
	keyPrefix   = "pace:"
)

var _ ratelimit.Pacer = (*RedisPacer)(nil)

// RedisPacer spaces submissions to the same destination across every process
// sharing one Redis. Reserve claims the destination's slot for the delay and
// polls while someone else holds it. Wait sleeps the delay locally first.
type RedisPacer struct {
	client *goredis.Client
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisPacer(client *goredis.Client) (*RedisPacer, error) {
	return newRedisPacer(client, time.Now, ratelimit.SleepWithContext)
}

func newRedisPacer(
	client *goredis.Client,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisPacer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = ratelimit.SleepWithContext
	}

	return &RedisPacer{
		client: client,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

// Claim takes the destination slot for d. It reports false while another
// holder's slot is still live.
func (p *RedisPacer) Claim(ctx context.Context, key string, d time.Duration) (bool, error) {
	if p == nil || p.client == nil {
		return false, fmt.Errorf("pacer is not initialized")
	}

	normalizedKey := strings.ToLower(strings.TrimSpace(key))
	if normalizedKey == "" {
		return false, fmt.Errorf("pacing key is required")
	}
	if d <= 0 {
		return true, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	claimed, err := p.client.SetNX(ctx, keyPrefix+normalizedKey, p.now().UTC().UnixMilli(), d).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim pacing slot: %w", err)
	}
	return claimed, nil
}

func (p *RedisPacer) Wait(ctx context.Context, key string, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := p.sleep(ctx, d); err != nil {
		return err
	}
	return p.Reserve(ctx, key, d)
}

// Reserve blocks until the destination slot is free, then holds it for d.
func (p *RedisPacer) Reserve(ctx context.Context, key string, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		claimed, err := p.Claim(ctx, key, d)
		if err != nil {
			return err
		}
		if claimed {
			return nil
		}

		wait := backoff
		if ttl, err := p.client.PTTL(ctx, keyPrefix+strings.ToLower(strings.TrimSpace(key))).Result(); err == nil && ttl > 0 && ttl < wait {
			wait = ttl
		}
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}
