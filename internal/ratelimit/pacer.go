package ratelimit

import (
	"context"
	"time"
)

// Pacer enforces the fixed inter-send delay for a destination key. Reserve
// is called before the first send of a run and Wait before every later one.
type Pacer interface {
	Reserve(ctx context.Context, key string, d time.Duration) error
	Wait(ctx context.Context, key string, d time.Duration) error
}

// TimerPacer waits locally and returns early when ctx is done.
type TimerPacer struct{}

var _ Pacer = TimerPacer{}

// Reserve returns immediately; a local pacer has no one to share the slot with.
func (TimerPacer) Reserve(ctx context.Context, _ string, _ time.Duration) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

func (TimerPacer) Wait(ctx context.Context, _ string, d time.Duration) error {
	return SleepWithContext(ctx, d)
}

// SleepWithContext blocks for d or until ctx is done, whichever comes first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
