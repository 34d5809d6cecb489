package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
	"github.com/kursadbilgin/sms-dispatcher/internal/provider"
)

type fakeProvider struct {
	*provider.Hub

	// submitFn rejects a request synchronously when it returns an error.
	submitFn func(req domain.SendRequest) error
	// outcomeFn decides the asynchronous outcome of an accepted request.
	outcomeFn func(req domain.SendRequest) (domain.Outcome, bool)

	mu       sync.Mutex
	calls    int
	accepted []domain.SendRequest
	times    []time.Time
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{Hub: provider.NewHub()}
}

func (f *fakeProvider) Submit(ctx context.Context, req domain.SendRequest) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.submitFn != nil {
		if err := f.submitFn(req); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.accepted = append(f.accepted, req)
	f.times = append(f.times, time.Now())
	f.mu.Unlock()

	if f.outcomeFn != nil {
		if outcome, ok := f.outcomeFn(req); ok {
			go f.Publish(context.Background(), outcome)
		}
	}
	return nil
}

func (f *fakeProvider) acceptedIndexes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	indexes := make([]int, 0, len(f.accepted))
	for _, req := range f.accepted {
		indexes = append(indexes, req.Ticket.Index)
	}
	return indexes
}

func (f *fakeProvider) submitTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.times...)
}

func deliverAll(req domain.SendRequest) (domain.Outcome, bool) {
	return domain.Delivered(req.Ticket), true
}

// gatedPacer blocks each wait until the gate is released or ctx is done.
// Reservations pass through unless reserveErr is set.
type gatedPacer struct {
	gate       chan struct{}
	reserveErr error

	mu       sync.Mutex
	waits    []time.Duration
	reserves int
}

func newGatedPacer(size int) *gatedPacer {
	return &gatedPacer{gate: make(chan struct{}, size)}
}

func (p *gatedPacer) Reserve(ctx context.Context, _ string, _ time.Duration) error {
	p.mu.Lock()
	p.reserves++
	p.mu.Unlock()

	if p.reserveErr != nil {
		return p.reserveErr
	}
	return ctx.Err()
}

func (p *gatedPacer) reserveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserves
}

func (p *gatedPacer) Wait(ctx context.Context, _ string, d time.Duration) error {
	p.mu.Lock()
	p.waits = append(p.waits, d)
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.gate:
		return nil
	}
}

func (p *gatedPacer) release() {
	select {
	case p.gate <- struct{}{}:
	default:
	}
}

func (p *gatedPacer) waitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waits)
}

type recordingObserver struct {
	mu       sync.Mutex
	updates  []domain.Progress
	onUpdate func(p domain.Progress)
}

func (o *recordingObserver) OnUpdate(p domain.Progress) {
	o.mu.Lock()
	o.updates = append(o.updates, p)
	o.mu.Unlock()

	if o.onUpdate != nil {
		o.onUpdate(p)
	}
}

func (o *recordingObserver) all() []domain.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Progress(nil), o.updates...)
}

func (o *recordingObserver) last() domain.Progress {
	updates := o.all()
	if len(updates) == 0 {
		return domain.Progress{}
	}
	return updates[len(updates)-1]
}

// releaseOnDelivery opens the pacer gate each time a delivery is counted, so
// the next submission only happens after the previous outcome was processed.
func releaseOnDelivery(pacer *gatedPacer) func(domain.Progress) {
	return func(p domain.Progress) {
		if p.State == domain.StateRunning && p.Sent > 0 && p.Sent == p.Attempting {
			pacer.release()
		}
	}
}
