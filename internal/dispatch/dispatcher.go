package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
	"github.com/kursadbilgin/sms-dispatcher/internal/observability"
	"github.com/kursadbilgin/sms-dispatcher/internal/provider"
	"github.com/kursadbilgin/sms-dispatcher/internal/ratelimit"
	"go.uber.org/zap"
)

// Dispatcher sends a job's copies one at a time, paced by the job delay, and
// stops on the first failure. At most one run is active at a time.
type Dispatcher struct {
	provider provider.Provider
	pacer    ratelimit.Pacer
	logger   *zap.Logger
	metrics  *observability.Metrics
	newRunID func() string
	now      func() time.Time

	mu        sync.Mutex
	activeRun string
}

func NewDispatcher(p provider.Provider, pacer ratelimit.Pacer, logger *zap.Logger) (*Dispatcher, error) {
	if p == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if pacer == nil {
		pacer = ratelimit.TimerPacer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		provider: p,
		pacer:    pacer,
		logger:   logger,
		newRunID: uuid.NewString,
		now:      time.Now,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Enabled reports whether a new run may start.
func (d *Dispatcher) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeRun == ""
}

// Run executes job to a terminal state and returns it. The error is non-nil
// only when the run could not start (invalid job or another run active);
// transport failures and cancellation are reported in the Result.
func (d *Dispatcher) Run(ctx context.Context, job domain.Job, observer Observer) (domain.Result, error) {
	if err := job.Validate(); err != nil {
		return domain.Result{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	runID := d.newRunID()
	if !d.acquire(runID) {
		return domain.Result{}, domain.ErrRunInProgress
	}
	defer d.release(runID)

	d.metrics.IncRunsInFlight()
	defer d.metrics.DecRunsInFlight()

	ctx = observability.WithRun(ctx, runID, job.Destination)
	logger := observability.WithContextLogger(d.logger, ctx)

	sendCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()

	sub := d.provider.Subscribe()
	defer sub.Close()

	c := &correlator{
		job:        job,
		state:      newRunState(runID, job.TargetCount),
		provider:   d.provider,
		sub:        sub,
		observer:   observer,
		logger:     logger,
		metrics:    d.metrics,
		sendCtx:    sendCtx,
		stopLoop:   stopLoop,
		onTerminal: func() { d.release(runID) },
		intents:    make(chan intent),
		done:       make(chan struct{}),
	}

	logger.Info("run started",
		zap.Int("target", job.TargetCount),
		zap.Duration("delay", job.Delay),
	)

	go c.run(ctx)
	d.sendLoop(sendCtx, job, c)
	<-c.done

	return c.state.result(), nil
}

// sendLoop posts one send intent per index, waiting job.Delay between them.
// The first send only reserves the destination slot. It returns as soon as
// the run is terminal or the caller cancels.
func (d *Dispatcher) sendLoop(ctx context.Context, job domain.Job, c *correlator) {
	for index := 1; index <= job.TargetCount; index++ {
		start := d.now()
		var err error
		if index == 1 {
			err = d.pacer.Reserve(ctx, job.Destination, job.Delay)
		} else {
			err = d.pacer.Wait(ctx, job.Destination, job.Delay)
		}
		if err != nil {
			if ctx.Err() == nil {
				reason := domain.SubmissionReason(fmt.Errorf("pacing failed: %w", err))
				d.post(ctx, c, intent{abort: &reason})
			}
			return
		}
		if index > 1 {
			d.metrics.ObservePacingWait(d.now().Sub(start))
		}

		if !d.post(ctx, c, intent{index: index}) {
			return
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, c *correlator, in intent) bool {
	select {
	case c.intents <- in:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (d *Dispatcher) acquire(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeRun != "" {
		return false
	}
	d.activeRun = runID
	return true
}

func (d *Dispatcher) release(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.activeRun == runID {
		d.activeRun = ""
	}
}
