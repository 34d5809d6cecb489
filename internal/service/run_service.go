package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kursadbilgin/sms-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
	"go.uber.org/zap"
)

// Runner is the dispatch core as seen by the service.
type Runner interface {
	Run(ctx context.Context, job domain.Job, observer dispatch.Observer) (domain.Result, error)
	Enabled() bool
}

// RunService starts dispatch runs in the background and exposes their
// progress to callers that cannot block on Run.
type RunService struct {
	runner Runner
	board  *StatusBoard
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *domain.Result
}

func NewRunService(runner Runner, logger *zap.Logger) (*RunService, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RunService{
		runner: runner,
		board:  NewStatusBoard(),
		logger: logger,
	}, nil
}

// Start launches job and returns its run ID once the run is RUNNING. Once
// started the run outlives ctx; use Cancel to stop it. If ctx ends before the
// run reports progress, the run is canceled and ctx's error returned.
func (s *RunService) Start(ctx context.Context, job domain.Job) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := job.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return "", domain.ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	started := make(chan string, 1)
	var once sync.Once
	observer := dispatch.ObserverFunc(func(p domain.Progress) {
		s.board.OnUpdate(p)
		once.Do(func() { started <- p.RunID })
	})

	failed := make(chan error, 1)
	go func() {
		defer close(done)
		defer s.clear(done)
		defer cancel()

		result, err := s.runner.Run(runCtx, job, observer)
		if err != nil {
			failed <- err
			return
		}

		s.mu.Lock()
		s.last = &result
		s.mu.Unlock()

		s.logger.Info("run finished",
			zap.String("runId", result.RunID),
			zap.String("state", result.State.String()),
			zap.Int("sent", result.Sent),
			zap.Int("target", result.Target),
		)
	}()

	select {
	case runID := <-started:
		return runID, nil
	case err := <-failed:
		return "", err
	case <-done:
		select {
		case runID := <-started:
			return runID, nil
		case err := <-failed:
			return "", err
		default:
			return "", fmt.Errorf("run ended without reporting progress")
		}
	case <-ctx.Done():
		select {
		case runID := <-started:
			return runID, nil
		default:
		}
		cancel()
		s.logger.Warn("run canceled before it started", zap.Error(ctx.Err()))
		return "", ctx.Err()
	}
}

func (s *RunService) clear(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.done = nil
		s.cancel = nil
	}
}

// Current returns the latest progress and whether a new run may start.
func (s *RunService) Current() (domain.Progress, bool) {
	s.mu.Lock()
	idle := s.done == nil
	s.mu.Unlock()

	return s.board.Snapshot(), idle && s.runner.Enabled()
}

// Cancel stops the active run. It returns domain.ErrNotFound when idle.
func (s *RunService) Cancel() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return fmt.Errorf("%w: no active run", domain.ErrNotFound)
	}
	cancel()
	return nil
}

// Wait blocks until the active run, if any, has finished.
func (s *RunService) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the active run and waits for it to end.
func (s *RunService) Shutdown(ctx context.Context) error {
	if err := s.Cancel(); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return s.Wait(ctx)
}

func (s *RunService) LastResult() (domain.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return domain.Result{}, false
	}
	return *s.last, true
}
