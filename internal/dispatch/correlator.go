package dispatch

import (
	"context"

	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
	"github.com/kursadbilgin/sms-dispatcher/internal/observability"
	"github.com/kursadbilgin/sms-dispatcher/internal/provider"
	"go.uber.org/zap"
)

// intent is what the send loop posts to the correlator: either submit the
// given index, or abort the run with a reason.
type intent struct {
	index int
	abort *domain.Reason
}

// correlator serialises every mutation of a run's state: send intents from
// the loop, outcomes from the provider and external cancellation.
type correlator struct {
	job      domain.Job
	state    *runState
	provider provider.Provider
	sub      *provider.Subscription
	observer Observer
	logger   *zap.Logger
	metrics  *observability.Metrics

	// sendCtx scopes provider submissions; stopLoop cancels it and wakes
	// the send loop once the run is terminal.
	sendCtx    context.Context
	stopLoop   context.CancelFunc
	onTerminal func()

	intents chan intent
	done    chan struct{}
}

func (c *correlator) run(ctx context.Context) {
	defer close(c.done)
	defer c.stopLoop()

	c.observer.OnUpdate(c.state.progress())

	for {
		select {
		case in := <-c.intents:
			c.handleIntent(in)
		case outcome := <-c.sub.C():
			c.correlate(outcome)
		case <-ctx.Done():
			c.finish(domain.Reason{Kind: domain.ReasonCanceled, Detail: ctx.Err().Error()})
		}

		if c.state.state.IsTerminal() {
			return
		}
	}
}

func (c *correlator) handleIntent(in intent) {
	if in.abort != nil {
		c.finish(*in.abort)
		return
	}
	if err := c.sendCtx.Err(); err != nil {
		c.finish(domain.Reason{Kind: domain.ReasonCanceled, Detail: err.Error()})
		return
	}

	req := domain.SendRequest{
		Ticket:      domain.Ticket{RunID: c.state.runID, Index: in.index},
		Destination: c.job.Destination,
		Body:        c.job.Body,
	}

	if err := c.provider.Submit(c.sendCtx, req); err != nil {
		c.metrics.IncSubmission(false)
		c.logger.Warn("submission rejected",
			zap.Int("index", in.index),
			zap.Error(err),
		)
		c.finish(domain.SubmissionReason(err))
		return
	}

	c.metrics.IncSubmission(true)
	c.state.markSubmitted(in.index)
	c.logger.Debug("send submitted", zap.Int("index", in.index), zap.Int("target", c.job.TargetCount))
	c.observer.OnUpdate(c.state.progress())
}

func (c *correlator) correlate(outcome domain.Outcome) {
	if !c.state.apply(outcome) {
		c.logger.Debug("outcome discarded",
			zap.String("ticket", outcome.Ticket.String()),
			zap.Bool("delivered", outcome.Delivered),
		)
		return
	}

	c.metrics.IncOutcome(outcome.Delivered, outcome.Reason.Label())

	if c.state.state.IsTerminal() {
		c.terminate()
		return
	}
	c.observer.OnUpdate(c.state.progress())
}

func (c *correlator) finish(reason domain.Reason) {
	if !c.state.stop(reason) {
		return
	}
	c.terminate()
}

// terminate runs once, right after the state became terminal.
func (c *correlator) terminate() {
	c.stopLoop()

	progress := c.state.progress()
	reasonLabel := "none"
	if progress.Reason != nil {
		reasonLabel = progress.Reason.Label()
	}
	c.metrics.IncRunFinished(progress.State.String(), reasonLabel)

	fields := []zap.Field{
		zap.String("state", progress.State.String()),
		zap.Int("sent", progress.Sent),
		zap.Int("target", progress.Target),
	}
	if progress.State == domain.StateCompleted {
		c.logger.Info("run completed", fields...)
	} else {
		c.logger.Warn("run stopped", append(fields, zap.String("reason", progress.Message()))...)
	}

	c.observer.OnUpdate(progress)
	if c.onTerminal != nil {
		c.onTerminal()
	}
}
