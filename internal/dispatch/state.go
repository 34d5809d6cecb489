package dispatch

import "github.com/kursadbilgin/sms-dispatcher/internal/domain"

// runState is the progress state of one run. It is owned by the correlator
// goroutine and never touched concurrently.
type runState struct {
	runID  string
	target int

	sent       int
	submitted  int
	attempting int
	seen       map[int]struct{}

	state  domain.State
	reason *domain.Reason
}

func newRunState(runID string, target int) *runState {
	return &runState{
		runID:  runID,
		target: target,
		seen:   make(map[int]struct{}),
		state:  domain.StateRunning,
	}
}

// markSubmitted records index as handed to the provider.
func (s *runState) markSubmitted(index int) bool {
	if s.state.IsTerminal() || index < 1 || index > s.target {
		return false
	}
	if index > s.submitted {
		s.submitted = index
	}
	s.attempting = index
	return true
}

// apply folds one outcome into the state and reports whether it changed
// anything. Outcomes for another run, for tickets never submitted, repeated
// tickets, and anything after a terminal state are ignored.
func (s *runState) apply(o domain.Outcome) bool {
	if s.state.IsTerminal() {
		return false
	}
	if o.Ticket.RunID != s.runID {
		return false
	}
	index := o.Ticket.Index
	if index < 1 || index > s.submitted {
		return false
	}
	if _, dup := s.seen[index]; dup {
		return false
	}
	s.seen[index] = struct{}{}

	if !o.Delivered {
		return s.stop(o.Reason)
	}

	s.sent++
	if s.sent == s.target {
		s.state = domain.StateCompleted
	}
	return true
}

func (s *runState) stop(reason domain.Reason) bool {
	if s.state.IsTerminal() {
		return false
	}
	r := reason
	s.state = domain.StateStopped
	s.reason = &r
	return true
}

func (s *runState) progress() domain.Progress {
	p := domain.Progress{
		RunID:  s.runID,
		Sent:   s.sent,
		Target: s.target,
		State:  s.state,
		Reason: s.reason,
	}
	if s.state == domain.StateRunning {
		p.Attempting = s.attempting
	}
	return p
}

func (s *runState) result() domain.Result {
	return domain.Result{
		RunID:  s.runID,
		State:  s.state,
		Sent:   s.sent,
		Target: s.target,
		Reason: s.reason,
	}
}
