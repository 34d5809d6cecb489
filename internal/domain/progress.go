package domain

import "fmt"

// State is the run lifecycle: IDLE -> RUNNING -> {COMPLETED, STOPPED}.
type State string

const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateStopped   State = "STOPPED"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether no transition can leave s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateStopped
}

// Progress is the observer-facing snapshot of a run.
type Progress struct {
	RunID  string
	Sent   int
	Target int
	State  State
	// Attempting is the index of the latest submission while RUNNING.
	Attempting int
	// Reason is set only when State is STOPPED.
	Reason *Reason
}

// Message renders the status line for the snapshot.
func (p Progress) Message() string {
	switch p.State {
	case StateRunning:
		if p.Attempting > p.Sent {
			return fmt.Sprintf("Attempting %d of %d", p.Attempting, p.Target)
		}
		return fmt.Sprintf("Sent %d of %d", p.Sent, p.Target)
	case StateCompleted:
		return "All messages sent successfully"
	case StateStopped:
		if p.Reason == nil {
			return "Stopped"
		}
		return "Stopped - " + p.Reason.Describe()
	default:
		return "Ready"
	}
}

// Percent is the completion ratio in whole percent.
func (p Progress) Percent() int {
	if p.Target <= 0 {
		return 0
	}
	return p.Sent * 100 / p.Target
}

// Result is the terminal outcome of a run.
type Result struct {
	RunID  string
	State  State
	Sent   int
	Target int
	Reason *Reason
}

func (r Result) Completed() bool { return r.State == StateCompleted }
