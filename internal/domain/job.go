package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// MinDelay is the smallest pause allowed between two submissions.
	MinDelay = time.Second
	// MaxTargetCount bounds the copies one run may send.
	MaxTargetCount = math.MaxInt32
)

// Job is one configured run of TargetCount timed sends to one destination.
// It is immutable once a run starts.
type Job struct {
	Destination string
	Body        string
	TargetCount int
	Delay       time.Duration
}

func (j Job) Validate() error {
	if strings.TrimSpace(j.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if strings.TrimSpace(j.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if j.TargetCount <= 0 {
		return fmt.Errorf("%w: count must be greater than 0", ErrValidation)
	}
	if j.TargetCount > MaxTargetCount {
		return fmt.Errorf("%w: count must be at most %d", ErrValidation, MaxTargetCount)
	}
	if j.Delay < MinDelay {
		return fmt.Errorf("%w: delay must be at least %s", ErrValidation, MinDelay)
	}
	return nil
}

// ParseJob builds a Job from raw form values. The delay is given in whole seconds.
func ParseJob(destination, body, count, delaySeconds string) (Job, error) {
	destination = strings.TrimSpace(destination)
	body = strings.TrimSpace(body)
	count = strings.TrimSpace(count)
	delaySeconds = strings.TrimSpace(delaySeconds)

	switch {
	case destination == "":
		return Job{}, fmt.Errorf("%w: destination is required", ErrValidation)
	case body == "":
		return Job{}, fmt.Errorf("%w: body is required", ErrValidation)
	case count == "":
		return Job{}, fmt.Errorf("%w: count is required", ErrValidation)
	case delaySeconds == "":
		return Job{}, fmt.Errorf("%w: delay is required", ErrValidation)
	}

	n, err := strconv.ParseInt(count, 10, 32)
	if err != nil {
		return Job{}, fmt.Errorf("%w: invalid count %q", ErrValidation, count)
	}
	secs, err := strconv.Atoi(delaySeconds)
	if err != nil {
		return Job{}, fmt.Errorf("%w: invalid delay %q", ErrValidation, delaySeconds)
	}

	job := Job{
		Destination: destination,
		Body:        body,
		TargetCount: int(n),
		Delay:       time.Duration(secs) * time.Second,
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Ticket correlates a submitted send with its later outcome.
type Ticket struct {
	RunID string `json:"runId"`
	Index int    `json:"index"`
}

func (t Ticket) String() string {
	return fmt.Sprintf("%s#%d", t.RunID, t.Index)
}

// SendRequest is what the dispatcher hands to a provider for one submission.
type SendRequest struct {
	Ticket      Ticket
	Destination string
	Body        string
}

func (r SendRequest) Validate() error {
	if strings.TrimSpace(r.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if r.Body == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if r.Ticket.Index < 1 {
		return fmt.Errorf("%w: ticket index must be positive (got %d)", ErrValidation, r.Ticket.Index)
	}
	return nil
}
