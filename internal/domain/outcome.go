package domain

import (
	"fmt"
	"strings"
)

// Platform send result codes reported by SMS gateways.
const (
	ResultOK             = -1
	ResultGenericFailure = 1
	ResultRadioOff       = 2
	ResultNullPDU        = 3
	ResultNoService      = 4
)

// ReasonKind enumerates why a run stopped.
type ReasonKind string

const (
	ReasonNoService      ReasonKind = "NO_SERVICE"
	ReasonRadioOff       ReasonKind = "RADIO_OFF"
	ReasonGenericFailure ReasonKind = "GENERIC_FAILURE"
	ReasonUnknown        ReasonKind = "UNKNOWN"
	ReasonSubmission     ReasonKind = "SUBMISSION"
	ReasonCanceled       ReasonKind = "CANCELED"
)

func (k ReasonKind) String() string { return string(k) }

// Reason describes a terminal failure. Code carries the raw transport code
// for ReasonUnknown; Detail carries the rejection text for ReasonSubmission.
type Reason struct {
	Kind   ReasonKind
	Code   int
	Detail string
}

// ReasonFromResultCode maps a non-OK gateway result code. Codes outside the
// known set are preserved verbatim as ReasonUnknown.
func ReasonFromResultCode(code int) Reason {
	switch code {
	case ResultNoService:
		return Reason{Kind: ReasonNoService, Code: code}
	case ResultRadioOff:
		return Reason{Kind: ReasonRadioOff, Code: code}
	case ResultGenericFailure:
		return Reason{Kind: ReasonGenericFailure, Code: code}
	default:
		return Reason{Kind: ReasonUnknown, Code: code}
	}
}

// SubmissionReason wraps a synchronous transport rejection.
func SubmissionReason(err error) Reason {
	detail := "submission rejected"
	if err != nil {
		detail = err.Error()
	}
	return Reason{Kind: ReasonSubmission, Detail: detail}
}

// Describe renders the reason the way the status line shows it.
func (r Reason) Describe() string {
	switch r.Kind {
	case ReasonNoService:
		return "No service"
	case ReasonRadioOff:
		return "Radio off"
	case ReasonGenericFailure:
		return "Credit isn't enough or generic failure"
	case ReasonUnknown:
		return fmt.Sprintf("Unknown error (Code: %d)", r.Code)
	case ReasonSubmission:
		return "Error sending message: " + strings.TrimSpace(r.Detail)
	case ReasonCanceled:
		return "Canceled"
	default:
		return "Unknown error"
	}
}

// Label is a low-cardinality form used for metrics and logs.
func (r Reason) Label() string {
	if r.Kind == "" {
		return "none"
	}
	return strings.ToLower(r.Kind.String())
}

// Outcome is an asynchronous delivery result keyed by ticket.
// Reason is meaningful only when Delivered is false.
type Outcome struct {
	Ticket    Ticket
	Delivered bool
	Reason    Reason
}

func Delivered(t Ticket) Outcome {
	return Outcome{Ticket: t, Delivered: true}
}

func Failed(t Ticket, reason Reason) Outcome {
	return Outcome{Ticket: t, Reason: reason}
}

// OutcomeFromResultCode converts a raw gateway result code into an Outcome.
func OutcomeFromResultCode(t Ticket, code int) Outcome {
	if code == ResultOK {
		return Delivered(t)
	}
	return Failed(t, ReasonFromResultCode(code))
}
