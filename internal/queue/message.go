package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
)

// SendRequestMessage is the broker payload for one submission.
type SendRequestMessage struct {
	RunID   string `json:"runId"`
	Index   int    `json:"index"`
	To      string `json:"to"`
	Content string `json:"content"`
}

func NewSendRequestMessage(req domain.SendRequest) SendRequestMessage {
	return SendRequestMessage{
		RunID:   req.Ticket.RunID,
		Index:   req.Ticket.Index,
		To:      req.Destination,
		Content: req.Body,
	}
}

func (m SendRequestMessage) Validate() error {
	if strings.TrimSpace(m.RunID) == "" {
		return fmt.Errorf("runId is required")
	}
	if m.Index < 1 {
		return fmt.Errorf("index must be positive (got %d)", m.Index)
	}
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("to is required")
	}
	if m.Content == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

// OutcomeMessage is the gateway's report for one ticket. ResultCode uses the
// platform codes, -1 meaning sent.
type OutcomeMessage struct {
	RunID      string `json:"runId"`
	Index      int    `json:"index"`
	ResultCode *int   `json:"resultCode"`
}

func (m OutcomeMessage) Validate() error {
	if strings.TrimSpace(m.RunID) == "" {
		return fmt.Errorf("runId is required")
	}
	if m.Index < 1 {
		return fmt.Errorf("index must be positive (got %d)", m.Index)
	}
	if m.ResultCode == nil {
		return fmt.Errorf("resultCode is required")
	}
	return nil
}

func (m OutcomeMessage) Outcome() domain.Outcome {
	ticket := domain.Ticket{RunID: m.RunID, Index: m.Index}
	if m.ResultCode == nil {
		return domain.Failed(ticket, domain.Reason{Kind: domain.ReasonUnknown})
	}
	return domain.OutcomeFromResultCode(ticket, *m.ResultCode)
}
