package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
)

type RunService interface {
	Start(ctx context.Context, job domain.Job) (string, error)
	Current() (domain.Progress, bool)
	Cancel() error
}

type RunHandler struct {
	service RunService
}

func NewRunHandler(service RunService) (*RunHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("run service is required")
	}
	return &RunHandler{service: service}, nil
}

func RegisterRunRoutes(router fiber.Router, service RunService) error {
	h, err := NewRunHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/runs", h.StartRun)
	v1.Get("/runs/current", h.CurrentRun)
	v1.Post("/runs/current/cancel", h.CancelRun)

	return nil
}

// formValue accepts both JSON strings and numbers so that form-style clients
// can post {"count":"5"} as well as {"count":5}.
type formValue string

func (v *formValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = formValue(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*v = formValue(n.String())
	return nil
}

type startRunRequest struct {
	To    formValue `json:"to"`
	Body  formValue `json:"body"`
	Count formValue `json:"count"`
	Delay formValue `json:"delay"`
}

type startRunResponse struct {
	RunID string `json:"runId"`
	State string `json:"state"`
}

type reasonResponse struct {
	Kind   string `json:"kind"`
	Code   int    `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type runStatusResponse struct {
	RunID      string          `json:"runId,omitempty"`
	State      string          `json:"state"`
	Sent       int             `json:"sent"`
	Target     int             `json:"target"`
	Attempting int             `json:"attempting,omitempty"`
	Percent    int             `json:"percent"`
	Reason     *reasonResponse `json:"reason,omitempty"`
	Message    string          `json:"message"`
	Enabled    bool            `json:"enabled"`
}

func (h *RunHandler) StartRun(c *fiber.Ctx) error {
	var req startRunRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job, err := domain.ParseJob(string(req.To), string(req.Body), string(req.Count), string(req.Delay))
	if err != nil {
		return toHTTPError(err)
	}

	runID, err := h.service.Start(c.UserContext(), job)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(startRunResponse{
		RunID: runID,
		State: domain.StateRunning.String(),
	})
}

func (h *RunHandler) CurrentRun(c *fiber.Ctx) error {
	progress, enabled := h.service.Current()
	return c.Status(fiber.StatusOK).JSON(toRunStatusResponse(progress, enabled))
}

func (h *RunHandler) CancelRun(c *fiber.Ctx) error {
	if err := h.service.Cancel(); err != nil {
		return toHTTPError(err)
	}

	progress, enabled := h.service.Current()
	return c.Status(fiber.StatusAccepted).JSON(toRunStatusResponse(progress, enabled))
}

func toRunStatusResponse(p domain.Progress, enabled bool) runStatusResponse {
	resp := runStatusResponse{
		RunID:      p.RunID,
		State:      p.State.String(),
		Sent:       p.Sent,
		Target:     p.Target,
		Attempting: p.Attempting,
		Percent:    p.Percent(),
		Message:    p.Message(),
		Enabled:    enabled,
	}
	if resp.State == "" {
		resp.State = domain.StateIdle.String()
	}
	if p.Reason != nil {
		resp.Reason = &reasonResponse{
			Kind:   p.Reason.Kind.String(),
			Code:   p.Reason.Code,
			Detail: p.Reason.Detail,
		}
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrRunInProgress):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
