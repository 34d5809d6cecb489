package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
	"github.com/kursadbilgin/sms-dispatcher/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestRunHandler_StartRun(t *testing.T) {
	t.Parallel()

	var got domain.Job
	svc := &stubRunService{
		startFn: func(ctx context.Context, job domain.Job) (string, error) {
			got = job
			return "run-1", nil
		},
	}
	app := newRunTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/runs",
		`{"to":" +905551112233 ","body":"hello","count":"3","delay":2}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["runId"] != "run-1" {
		t.Fatalf("runId = %v, want run-1", accepted["runId"])
	}
	if accepted["state"] != domain.StateRunning.String() {
		t.Fatalf("state = %v, want RUNNING", accepted["state"])
	}

	want := domain.Job{Destination: "+905551112233", Body: "hello", TargetCount: 3, Delay: 2 * time.Second}
	if got != want {
		t.Fatalf("job = %+v, want %+v", got, want)
	}
}

func TestRunHandler_StartRunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		startErr error
		want     int
	}{
		{name: "malformed body", body: `{`, want: fiber.StatusBadRequest},
		{name: "missing destination", body: `{"to":"","body":"hi","count":"1","delay":"1"}`, want: fiber.StatusBadRequest},
		{name: "zero count", body: `{"to":"1","body":"hi","count":"0","delay":"1"}`, want: fiber.StatusBadRequest},
		{name: "non numeric delay", body: `{"to":"1","body":"hi","count":"1","delay":"soon"}`, want: fiber.StatusBadRequest},
		{name: "delay below minimum", body: `{"to":"1","body":"hi","count":"1","delay":0}`, want: fiber.StatusBadRequest},
		{
			name:     "run in progress",
			body:     `{"to":"1","body":"hi","count":"1","delay":"1"}`,
			startErr: domain.ErrRunInProgress,
			want:     fiber.StatusConflict,
		},
		{
			name:     "unexpected failure",
			body:     `{"to":"1","body":"hi","count":"1","delay":"1"}`,
			startErr: errors.New("boom"),
			want:     fiber.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubRunService{
				startFn: func(context.Context, domain.Job) (string, error) {
					if tt.startErr != nil {
						return "", tt.startErr
					}
					return "run-1", nil
				},
			}
			app := newRunTestApp(t, svc)

			resp, body := performRequest(t, app, http.MethodPost, "/v1/runs", tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.want, string(body))
			}
		})
	}
}

func TestRunHandler_CurrentRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		progress    domain.Progress
		enabled     bool
		wantState   string
		wantMessage string
		wantReason  string
	}{
		{
			name:        "idle",
			progress:    domain.Progress{},
			enabled:     true,
			wantState:   "IDLE",
			wantMessage: "Ready",
		},
		{
			name:        "attempting",
			progress:    domain.Progress{RunID: "r", State: domain.StateRunning, Sent: 1, Target: 3, Attempting: 2},
			wantState:   "RUNNING",
			wantMessage: "Attempting 2 of 3",
		},
		{
			name: "stopped",
			progress: domain.Progress{
				RunID: "r", State: domain.StateStopped, Sent: 1, Target: 3,
				Reason: &domain.Reason{Kind: domain.ReasonUnknown, Code: 7},
			},
			enabled:     true,
			wantState:   "STOPPED",
			wantMessage: "Stopped - Unknown error (Code: 7)",
			wantReason:  "UNKNOWN",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubRunService{progress: tt.progress, enabled: tt.enabled}
			app := newRunTestApp(t, svc)

			resp, body := performRequest(t, app, http.MethodGet, "/v1/runs/current", "")
			if resp.StatusCode != fiber.StatusOK {
				t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
			}

			var status runStatusResponse
			if err := json.Unmarshal(body, &status); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if status.State != tt.wantState {
				t.Fatalf("state = %s, want %s", status.State, tt.wantState)
			}
			if status.Message != tt.wantMessage {
				t.Fatalf("message = %q, want %q", status.Message, tt.wantMessage)
			}
			if status.Enabled != tt.enabled {
				t.Fatalf("enabled = %v, want %v", status.Enabled, tt.enabled)
			}
			if tt.wantReason == "" && status.Reason != nil {
				t.Fatalf("reason = %+v, want nil", status.Reason)
			}
			if tt.wantReason != "" && (status.Reason == nil || status.Reason.Kind != tt.wantReason) {
				t.Fatalf("reason = %+v, want kind %s", status.Reason, tt.wantReason)
			}
		})
	}
}

func TestRunHandler_CancelRun(t *testing.T) {
	t.Parallel()

	t.Run("active run", func(t *testing.T) {
		t.Parallel()

		canceled := false
		svc := &stubRunService{
			cancelFn: func() error {
				canceled = true
				return nil
			},
		}
		app := newRunTestApp(t, svc)

		resp, body := performRequest(t, app, http.MethodPost, "/v1/runs/current/cancel", "")
		if resp.StatusCode != fiber.StatusAccepted {
			t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
		}
		if !canceled {
			t.Fatal("Cancel() was not called")
		}
	})

	t.Run("idle", func(t *testing.T) {
		t.Parallel()

		svc := &stubRunService{
			cancelFn: func() error {
				return fmt.Errorf("%w: no active run", domain.ErrNotFound)
			},
		}
		app := newRunTestApp(t, svc)

		resp, body := performRequest(t, app, http.MethodPost, "/v1/runs/current/cancel", "")
		if resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("status = %d, want 404, body=%s", resp.StatusCode, string(body))
		}

		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if payload["error"] == "" {
			t.Fatalf("error payload missing: %s", string(body))
		}
	})
}

func TestNewRunHandlerRequiresService(t *testing.T) {
	t.Parallel()

	if err := RegisterRunRoutes(fiber.New(), nil); err == nil {
		t.Fatal("RegisterRunRoutes(nil) error = nil, want error")
	}
}

func TestHealth_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, nil)

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when redis healthy", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, map[string]Check{"redis": RedisCheck(rdb)})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when a dependency is down", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, map[string]Check{
			"redis":  RedisCheck(rdb),
			"broker": func(context.Context) error { return errors.New("broker down") },
		})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}

		var payload struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if payload.Checks["redis"] != "ok" || payload.Checks["broker"] != "down" {
			t.Fatalf("checks = %v", payload.Checks)
		}
	})
}

type stubRunService struct {
	startFn  func(ctx context.Context, job domain.Job) (string, error)
	cancelFn func() error
	progress domain.Progress
	enabled  bool
}

func (s *stubRunService) Start(ctx context.Context, job domain.Job) (string, error) {
	if s.startFn != nil {
		return s.startFn(ctx, job)
	}
	return "", errors.New("not implemented")
}

func (s *stubRunService) Current() (domain.Progress, bool) {
	return s.progress, s.enabled
}

func (s *stubRunService) Cancel() error {
	if s.cancelFn != nil {
		return s.cancelFn()
	}
	return nil
}

func newRunTestApp(t *testing.T, svc RunService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterRunRoutes(app, svc); err != nil {
		t.Fatalf("RegisterRunRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
