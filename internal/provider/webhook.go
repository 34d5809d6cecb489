package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
	"go.uber.org/zap"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	To      string `json:"to"`
	Content string `json:"content"`
	RunID   string `json:"runId"`
	Index   int    `json:"index"`
}

type webhookResponse struct {
	ResultCode *int `json:"resultCode"`
}

var _ Provider = (*WebhookProvider)(nil)

// WebhookProvider posts each send to an HTTP SMS gateway. The gateway's reply
// becomes the outcome: a 2xx answer carries an optional platform resultCode
// (absent means delivered), any other status is a generic failure and an
// unreachable gateway is reported as no service.
type WebhookProvider struct {
	*Hub

	client   *resty.Client
	endpoint string
	logger   *zap.Logger
	inflight sync.WaitGroup
}

func NewWebhookProvider(endpoint string, timeout time.Duration, logger *zap.Logger) (*WebhookProvider, error) {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewWebhookProviderWithClient(endpoint, client, logger)
}

func NewWebhookProviderWithClient(endpoint string, client *resty.Client, logger *zap.Logger) (*WebhookProvider, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookProvider{
		Hub:      NewHub(),
		client:   client,
		endpoint: trimmedEndpoint,
		logger:   logger,
	}, nil
}

func (p *WebhookProvider) Submit(ctx context.Context, req domain.SendRequest) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("provider is not initialized")
	}
	if err := req.Validate(); err != nil {
		return &ProviderError{Message: "invalid send request", Cause: err}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()

		outcome := p.deliver(ctx, req)
		if p.Publish(context.Background(), outcome) == 0 {
			p.logger.Debug("outcome dropped, no subscriber",
				zap.String("ticket", req.Ticket.String()),
				zap.Bool("delivered", outcome.Delivered),
			)
		}
	}()

	return nil
}

// Close waits for in-flight gateway calls to report.
func (p *WebhookProvider) Close() error {
	if p == nil {
		return nil
	}
	p.inflight.Wait()
	return nil
}

func (p *WebhookProvider) deliver(ctx context.Context, req domain.SendRequest) domain.Outcome {
	reqBody := webhookRequest{
		To:      req.Destination,
		Content: req.Body,
		RunID:   req.Ticket.RunID,
		Index:   req.Ticket.Index,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Correlation-ID", req.Ticket.String()).
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		p.logger.Warn("gateway request failed",
			zap.String("ticket", req.Ticket.String()),
			zap.Error(err),
		)
		return domain.Failed(req.Ticket, domain.Reason{
			Kind:   domain.ReasonNoService,
			Code:   domain.ResultNoService,
			Detail: err.Error(),
		})
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return domain.Failed(req.Ticket, domain.Reason{
			Kind:   domain.ReasonGenericFailure,
			Code:   domain.ResultGenericFailure,
			Detail: gatewayErrorMessage(statusCode, responseBody),
		})
	}

	if responseBody == "" {
		return domain.Delivered(req.Ticket)
	}

	var parsed webhookResponse
	if err := json.Unmarshal([]byte(responseBody), &parsed); err != nil || parsed.ResultCode == nil {
		return domain.Delivered(req.Ticket)
	}

	return domain.OutcomeFromResultCode(req.Ticket, *parsed.ResultCode)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
