package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
	"github.com/kursadbilgin/sms-dispatcher/internal/provider"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ provider.Provider = (*AMQPProvider)(nil)

// AMQPProvider hands send requests to gateway workers over RabbitMQ and turns
// their outcome reports into outcome events.
type AMQPProvider struct {
	*provider.Hub

	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewAMQPProvider(client *RabbitMQ, prefetch int, logger *zap.Logger) (*AMQPProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("rabbitmq client is required")
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AMQPProvider{
		Hub:      provider.NewHub(),
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}, nil
}

func (p *AMQPProvider) Submit(ctx context.Context, req domain.SendRequest) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("provider is not initialized")
	}
	if err := req.Validate(); err != nil {
		return &provider.ProviderError{Message: "invalid send request", Cause: err}
	}

	msg := NewSendRequestMessage(req)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return &provider.ProviderError{Message: "broker unavailable", Cause: err}
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     req.Ticket.String(),
		CorrelationId: req.Ticket.RunID,
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, "", SendQueue, false, false, publishing); err != nil {
		return &provider.ProviderError{
			Message: fmt.Sprintf("failed to publish to queue %q", SendQueue),
			Cause:   err,
		}
	}

	return nil
}

// Start consumes the outcome queue until ctx is done, reconnecting with
// backoff when the broker drops the channel.
func (p *AMQPProvider) Start(ctx context.Context) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("provider is not initialized")
	}

	backoff := reconnectBackoff
	for {
		err := p.consumeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		p.logger.Warn("outcome consumer interrupted",
			zap.String("queue", OutcomeQueue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (p *AMQPProvider) consumeOnce(ctx context.Context) error {
	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(p.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(OutcomeQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", OutcomeQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := p.handleDelivery(ctx, d); err != nil {
				return err
			}
		}
	}
}

func (p *AMQPProvider) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	var msg OutcomeMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		p.logger.Warn("rejecting outcome: invalid JSON",
			zap.Error(err),
			zap.String("routingKey", d.RoutingKey),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid message: %w", rejectErr)
		}
		return nil
	}

	if err := msg.Validate(); err != nil {
		p.logger.Warn("rejecting outcome: validation failed",
			zap.Error(err),
			zap.String("runId", msg.RunID),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject invalid payload: %w", rejectErr)
		}
		return nil
	}

	// Outcomes for runs nobody is watching are acknowledged and dropped.
	if p.Publish(ctx, msg.Outcome()) == 0 {
		p.logger.Debug("outcome dropped, no subscriber",
			zap.String("runId", msg.RunID),
			zap.Int("index", msg.Index),
		)
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack delivery: %w", err)
	}
	return nil
}

func (p *AMQPProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
