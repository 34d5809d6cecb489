package provider

import (
	"context"
	"sync"

	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
)

const defaultSubscriptionBuffer = 64

// Provider is the outbound send port. Submit accepts or rejects a request
// immediately; the outcome arrives later on every live Subscription, tagged
// with the request's ticket. Submit must never block on outcome delivery.
type Provider interface {
	Submit(ctx context.Context, req domain.SendRequest) error
	Subscribe() *Subscription
}

// Hub fans outcome events out to subscriptions. The zero value is ready to use.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscription is one consumer's view of the outcome stream.
type Subscription struct {
	hub  *Hub
	ch   chan domain.Outcome
	done chan struct{}
	once sync.Once
}

func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		hub:  h,
		ch:   make(chan domain.Outcome, defaultSubscriptionBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[*Subscription]struct{})
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Publish hands the outcome to every live subscription and returns how many
// accepted it. A subscription closed while Publish waits is skipped.
func (h *Hub) Publish(ctx context.Context, outcome domain.Outcome) int {
	if ctx == nil {
		ctx = context.Background()
	}

	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		select {
		case sub.ch <- outcome:
			delivered++
		case <-sub.done:
		case <-ctx.Done():
			return delivered
		}
	}
	return delivered
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Subscription) C() <-chan domain.Outcome { return s.ch }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. Events not yet read are abandoned.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		if s.hub == nil {
			return
		}
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
	})
}
