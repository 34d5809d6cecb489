package service

import (
	"sync"

	"github.com/kursadbilgin/sms-dispatcher/internal/dispatch"
	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
)

var _ dispatch.Observer = (*StatusBoard)(nil)

// StatusBoard keeps the latest progress snapshot for readers such as the
// HTTP API.
type StatusBoard struct {
	mu       sync.RWMutex
	progress domain.Progress
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{progress: domain.Progress{State: domain.StateIdle}}
}

func (b *StatusBoard) OnUpdate(p domain.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress = p
}

func (b *StatusBoard) Snapshot() domain.Progress {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.progress
}
