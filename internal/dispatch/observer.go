package dispatch

import "github.com/kursadbilgin/sms-dispatcher/internal/domain"

// Observer receives progress snapshots for a run. All calls for one run come
// from a single goroutine and the terminal snapshot is always the last one.
type Observer interface {
	OnUpdate(p domain.Progress)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(p domain.Progress)

func (f ObserverFunc) OnUpdate(p domain.Progress) { f(p) }

type nopObserver struct{}

func (nopObserver) OnUpdate(domain.Progress) {}
