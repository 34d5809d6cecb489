package main

import (
	"fmt"
	"io"

	"github.com/kursadbilgin/sms-dispatcher/internal/domain"
)

// consoleObserver prints one status line per visible change. Calls come from
// the dispatcher's single goroutine, so no locking.
type consoleObserver struct {
	out  io.Writer
	last string
}

func newConsoleObserver(out io.Writer) *consoleObserver {
	return &consoleObserver{out: out}
}

func (o *consoleObserver) OnUpdate(p domain.Progress) {
	line := fmt.Sprintf("Status: %s | Sent: %d/%d (%d%%)", p.Message(), p.Sent, p.Target, p.Percent())
	if line == o.last {
		return
	}
	o.last = line
	fmt.Fprintln(o.out, line)
}
