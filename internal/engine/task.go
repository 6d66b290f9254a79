package engine

import (
	"time"

	"go.uber.org/zap"
)

const (
	taskAIFallback = "ai_fallback"
	taskAIMove     = "ai_move"
)

// task is deferred work aimed at one queue entry or session. The guard is
// evaluated on the reactor when the task fires; if the target has moved on
// the task is dropped.
type task struct {
	kind   string
	target string
	guard  func() bool
	run    func()
}

type scheduler interface {
	schedule(d time.Duration, t task)
}

// timerScheduler posts fired tasks back onto the reactor. Timers are never
// cancelled; the guard handles targets that disappeared in the meantime.
type timerScheduler struct {
	e *Engine
}

func (s timerScheduler) schedule(d time.Duration, t task) {
	time.AfterFunc(d, func() {
		s.e.post(func() { s.e.fire(t) })
	})
}

func (e *Engine) fire(t task) {
	if !t.guard() {
		e.log.Debug("dropping stale task", zap.String("task", t.kind), zap.String("target", t.target))
		return
	}
	t.run()
}
