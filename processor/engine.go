package processor

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/record"
)

// IdleHandler is implemented by handlers that want to know when a processor
// drained all its providers.
type IdleHandler interface {
	OnNoMoreToProcess()
}

// slot is one provider and the handler call for its batches.
type slot struct {
	provider  record.Provider
	available atomic.Bool
	process   func(buf *record.Buffer)
}

// engine is the scheduling core shared by the record and subscription
// processors. scheduled is the only state shared between signalling
// goroutines and the running task.
type engine struct {
	cfg    *config
	exec   Executor
	onIdle func()

	slots []*slot
	buf   *record.Buffer

	scheduled atomic.Bool
	started   atomic.Bool
	stopped   atomic.Bool
}

func newEngine(cfg *config, exec Executor, handler any) *engine {
	e := &engine{cfg: cfg, exec: exec, buf: record.NewBuffer(cfg.batchSize)}
	if h, ok := handler.(IdleHandler); ok {
		e.onIdle = h.OnNoMoreToProcess
	}

	return e
}

func (e *engine) start(slots []*slot) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: processor %s already started", errs.ErrInvalidState, e.cfg.name)
	}
	e.slots = slots
	for _, s := range slots {
		s.available.Store(true)
		s.provider.SetListener(record.ListenerFunc(func(record.Provider) {
			s.available.Store(true)
			e.schedule()
		}))
	}
	e.schedule()

	return nil
}

func (e *engine) stop() {
	if e.stopped.Swap(true) {
		return
	}
	for _, s := range e.slots {
		s.provider.SetListener(nil)
	}
}

func (e *engine) schedule() {
	if e.stopped.Load() {
		return
	}
	if e.scheduled.CompareAndSwap(false, true) {
		e.exec.Execute(e.run)
	}
}

func (e *engine) pending() bool {
	for _, s := range e.slots {
		if s.available.Load() {
			return true
		}
	}

	return false
}

func (e *engine) run() {
	if e.stopped.Load() {
		e.scheduled.Store(false)
		return
	}

	more, failed := e.step()
	if failed {
		e.retry()
		return
	}
	if e.cfg.backoff != nil {
		e.cfg.backoff.Reset()
	}
	if more {
		e.exec.Execute(e.run)
		return
	}

	e.scheduled.Store(false)
	// a signal may have arrived after the last retrieve
	if e.pending() {
		e.schedule()
		return
	}
	if e.onIdle != nil {
		e.onIdle()
	}
}

// step hands at most one batch per available provider to the handler.
func (e *engine) step() (more bool, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.cfg.logger.Error("processing failed",
				zap.String("processor", e.cfg.name),
				zap.Any("panic", r),
				zap.Stack("stack"))
			for _, s := range e.slots {
				s.available.Store(true)
			}
			failed = true
		}
	}()

	for _, s := range e.slots {
		if !s.available.Load() {
			continue
		}
		s.available.Store(false)
		e.buf.Clear()
		if s.provider.Retrieve(e.buf) {
			s.available.Store(true)
		}
		if e.buf.Len() > 0 {
			s.process(e.buf)
		}
	}
	e.buf.Clear()

	return e.pending(), false
}

func (e *engine) retry() {
	var delay time.Duration
	if e.cfg.backoff != nil {
		delay = e.cfg.backoff.NextBackOff()
		if delay == backoff.Stop {
			e.cfg.logger.Warn("processor gave up after repeated failures", zap.String("processor", e.cfg.name))
			e.scheduled.Store(false)

			return
		}
	}
	if delay <= 0 {
		e.exec.Execute(e.run)
		return
	}
	time.AfterFunc(delay, func() { e.exec.Execute(e.run) })
}
