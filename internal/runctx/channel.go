package runctx

import (
	"context"
	"sync"

	"invoicedash/internal/logging"
)

func RecvOrDone[T any](ctx context.Context, name string, logger *logging.Logger, in <-chan T) (T, bool) {
	if logger == nil {
		panic("runctx.RecvOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug("stopping "+name+": context canceled", logging.Field("error", ctx.Err()))
		var zero T
		return zero, false
	case v, ok := <-in:
		if !ok {
			logger.Debug("stopping " + name + ": input channel closed")
		}
		return v, ok
	}
}

// Trigger collapses any number of Notify calls made before the receiver
// wakes into one wake-up carrying the union of their flags.
type Trigger struct {
	mu      sync.Mutex
	pending uint32
	wake    chan struct{}
}

func NewTrigger() *Trigger {
	return &Trigger{wake: make(chan struct{}, 1)}
}

func (t *Trigger) Notify(flags uint32) {
	if flags == 0 {
		return
	}
	t.mu.Lock()
	t.pending |= flags
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until flags are pending or ctx is done, then takes them all.
func (t *Trigger) Wait(ctx context.Context, name string, logger *logging.Logger) (uint32, bool) {
	for {
		if _, ok := RecvOrDone[struct{}](ctx, name, logger, t.wake); !ok {
			return 0, false
		}
		t.mu.Lock()
		flags := t.pending
		t.pending = 0
		t.mu.Unlock()
		if flags != 0 {
			return flags, true
		}
	}
}
