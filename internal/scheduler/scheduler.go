// Package scheduler runs a unit of work repeatedly, arming the next run only after the
// previous one returns so that runs of the same work never overlap.
package scheduler

import (
	"context"
	"sync"
	"time"
)

// MinInterval is the smallest delay the scheduler will arm.
const MinInterval = time.Millisecond

// IntervalFunc is called after every run to get the delay until the next one.
type IntervalFunc func() time.Duration

// Work is a single run, its context is not cancelled by Handle.Stop.
type Work func(ctx context.Context)

// Handle controls a started schedule.
type Handle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Start runs work after initialDelay and then again after every interval() until the
// handle is stopped or ctx is done.
func Start(ctx context.Context, initialDelay time.Duration, interval IntervalFunc, work Work) *Handle {
	h := &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go h.loop(ctx, initialDelay, interval, work)
	return h
}

func (h *Handle) loop(ctx context.Context, delay time.Duration, interval IntervalFunc, work Work) {
	defer close(h.done)

	workCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(max(delay, 0))
	defer timer.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// a stop that raced with the timer wins
		select {
		case <-h.stop:
			return
		default:
		}

		work(workCtx)

		timer.Reset(max(interval(), MinInterval))
	}
}

// Stop cancels the pending run. A run that is already executing is allowed to finish.
// Calling Stop more than once is a no-op.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Done is closed once the schedule has exited and no run is executing.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
