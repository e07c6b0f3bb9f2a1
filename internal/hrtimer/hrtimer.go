// Package hrtimer provides a blocking wait with finer resolution than the
// scheduler's default granularity, used to pace acquisition triggers. On
// Linux it registers a one-shot timerfd with the monotonic clock and blocks
// on its read; elsewhere it falls back to a runtime timer.
//
// A wait, once issued, cannot be aborted. Callers that need an abortable
// delay must not use this package.
package hrtimer

import (
	"fmt"
	"sync/atomic"
	"time"
)

var active atomic.Int64

// Active reports the number of timer resources currently registered. It
// returns to its previous value after every Wait, failed or not.
func Active() int64 { return active.Load() }

// Wait blocks the caller for at least d. The timer resource is always
// released before Wait returns.
func Wait(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	active.Add(1)
	defer active.Add(-1)
	if err := wait(d); err != nil {
		return fmt.Errorf("high-resolution wait: %w", err)
	}
	return nil
}
