// Package watch implements the background poller that keeps a cached copy of
// slowly-changing instrument state for non-blocking reads.
package watch

import (
	"context"
	"log"
	"sync"
	"time"
)

// Accessor is the polled callable. It typically closes over the guarded
// microscope handle.
type Accessor func() (float64, error)

// CachedValue is the last completed poll result.
type CachedValue struct {
	Value    float64
	PolledAt time.Time
	Polls    uint64
}

// Watcher invokes one accessor on a fixed interval and caches the latest
// result. Readers call Get, which never blocks and never touches hardware.
// Staleness is bounded by one interval.
type Watcher struct {
	name     string
	accessor Accessor
	interval time.Duration
	logger   *log.Logger

	mu       sync.RWMutex
	value    CachedValue
	hasValue bool
	errCount uint64

	onUpdate func(name string, v CachedValue)
}

// New composes a watcher from an accessor and a poll interval. The logger may
// be nil; poll failures are then dropped silently.
func New(name string, accessor Accessor, interval time.Duration, logger *log.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		name:     name,
		accessor: accessor,
		interval: interval,
		logger:   logger,
	}
}

// Name returns the watcher's identifier.
func (w *Watcher) Name() string { return w.name }

// OnUpdate registers a callback invoked after each successful poll. Must be
// set before Run.
func (w *Watcher) OnUpdate(fn func(name string, v CachedValue)) {
	w.onUpdate = fn
}

// Run polls until ctx is cancelled. It sleeps one full interval before the
// first poll, so Get returns the not-yet-available sentinel at startup.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	value, err := w.accessor()
	if err != nil {
		w.mu.Lock()
		w.errCount++
		w.mu.Unlock()
		if w.logger != nil {
			w.logger.Printf("%s WARN watcher %s: poll failed: %v",
				time.Now().Format(time.RFC3339), w.name, err)
		}
		// Last good value stays cached.
		return
	}

	w.mu.Lock()
	w.value = CachedValue{
		Value:    value,
		PolledAt: time.Now(),
		Polls:    w.value.Polls + 1,
	}
	w.hasValue = true
	v := w.value
	w.mu.Unlock()

	if w.onUpdate != nil {
		w.onUpdate(w.name, v)
	}
}

// Get returns the most recent cached value. ok is false until the first poll
// completes.
func (w *Watcher) Get() (CachedValue, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value, w.hasValue
}

// ErrCount reports how many polls have failed since start.
func (w *Watcher) ErrCount() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.errCount
}
