package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetBeforeFirstPollReturnsSentinel(t *testing.T) {
	w := New("stage", func() (float64, error) { return 1, nil }, time.Hour, nil)

	if _, ok := w.Get(); ok {
		t.Fatal("Get should report not-yet-available before the first poll")
	}
}

func TestGetReturnsLatestPollResult(t *testing.T) {
	var calls atomic.Int64
	accessor := func() (float64, error) {
		return float64(calls.Add(1)), nil
	}
	w := New("stage", accessor, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Let several intervals elapse.
	time.Sleep(120 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	v, ok := w.Get()
	if !ok {
		t.Fatal("expected a cached value after several intervals")
	}
	// The cached value is the result of the most recent accessor call.
	if v.Value != float64(v.Polls) {
		t.Errorf("cached value %v does not match poll count %d", v.Value, v.Polls)
	}
	if v.Polls == 0 {
		t.Error("poll count should be nonzero")
	}
}

func TestPollCountMonotonic(t *testing.T) {
	w := New("stage", func() (float64, error) { return 0, nil }, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var mu sync.Mutex
	var counts []uint64
	w.OnUpdate(func(_ string, v CachedValue) {
		mu.Lock()
		counts = append(counts, v.Polls)
		mu.Unlock()
	})

	_ = w.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(counts) < 2 {
		t.Fatalf("expected several polls, got %d", len(counts))
	}
	for i := 1; i < len(counts); i++ {
		if counts[i] != counts[i-1]+1 {
			t.Fatalf("poll count not monotonic: %v", counts)
		}
	}
}

func TestGetNeverBlocksAndNeverCallsAccessor(t *testing.T) {
	var calls atomic.Int64
	w := New("stage", func() (float64, error) {
		calls.Add(1)
		return 0, nil
	}, time.Hour, nil)

	for i := 0; i < 1000; i++ {
		w.Get()
	}
	if calls.Load() != 0 {
		t.Fatalf("Get triggered %d accessor calls", calls.Load())
	}
}

func TestPollFailureRetainsLastGoodValue(t *testing.T) {
	var calls atomic.Int64
	accessor := func() (float64, error) {
		n := calls.Add(1)
		if n > 1 {
			return 0, errors.New("instrument unreachable")
		}
		return 7.5, nil
	}
	w := New("current", accessor, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	v, ok := w.Get()
	if !ok {
		t.Fatal("expected the first good value to be cached")
	}
	if v.Value != 7.5 {
		t.Errorf("cached value = %v, want 7.5", v.Value)
	}
	if v.Polls != 1 {
		t.Errorf("poll count = %d, want 1 (failures do not count)", v.Polls)
	}
	if w.ErrCount() == 0 {
		t.Error("expected recorded poll failures")
	}
}
