//go:build !linux

package hrtimer

import "time"

// wait falls back to a runtime timer where no timerfd equivalent is wired.
// Resolution is then bounded by the platform's scheduling granularity.
func wait(d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	<-t.C
	return nil
}
