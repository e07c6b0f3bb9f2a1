//go:build linux

package hrtimer

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// wait arms a one-shot timerfd and blocks on its read until expiry. The fd
// read parks an OS thread rather than a runtime timer, which keeps the wake
// at the kernel's high-resolution timer granularity.
func wait(d time.Duration) error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("timerfd_create: %w", err)
	}
	defer unix.Close(fd)

	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd_settime: %w", err)
	}

	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("timerfd read: %w", err)
		}
		return nil
	}
}
