package daemon

import (
	"fmt"
	"time"

	"github.com/instamatic-dev/instamatic-sub003/internal/events"
	"github.com/instamatic-dev/instamatic-sub003/internal/experiment"
	"github.com/instamatic-dev/instamatic-sub003/internal/hrtimer"
	"github.com/instamatic-dev/instamatic-sub003/internal/model"
)

// runCred is the continuous acquisition handler. It keeps acquiring frames
// until CredStop is raised, checking the signal before every hardware call:
// a stop raised before entry is observed on the very first check, so at most
// one frame is acquired after a stop. There is no mid-call abort; the
// cancellation latency is bounded by one exposure.
func (d *Dispatcher) runCred(task model.Task) error {
	exposure := task.Float("exposure", d.cfg.Cred.DefaultExposureSec)
	settle := task.Float("settle", 0)
	name := task.Str("name", "cred_"+task.ID[:8])

	collection, err := experiment.NewCollection(d.outputDir, name)
	if err != nil {
		return fmt.Errorf("cred %s: %w", name, err)
	}

	if task.Bool("unblank", false) {
		if err := d.scope.BlankBeam(false); err != nil {
			return fmt.Errorf("cred %s: unblank: %w", name, err)
		}
		defer d.scope.BlankBeam(true)
	}

	d.log(LogLevelInfo, "cred_started name=%s exposure=%gs", name, exposure)

	retriesLeft := d.cfg.Cred.FrameRetries
	for {
		if d.signals.CredStop.IsRaised() {
			d.signals.CredStop.Clear()
			break
		}

		frame, err := d.scope.AcquireImage(exposure)
		if err != nil {
			if retriesLeft > 0 {
				retriesLeft--
				d.log(LogLevelWarn, "cred_frame_retry name=%s error=%v", name, err)
				continue
			}
			collection.Close()
			return fmt.Errorf("cred %s: acquire frame %d: %w", name, collection.Count(), err)
		}
		retriesLeft = d.cfg.Cred.FrameRetries

		// The per-frame consumer path runs synchronously; a slow sink
		// stalls the next hardware call rather than buffering frames.
		if err := collection.Append(frame); err != nil {
			collection.Close()
			return fmt.Errorf("cred %s: store frame: %w", name, err)
		}
		d.bus.Publish(events.EventFrameCollected, map[string]interface{}{
			"task_id": task.ID,
			"handler": "cred",
			"name":    name,
			"frame":   collection.Count() - 1,
		})

		if settle > 0 {
			if err := hrtimer.Wait(time.Duration(settle * float64(time.Second))); err != nil {
				d.log(LogLevelWarn, "cred_settle_wait name=%s error=%v", name, err)
			}
		}
	}

	if err := collection.Close(); err != nil {
		return fmt.Errorf("cred %s: close collection: %w", name, err)
	}
	d.log(LogLevelInfo, "cred_finished name=%s frames=%d", name, collection.Count())
	return nil
}
