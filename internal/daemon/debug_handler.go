package daemon

import (
	"fmt"
	"time"

	"github.com/instamatic-dev/instamatic-sub003/internal/model"
	"github.com/instamatic-dev/instamatic-sub003/internal/watch"
)

// SetWatchers hands the dispatcher the background pollers so the debug
// handler can dump their caches. Must be called before Run.
func (d *Dispatcher) SetWatchers(watchers []*watch.Watcher) {
	d.watchers = watchers
}

// runDebug dumps instrument and daemon state to the log. With payload key
// "live" set, it also queries the stage directly through the guarded handle;
// the dispatcher owns the instrument here, so the call is safe.
func (d *Dispatcher) runDebug(task model.Task) error {
	d.log(LogLevelInfo, "debug_dump queue_len=%d", d.queue.Len())

	for _, w := range d.watchers {
		v, ok := w.Get()
		if !ok {
			d.log(LogLevelInfo, "debug_watcher name=%s value=unavailable errs=%d",
				w.Name(), w.ErrCount())
			continue
		}
		d.log(LogLevelInfo, "debug_watcher name=%s value=%g age=%s polls=%d errs=%d",
			w.Name(), v.Value, time.Since(v.PolledAt).Round(time.Millisecond),
			v.Polls, w.ErrCount())
	}

	if task.Bool("live", false) {
		pos, err := d.scope.StagePosition()
		if err != nil {
			return fmt.Errorf("debug: stage position: %w", err)
		}
		d.log(LogLevelInfo, "debug_stage x=%g y=%g z=%g alpha=%g",
			pos.X, pos.Y, pos.Z, pos.Alpha)
	}
	return nil
}
