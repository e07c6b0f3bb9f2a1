package daemon

import (
	"fmt"
	"log"
	"time"

	"github.com/instamatic-dev/instamatic-sub003/internal/events"
	"github.com/instamatic-dev/instamatic-sub003/internal/experiment"
	"github.com/instamatic-dev/instamatic-sub003/internal/microscope"
	"github.com/instamatic-dev/instamatic-sub003/internal/model"
	"github.com/instamatic-dev/instamatic-sub003/internal/trigger"
	"github.com/instamatic-dev/instamatic-sub003/internal/watch"
)

// Signals is the coordination surface between producers and the dispatch
// loop. The dispatcher owns it; producers receive a reference at
// construction time.
//
// Producer contract: set exactly one mode signal, then raise Trigger. The
// dispatcher assumes a wake always has a mode signal (or Exit) behind it.
type Signals struct {
	Trigger *trigger.Signal
	Exit    *trigger.Signal

	Ctrl      *trigger.Signal
	CredStart *trigger.Signal
	CredStop  *trigger.Signal
	SedStart  *trigger.Signal
	SedStop   *trigger.Signal
	Debug     *trigger.Signal
}

// NewSignals creates the full signal set, all cleared.
func NewSignals() *Signals {
	return &Signals{
		Trigger:   trigger.NewSignal("trigger"),
		Exit:      trigger.NewSignal("exit"),
		Ctrl:      trigger.NewSignal("ctrl"),
		CredStart: trigger.NewSignal("cred_start"),
		CredStop:  trigger.NewSignal("cred_stop"),
		SedStart:  trigger.NewSignal("sed_start"),
		SedStop:   trigger.NewSignal("sed_stop"),
		Debug:     trigger.NewSignal("debug"),
	}
}

// Dispatcher is the single consumer of the trigger signal. All instrument
// work initiated through commands funnels through its loop, which runs
// exactly one handler at a time; that single goroutine is the system's
// mutual-exclusion mechanism for acquisition.
type Dispatcher struct {
	cfg       model.Config
	signals   *Signals
	queue     *trigger.Queue
	scope     *microscope.Guarded
	bus       *events.Bus
	logger    *log.Logger
	logLevel  LogLevel
	workDir   string
	outputDir string
	factory   experiment.Factory
	watchers  []*watch.Watcher

	done chan struct{}
}

// NewDispatcher wires the dispatch loop. The experiment factory may be nil,
// in which case the default SED implementation is used.
func NewDispatcher(
	cfg model.Config,
	scope *microscope.Guarded,
	bus *events.Bus,
	workDir, outputDir string,
	logger *log.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		signals:   NewSignals(),
		queue:     trigger.NewQueue(cfg.Dispatch.QueueSize),
		scope:     scope,
		bus:       bus,
		logger:    logger,
		logLevel:  parseLogLevel(cfg.Logging.Level),
		workDir:   workDir,
		outputDir: outputDir,
		factory:   experiment.NewSed,
		done:      make(chan struct{}),
	}
}

// SetExperimentFactory overrides the SED experiment constructor for testing.
// Must be called before Run.
func (d *Dispatcher) SetExperimentFactory(f experiment.Factory) {
	d.factory = f
}

// Signals exposes the signal set to producers.
func (d *Dispatcher) Signals() *Signals { return d.signals }

// QueueLen reports the number of pending tasks.
func (d *Dispatcher) QueueLen() int { return d.queue.Len() }

// Done is closed when the loop has terminated.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Submit enqueues a task, raises its mode signal, then raises Trigger — the
// ordering the loop depends on.
func (d *Dispatcher) Submit(task model.Task) error {
	if err := d.queue.Push(task); err != nil {
		return err
	}
	d.modeSignal(task.Category).Raise()
	d.signals.Trigger.Raise()
	d.log(LogLevelInfo, "task_submitted id=%s category=%s", task.ID, task.Category)
	return nil
}

// Stop raises the stop signal for a long-running mode. The running handler
// observes it on its next loop check.
func (d *Dispatcher) Stop(category model.Category) error {
	switch category {
	case model.CategoryCred:
		d.signals.CredStop.Raise()
	case model.CategorySed:
		d.signals.SedStop.Raise()
	default:
		return fmt.Errorf("category %s has no stop signal", category)
	}
	d.log(LogLevelInfo, "stop_requested category=%s", category)
	return nil
}

// RequestExit asks the loop to terminate after the current handler returns.
func (d *Dispatcher) RequestExit() {
	d.signals.Exit.Raise()
	d.signals.Trigger.Raise()
}

// Run executes the dispatch loop until Exit is observed (or a handler error
// under the abort policy). It must run on exactly one goroutine.
func (d *Dispatcher) Run() {
	defer close(d.done)
	d.log(LogLevelInfo, "dispatcher ready policy=%s", d.cfg.Dispatch.FailurePolicy)

	for {
		d.signals.Trigger.Wait()

		// Exit wins over any pending mode signal.
		if d.signals.Exit.IsRaised() {
			d.shutdown("exit_requested")
			return
		}

		category, found := d.matchMode()
		if !found {
			// Producer contract violation: woken with nothing to do.
			d.log(LogLevelWarn, "spurious trigger: no mode signal raised")
			d.signals.Trigger.Clear()
			continue
		}

		task, ok := d.queue.TryPop(category)
		if !ok {
			// A mode signal without a queued task runs the handler with
			// an empty payload.
			task = model.NewTask(category, nil)
		} else if d.queue.Has(category) {
			// The signal is level-triggered: several same-category submits
			// collapse into one raise, but each wake pops exactly one task.
			// Re-raise so the backlog drains one task per iteration.
			d.modeSignal(category).Raise()
		}

		d.bus.Publish(events.EventHandlerStarted, map[string]interface{}{
			"task_id": task.ID,
			"handler": category.String(),
		})
		start := time.Now()
		err := d.runHandler(category, task)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		d.bus.Publish(events.EventHandlerFinished, map[string]interface{}{
			"task_id":     task.ID,
			"handler":     category.String(),
			"outcome":     outcome,
			"duration_ms": time.Since(start).Milliseconds(),
		})

		if err != nil {
			d.logHandlerError(category, task, err)
			if d.cfg.Dispatch.FailurePolicy == model.FailureAbort {
				d.shutdown("handler_error_abort")
				return
			}
		}

		d.signals.Trigger.Clear()

		// A task submitted while the handler ran raised Trigger before the
		// clear above consumed it; its mode signal is still set. Re-arm so
		// that work is picked up on the next iteration instead of waiting
		// for an unrelated wake.
		if d.pendingWork() {
			d.signals.Trigger.Raise()
		}
	}
}

// modeSignal maps a category to its start signal. The switch is exhaustive
// over the closed category set.
func (d *Dispatcher) modeSignal(category model.Category) *trigger.Signal {
	switch category {
	case model.CategoryCred:
		return d.signals.CredStart
	case model.CategorySed:
		return d.signals.SedStart
	case model.CategoryDebug:
		return d.signals.Debug
	default:
		// CategoryCtrl is the zero value and the remaining member.
		return d.signals.Ctrl
	}
}

func (d *Dispatcher) pendingWork() bool {
	return d.signals.Exit.IsRaised() ||
		d.signals.Ctrl.IsRaised() ||
		d.signals.CredStart.IsRaised() ||
		d.signals.SedStart.IsRaised() ||
		d.signals.Debug.IsRaised()
}

// matchMode scans mode signals in fixed priority order — immediate ctrl
// commands first, long-running acquisition modes after — and clears the
// first raised one.
func (d *Dispatcher) matchMode() (model.Category, bool) {
	modes := []struct {
		sig      *trigger.Signal
		category model.Category
	}{
		{d.signals.Ctrl, model.CategoryCtrl},
		{d.signals.CredStart, model.CategoryCred},
		{d.signals.SedStart, model.CategorySed},
		{d.signals.Debug, model.CategoryDebug},
	}
	for _, m := range modes {
		if m.sig.IsRaised() {
			m.sig.Clear()
			return m.category, true
		}
	}
	// The zero value is meaningless here; callers must check found.
	return model.Category(0), false
}

// runHandler routes a task to its handler. The switch is exhaustive over the
// closed category set.
func (d *Dispatcher) runHandler(category model.Category, task model.Task) error {
	switch category {
	case model.CategoryCtrl:
		return d.runCtrl(task)
	case model.CategoryCred:
		return d.runCred(task)
	case model.CategorySed:
		return d.runSed(task)
	case model.CategoryDebug:
		return d.runDebug(task)
	default:
		return fmt.Errorf("unroutable category %v", category)
	}
}

func (d *Dispatcher) logHandlerError(category model.Category, task model.Task, err error) {
	kind := "internal"
	switch {
	case microscope.IsCommError(err):
		kind = "hardware"
	case experiment.IsConfigError(err):
		kind = "config"
	}
	d.log(LogLevelError, "handler_failed handler=%s task=%s kind=%s error=%v",
		category, task.ID, kind, err)
}

func (d *Dispatcher) shutdown(reason string) {
	d.bus.Publish(events.EventDaemonStopping, map[string]interface{}{"reason": reason})
	if err := d.scope.Release(); err != nil {
		d.log(LogLevelWarn, "release instrument: %v", err)
	}
	d.log(LogLevelInfo, "dispatcher stopped reason=%s", reason)
}

func (d *Dispatcher) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel || d.logger == nil {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s dispatcher: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
