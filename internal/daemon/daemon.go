package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/instamatic-dev/instamatic-sub003/internal/events"
	"github.com/instamatic-dev/instamatic-sub003/internal/experiment"
	"github.com/instamatic-dev/instamatic-sub003/internal/lock"
	"github.com/instamatic-dev/instamatic-sub003/internal/microscope"
	"github.com/instamatic-dev/instamatic-sub003/internal/model"
	"github.com/instamatic-dev/instamatic-sub003/internal/notify"
	"github.com/instamatic-dev/instamatic-sub003/internal/uds"
	"github.com/instamatic-dev/instamatic-sub003/internal/watch"
	yamlutil "github.com/instamatic-dev/instamatic-sub003/internal/yaml"
)

// Daemon is the acquisition daemon process: it owns the instrument handle,
// the dispatcher, the background pollers and the command socket.
type Daemon struct {
	workDir  string
	cfg      model.Config
	logLevel LogLevel
	logger   *log.Logger
	logFile  io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	fsw      *fsnotify.Watcher
	bus      *events.Bus
	acqLog   *events.AcquisitionLog

	scope      *microscope.Guarded
	dispatcher *Dispatcher
	watchers   []*watch.Watcher

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a daemon logging to <workDir>/logs/daemon.log.
func New(workDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(workDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(workDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(workDir string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	d := &Daemon{
		workDir:  workDir,
		cfg:      cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(workDir, "locks", "daemon.lock")),
		server:   uds.NewServer(filepath.Join(workDir, uds.DefaultSocketName)),
		bus:      events.NewBus(100),
		ctx:      ctx,
		cancel:   cancel,
		group:    group,
	}
	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: single-instance lock — one daemon per instrument.
	if err := os.MkdirAll(filepath.Join(d.workDir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure lock dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d instrument=%s", os.Getpid(), d.cfg.Instrument.Name)

	// Step 2: instrument handle.
	if !d.cfg.Instrument.Simulate {
		d.fileLock.Unlock()
		return fmt.Errorf("instrument %q: remote driver bridge not configured; set instrument.simulate",
			d.cfg.Instrument.Name)
	}
	d.scope = microscope.Guard(microscope.NewSimulator())

	// Step 3: acquisition log, wired as a bus subscriber.
	acqLog, err := events.NewAcquisitionLog(filepath.Join(d.workDir, "logs", "acquisition.jsonl"), 0)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open acquisition log: %w", err)
	}
	d.acqLog = acqLog
	for _, et := range []events.EventType{
		events.EventHandlerStarted,
		events.EventHandlerFinished,
		events.EventFrameCollected,
		events.EventExperimentDone,
		events.EventDaemonStopping,
	} {
		d.bus.Subscribe(et, func(e events.Event) { _ = d.acqLog.RecordEvent(e) })
	}
	if d.cfg.Daemon.DesktopNotify {
		d.bus.Subscribe(events.EventHandlerFinished, d.notifyFinished)
	}

	// Step 4: dispatcher.
	outputDir := filepath.Join(d.workDir, "collections")
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure output dir: %w", err)
	}
	d.dispatcher = NewDispatcher(d.cfg, d.scope, d.bus, d.workDir, outputDir, d.logger)

	// Step 5: background pollers for slowly-changing instrument state.
	d.startWatchers()
	d.dispatcher.SetWatchers(d.watchers)

	// Step 6: watch the experiment dir so a broken parameter file is
	// reported when it is written, not when a SED run trips over it.
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.fsw = fsw
	if err := fsw.Add(d.workDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", d.workDir, err)
	}
	d.group.Go(d.fsnotifyLoop)

	// Step 7: command socket.
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.workDir, uds.DefaultSocketName))

	// Step 8: dispatch loop.
	go d.dispatcher.Run()
	d.log(LogLevelInfo, "daemon ready")

	// Step 9: wait for signals or a dispatcher-initiated stop.
	d.waitSignals()

	return nil
}

// startWatchers composes one poller per cached accessor. All reads go
// through the guarded handle, so polling serializes with handler activity.
func (d *Daemon) startWatchers() {
	sec := func(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

	stage := watch.New("stage_position", func() (float64, error) {
		pos, err := d.scope.StagePosition()
		return pos.Alpha, err
	}, sec(d.cfg.Watcher.StagePositionSec), d.logger)

	current := watch.New("screen_current", func() (float64, error) {
		return d.scope.ScreenCurrent()
	}, sec(d.cfg.Watcher.ScreenCurrentSec), d.logger)

	shift := watch.New("beam_shift_x", func() (float64, error) {
		x, _, err := d.scope.BeamShift()
		return x, err
	}, sec(d.cfg.Watcher.BeamShiftSec), d.logger)

	d.watchers = []*watch.Watcher{stage, current, shift}
	for _, w := range d.watchers {
		w := w
		w.OnUpdate(func(name string, v watch.CachedValue) {
			d.bus.Publish(events.EventWatcherUpdated, map[string]interface{}{
				"watcher": name,
				"value":   v.Value,
				"polls":   v.Polls,
			})
		})
		d.group.Go(func() error {
			if err := w.Run(d.ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
}

// registerHandlers registers UDS request handlers. Every mutating command
// follows the producer contract: queue/mode signal first, trigger last.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("status", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(d.statusReport())
	})

	d.server.Handle("submit", d.handleSubmit)
	d.server.Handle("stop", d.handleStop)

	d.server.Handle("exit", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "exit requested via UDS")
		d.dispatcher.RequestExit()
		return uds.SuccessResponse(map[string]string{"status": "exit_accepted"})
	})

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.log(LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

type submitParams struct {
	Category string         `json:"category"`
	Payload  map[string]any `json:"payload"`
}

func (d *Daemon) handleSubmit(req *uds.Request) *uds.Response {
	var params submitParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("parse params: %v", err))
	}
	category, err := model.ParseCategory(params.Category)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	task := model.NewTask(category, params.Payload)
	if err := d.dispatcher.Submit(task); err != nil {
		return uds.ErrorResponse(uds.ErrCodeBackpressure, err.Error())
	}
	return uds.SuccessResponse(map[string]string{"task_id": task.ID})
}

func (d *Daemon) handleStop(req *uds.Request) *uds.Response {
	var params struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("parse params: %v", err))
	}
	category, err := model.ParseCategory(params.Category)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	if err := d.dispatcher.Stop(category); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}
	return uds.SuccessResponse(map[string]string{"status": "stop_raised"})
}

// WatcherReading is one cached value in a status report.
type WatcherReading struct {
	Value     float64 `json:"value"`
	AgeSec    float64 `json:"age_sec"`
	Polls     uint64  `json:"polls"`
	Errors    uint64  `json:"errors"`
	Available bool    `json:"available"`
}

// StatusReport is the full daemon status returned over UDS.
type StatusReport struct {
	Pid        int                       `json:"pid"`
	Instrument string                    `json:"instrument"`
	Simulate   bool                      `json:"simulate"`
	QueueLen   int                       `json:"queue_len"`
	Watchers   map[string]WatcherReading `json:"watchers"`
}

func (d *Daemon) statusReport() StatusReport {
	report := StatusReport{
		Pid:        os.Getpid(),
		Instrument: d.cfg.Instrument.Name,
		Simulate:   d.cfg.Instrument.Simulate,
		QueueLen:   d.dispatcher.QueueLen(),
		Watchers:   make(map[string]WatcherReading),
	}
	for _, w := range d.watchers {
		var r WatcherReading
		if v, ok := w.Get(); ok {
			r = WatcherReading{
				Value:     v.Value,
				AgeSec:    time.Since(v.PolledAt).Seconds(),
				Polls:     v.Polls,
				Available: true,
			}
		}
		r.Errors = w.ErrCount()
		report.Watchers[w.Name()] = r
	}
	return report
}

// notifyFinished posts a desktop notification when an acquisition handler
// returns. Immediate ctrl and debug commands are too noisy to announce.
func (d *Daemon) notifyFinished(e events.Event) {
	handler, _ := e.Data["handler"].(string)
	if handler != "cred" && handler != "sed" {
		return
	}
	outcome, _ := e.Data["outcome"].(string)
	if err := notify.Send("instamatic", fmt.Sprintf("%s acquisition %s", handler, outcome)); err != nil {
		d.log(LogLevelDebug, "desktop notification failed: %v", err)
	}
}

// fsnotifyLoop eagerly validates parameter files as they change.
func (d *Daemon) fsnotifyLoop() error {
	for {
		select {
		case <-d.ctx.Done():
			return nil
		case event, ok := <-d.fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if filepath.Base(event.Name) != d.cfg.Sed.ParamsFile {
				continue
			}
			d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
			d.validateParamsFile(event.Name)
		case err, ok := <-d.fsw.Errors:
			if !ok {
				return nil
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

func (d *Daemon) validateParamsFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		d.log(LogLevelWarn, "params_file_unreadable file=%s error=%v", path, err)
		return
	}
	if err := yamlutil.Validate(data); err != nil {
		d.log(LogLevelWarn, "params_file_invalid file=%s error=%v", path, err)
		return
	}
	if _, err := experiment.LoadParams(filepath.Dir(path), filepath.Base(path)); err != nil {
		d.log(LogLevelWarn, "params_file_rejected file=%s error=%v", path, err)
		return
	}
	d.log(LogLevelInfo, "params_file_ok file=%s", path)
}

// waitSignals blocks until a shutdown signal arrives or the dispatcher
// terminates on its own (exit command or abort policy).
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
		// Second signal → force exit.
		go func() {
			<-sigCh
			d.log(LogLevelWarn, "received second signal, forcing exit")
			d.forceExit.Store(true)
			os.Exit(1)
		}()
	case <-d.dispatcher.Done():
		d.log(LogLevelInfo, "dispatcher terminated, shutting down")
	}

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Ask the dispatcher to stop after the current handler. Raise
		// the stop signals too so a running acquisition winds down.
		d.dispatcher.Signals().CredStop.Raise()
		d.dispatcher.Signals().SedStop.Raise()
		d.dispatcher.RequestExit()

		timeout := time.Duration(d.cfg.Daemon.ShutdownTimeoutSec) * time.Second
		select {
		case <-d.dispatcher.Done():
			d.log(LogLevelInfo, "dispatcher drained")
		case <-time.After(timeout):
			d.log(LogLevelWarn, "shutdown timeout after %s, a handler may still be running", timeout)
		}

		// 2. Stop producers and pollers.
		d.cancel()
		if d.server != nil {
			d.server.Stop()
		}
		if d.fsw != nil {
			d.fsw.Close()
		}
		if err := d.group.Wait(); err != nil {
			d.log(LogLevelWarn, "background loop error: %v", err)
		}

		// 3. Cleanup.
		d.bus.Close()
		if d.acqLog != nil {
			d.acqLog.Close()
		}
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.workDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
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
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

// Signals exposes the dispatcher's signal set; used by tests.
func (d *Daemon) Signals() *Signals { return d.dispatcher.Signals() }
