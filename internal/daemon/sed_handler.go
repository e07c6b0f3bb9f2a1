package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/instamatic-dev/instamatic-sub003/internal/events"
	"github.com/instamatic-dev/instamatic-sub003/internal/experiment"
	"github.com/instamatic-dev/instamatic-sub003/internal/model"
)

// runSed resolves the parameter file, builds the Experiment collaborator and
// blocks on its run. The parameter file is read per run, so edits between
// runs take effect without a restart. A missing or invalid file fails here,
// before any hardware call.
func (d *Dispatcher) runSed(task model.Task) error {
	paramsFile := task.Str("params_file", d.cfg.Sed.ParamsFile)
	params, err := experiment.LoadParams(d.workDir, paramsFile)
	if err != nil {
		return fmt.Errorf("sed: %w", err)
	}

	exp := d.factory(d.scope, params, d.outputDir, d.logger)
	d.log(LogLevelInfo, "sed_started %s", exp.ReportStatus())

	// The stop signal maps onto context cancellation so the experiment's
	// run loop stays signal-free.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-d.signals.SedStop.Raised():
			cancel()
		}
	}()

	runErr := exp.Run(ctx)
	cancel()
	d.signals.SedStop.Clear()

	outcome := "ok"
	if runErr != nil {
		outcome = "error"
	}
	d.bus.Publish(events.EventExperimentDone, map[string]interface{}{
		"task_id": task.ID,
		"handler": "sed",
		"name":    params.Name,
		"outcome": outcome,
	})

	if errors.Is(runErr, context.Canceled) {
		// Stopped on request; not a failure.
		d.log(LogLevelInfo, "sed_stopped name=%s", params.Name)
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("sed %s: %w", params.Name, runErr)
	}
	d.log(LogLevelInfo, "sed_finished name=%s", params.Name)
	return nil
}
