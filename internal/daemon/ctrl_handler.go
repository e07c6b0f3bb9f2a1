package daemon

import (
	"fmt"

	"github.com/instamatic-dev/instamatic-sub003/internal/model"
)

// runCtrl executes one immediate instrument command. Each recognized payload
// key maps to a single driver call; unknown keys are rejected before any
// hardware is touched.
func (d *Dispatcher) runCtrl(task model.Task) error {
	for key := range task.Payload {
		switch key {
		case "stage_alpha", "beam_shift_x", "beam_shift_y", "blank":
		default:
			return fmt.Errorf("ctrl: unknown parameter %q", key)
		}
	}

	if _, ok := task.Payload["stage_alpha"]; ok {
		deg := task.Float("stage_alpha", 0)
		if err := d.scope.SetStageAlpha(deg); err != nil {
			return fmt.Errorf("ctrl: set stage alpha: %w", err)
		}
		d.log(LogLevelInfo, "ctrl_stage_alpha deg=%g", deg)
	}

	_, hasX := task.Payload["beam_shift_x"]
	_, hasY := task.Payload["beam_shift_y"]
	if hasX || hasY {
		// A partial shift keeps the other axis where it is.
		x, y, err := d.scope.BeamShift()
		if err != nil {
			return fmt.Errorf("ctrl: read beam shift: %w", err)
		}
		x = task.Float("beam_shift_x", x)
		y = task.Float("beam_shift_y", y)
		if err := d.scope.SetBeamShift(x, y); err != nil {
			return fmt.Errorf("ctrl: set beam shift: %w", err)
		}
		d.log(LogLevelInfo, "ctrl_beam_shift x=%g y=%g", x, y)
	}

	if _, ok := task.Payload["blank"]; ok {
		blank := task.Bool("blank", true)
		if err := d.scope.BlankBeam(blank); err != nil {
			return fmt.Errorf("ctrl: blank beam: %w", err)
		}
		d.log(LogLevelInfo, "ctrl_blank blank=%v", blank)
	}

	return nil
}
