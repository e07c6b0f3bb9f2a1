// Package microscope defines the instrument driver boundary: the accessor
// interface, the communication error type, a simulator used by tests and the
// default configuration, and the guarded handle that serializes all access
// to the physical instrument.
package microscope

import (
	"errors"
	"fmt"
)

// StagePosition is the goniometer position in the driver's native units.
type StagePosition struct {
	X, Y, Z float64
	Alpha   float64 // tilt angle, degrees
	Beta    float64
}

// Frame is one acquired image with its acquisition metadata.
type Frame struct {
	Data        []uint16
	Width       int
	Height      int
	ExposureSec float64
	StageAlpha  float64
}

// Microscope is the instrument driver. Implementations are not required to
// be safe for concurrent use; callers go through Guarded.
type Microscope interface {
	StagePosition() (StagePosition, error)
	SetStageAlpha(deg float64) error
	BeamShift() (x, y float64, err error)
	SetBeamShift(x, y float64) error
	ScreenCurrent() (float64, error)
	AcquireImage(exposureSec float64) (Frame, error)
	BlankBeam(blank bool) error
	Release() error
}

// CommError wraps a failed driver call. The dispatcher classifies these to
// decide whether an iteration aborts or the whole loop does.
type CommError struct {
	Op  string
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("microscope %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// IsCommError reports whether err is (or wraps) a driver communication error.
func IsCommError(err error) bool {
	var ce *CommError
	return errors.As(err, &ce)
}
