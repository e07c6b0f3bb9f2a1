package microscope

import (
	"sync"
	"sync/atomic"
)

// Guarded serializes every call to the underlying driver. The watcher's
// periodic accessors and the dispatcher's handlers share one physical
// instrument; without this wrapper their calls would interleave on the wire.
// All components hold the Guarded handle, never the raw driver.
type Guarded struct {
	mu       sync.Mutex
	scope    Microscope
	inFlight atomic.Int32
	overlaps atomic.Int64
}

// Guard wraps a driver in a serializing handle.
func Guard(scope Microscope) *Guarded {
	return &Guarded{scope: scope}
}

// Overlaps reports how many calls found another call in flight and had to
// queue on the mutex. Nonzero values are expected under load; the counter
// exists so tests can prove the serialization actually engaged.
func (g *Guarded) Overlaps() int64 { return g.overlaps.Load() }

func (g *Guarded) enter() {
	if g.inFlight.Load() > 0 {
		g.overlaps.Add(1)
	}
	g.mu.Lock()
	g.inFlight.Add(1)
}

func (g *Guarded) exit() {
	g.inFlight.Add(-1)
	g.mu.Unlock()
}

func (g *Guarded) StagePosition() (StagePosition, error) {
	g.enter()
	defer g.exit()
	return g.scope.StagePosition()
}

func (g *Guarded) SetStageAlpha(deg float64) error {
	g.enter()
	defer g.exit()
	return g.scope.SetStageAlpha(deg)
}

func (g *Guarded) BeamShift() (float64, float64, error) {
	g.enter()
	defer g.exit()
	return g.scope.BeamShift()
}

func (g *Guarded) SetBeamShift(x, y float64) error {
	g.enter()
	defer g.exit()
	return g.scope.SetBeamShift(x, y)
}

func (g *Guarded) ScreenCurrent() (float64, error) {
	g.enter()
	defer g.exit()
	return g.scope.ScreenCurrent()
}

func (g *Guarded) AcquireImage(exposureSec float64) (Frame, error) {
	g.enter()
	defer g.exit()
	return g.scope.AcquireImage(exposureSec)
}

func (g *Guarded) BlankBeam(blank bool) error {
	g.enter()
	defer g.exit()
	return g.scope.BlankBeam(blank)
}

func (g *Guarded) Release() error {
	g.enter()
	defer g.exit()
	return g.scope.Release()
}

var _ Microscope = (*Guarded)(nil)
