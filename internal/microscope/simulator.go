package microscope

import (
	"math"
	"math/rand"
	"time"
)

// Simulator is an in-process stand-in for the instrument. It models a slowly
// drifting stage and produces noise frames, with an optional fixed latency
// per call so tests can exercise cancellation-latency bounds.
type Simulator struct {
	CallLatency time.Duration

	pos     StagePosition
	shiftX  float64
	shiftY  float64
	blanked bool
	rng     *rand.Rand
}

// NewSimulator creates a simulator with a deterministic seed.
func NewSimulator() *Simulator {
	return &Simulator{rng: rand.New(rand.NewSource(42))}
}

func (s *Simulator) delay() {
	if s.CallLatency > 0 {
		time.Sleep(s.CallLatency)
	}
}

func (s *Simulator) StagePosition() (StagePosition, error) {
	s.delay()
	// Slow periodic drift, visible to the watcher.
	t := float64(time.Now().UnixNano()) / 1e9
	p := s.pos
	p.X += 0.01 * math.Sin(t/30)
	p.Y += 0.01 * math.Cos(t/30)
	return p, nil
}

func (s *Simulator) SetStageAlpha(deg float64) error {
	s.delay()
	s.pos.Alpha = deg
	return nil
}

func (s *Simulator) BeamShift() (float64, float64, error) {
	s.delay()
	return s.shiftX, s.shiftY, nil
}

func (s *Simulator) SetBeamShift(x, y float64) error {
	s.delay()
	s.shiftX, s.shiftY = x, y
	return nil
}

func (s *Simulator) ScreenCurrent() (float64, error) {
	s.delay()
	if s.blanked {
		return 0, nil
	}
	return 1.2 + 0.05*s.rng.Float64(), nil
}

func (s *Simulator) AcquireImage(exposureSec float64) (Frame, error) {
	s.delay()
	const w, h = 64, 64
	data := make([]uint16, w*h)
	for i := range data {
		data[i] = uint16(s.rng.Intn(4096))
	}
	return Frame{
		Data:        data,
		Width:       w,
		Height:      h,
		ExposureSec: exposureSec,
		StageAlpha:  s.pos.Alpha,
	}, nil
}

func (s *Simulator) BlankBeam(blank bool) error {
	s.delay()
	s.blanked = blank
	return nil
}

func (s *Simulator) Release() error { return nil }
