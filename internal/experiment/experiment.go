package experiment

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/instamatic-dev/instamatic-sub003/internal/microscope"
	yamlutil "github.com/instamatic-dev/instamatic-sub003/internal/yaml"
)

// Experiment is the run-to-completion collaborator the SED handler blocks
// on. Run owns the instrument for its whole duration.
type Experiment interface {
	ReportStatus() string
	Run(ctx context.Context) error
}

// Factory builds an experiment from its collaborators. The dispatcher holds
// a Factory so tests can substitute a fake run.
type Factory func(scope microscope.Microscope, params Params, outputDir string, logger *log.Logger) Experiment

// SedResult is the persisted outcome of a SED run.
type SedResult struct {
	Name        string    `yaml:"name"`
	Positions   int       `yaml:"positions"`
	Acquired    int       `yaml:"acquired"`
	ExposureSec float64   `yaml:"exposure_sec"`
	StartedAt   time.Time `yaml:"started_at"`
	FinishedAt  time.Time `yaml:"finished_at"`
}

// Sed rasters the beam over the parameter grid and acquires one frame per
// position.
type Sed struct {
	scope     microscope.Microscope
	params    Params
	outputDir string
	logger    *log.Logger
}

// NewSed is the default Factory.
func NewSed(scope microscope.Microscope, params Params, outputDir string, logger *log.Logger) Experiment {
	return &Sed{scope: scope, params: params, outputDir: outputDir, logger: logger}
}

// ReportStatus summarizes the pending run for the acquisition log.
func (s *Sed) ReportStatus() string {
	return fmt.Sprintf("sed %q: %dx%d grid, step %g, exposure %gs",
		s.params.Name, s.params.Grid.NX, s.params.Grid.NY,
		s.params.Grid.Step, s.params.ExposureSec)
}

// Run scans the grid to completion. Cancellation is checked between
// positions only; a position in progress always finishes.
func (s *Sed) Run(ctx context.Context) error {
	result := SedResult{
		Name:        s.params.Name,
		Positions:   s.params.Grid.Positions(),
		ExposureSec: s.params.ExposureSec,
		StartedAt:   time.Now().UTC(),
	}

	if s.params.Unblank {
		if err := s.scope.BlankBeam(false); err != nil {
			return fmt.Errorf("unblank beam: %w", err)
		}
		defer s.scope.BlankBeam(true)
	}

	step := s.params.Grid.Step
	for iy := 0; iy < s.params.Grid.NY; iy++ {
		for ix := 0; ix < s.params.Grid.NX; ix++ {
			if err := ctx.Err(); err != nil {
				return s.finish(result, err)
			}
			if err := s.scope.SetBeamShift(float64(ix)*step, float64(iy)*step); err != nil {
				return s.finish(result, fmt.Errorf("position (%d,%d): %w", ix, iy, err))
			}
			if _, err := s.scope.AcquireImage(s.params.ExposureSec); err != nil {
				return s.finish(result, fmt.Errorf("acquire (%d,%d): %w", ix, iy, err))
			}
			result.Acquired++
		}
	}
	return s.finish(result, nil)
}

func (s *Sed) finish(result SedResult, runErr error) error {
	result.FinishedAt = time.Now().UTC()
	path := filepath.Join(s.outputDir, fmt.Sprintf("%s_result.yaml", s.params.Name))
	if err := yamlutil.AtomicWrite(path, result); err != nil {
		if s.logger != nil {
			s.logger.Printf("%s WARN sed: write result: %v", time.Now().Format(time.RFC3339), err)
		}
		if runErr == nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if s.logger != nil {
		s.logger.Printf("%s INFO sed: %q acquired %d/%d positions",
			time.Now().Format(time.RFC3339), s.params.Name, result.Acquired, result.Positions)
	}
	return runErr
}
