// Package experiment holds the acquisition business collaborators: SED
// parameter files, the Experiment runner the dispatcher hands control to,
// and the collection writer that persists cRED frames.
package experiment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"
)

// ConfigError marks a missing or invalid parameter file. It always fires
// before any hardware call is attempted.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("experiment config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is (or wraps) a parameter-file error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Params describes one SED run.
type Params struct {
	Name        string  `yaml:"name"`
	ExposureSec float64 `yaml:"exposure_sec"`
	Unblank     bool    `yaml:"unblank"`
	Grid        Grid    `yaml:"grid"`
}

// Grid is the beam-shift scan raster.
type Grid struct {
	NX   int     `yaml:"nx"`
	NY   int     `yaml:"ny"`
	Step float64 `yaml:"step"`
}

// Positions returns the number of grid points.
func (g Grid) Positions() int { return g.NX * g.NY }

// LoadParams reads and validates the parameter file from the experiment
// working directory.
func LoadParams(workDir, filename string) (Params, error) {
	path := filepath.Join(workDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, &ConfigError{Path: path, Err: err}
	}

	var p Params
	if err := yamlv3.Unmarshal(data, &p); err != nil {
		return Params{}, &ConfigError{Path: path, Err: fmt.Errorf("parse yaml: %w", err)}
	}
	if err := p.validate(); err != nil {
		return Params{}, &ConfigError{Path: path, Err: err}
	}
	return p, nil
}

func (p Params) validate() error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	if p.ExposureSec <= 0 {
		return fmt.Errorf("exposure_sec must be positive, got %v", p.ExposureSec)
	}
	if p.Grid.NX <= 0 || p.Grid.NY <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", p.Grid.NX, p.Grid.NY)
	}
	if p.Grid.Step <= 0 {
		return fmt.Errorf("grid step must be positive, got %v", p.Grid.Step)
	}
	return nil
}
