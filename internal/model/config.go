// Package model defines the data structures for the daemon's configuration,
// tasks, and acquisition records.
package model

type Config struct {
	Instrument InstrumentConfig `yaml:"instrument"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Cred       CredConfig       `yaml:"cred"`
	Sed        SedConfig        `yaml:"sed"`
	Daemon     DaemonConfig     `yaml:"daemon"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type InstrumentConfig struct {
	Name     string `yaml:"name"`
	Simulate bool   `yaml:"simulate"`
	// Address of the driver endpoint when not simulating.
	Address string `yaml:"address"`
}

type WatcherConfig struct {
	// Poll intervals in seconds per cached accessor.
	StagePositionSec float64 `yaml:"stage_position_sec"`
	ScreenCurrentSec float64 `yaml:"screen_current_sec"`
	BeamShiftSec     float64 `yaml:"beam_shift_sec"`
}

type DispatchConfig struct {
	// FailurePolicy is "continue" (log handler errors, keep serving) or
	// "abort" (treat a handler error like an exit request).
	FailurePolicy string `yaml:"failure_policy"`
	QueueSize     int    `yaml:"queue_size"`
}

type CredConfig struct {
	DefaultExposureSec float64 `yaml:"default_exposure_sec"`
	// Frames whose acquisition fails are retried this many times before
	// the iteration is abandoned.
	FrameRetries int `yaml:"frame_retries"`
}

type SedConfig struct {
	ParamsFile string `yaml:"params_file"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
	// Desktop notification when a long-running acquisition finishes.
	DesktopNotify bool `yaml:"desktop_notify"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// FailurePolicy values for DispatchConfig.
const (
	FailureContinue = "continue"
	FailureAbort    = "abort"
)

// ApplyDefaults fills zero values with workable defaults.
func (c *Config) ApplyDefaults() {
	if c.Watcher.StagePositionSec <= 0 {
		c.Watcher.StagePositionSec = 1.0
	}
	if c.Watcher.ScreenCurrentSec <= 0 {
		c.Watcher.ScreenCurrentSec = 2.0
	}
	if c.Watcher.BeamShiftSec <= 0 {
		c.Watcher.BeamShiftSec = 2.0
	}
	if c.Dispatch.FailurePolicy == "" {
		c.Dispatch.FailurePolicy = FailureContinue
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 64
	}
	if c.Cred.DefaultExposureSec <= 0 {
		c.Cred.DefaultExposureSec = 0.5
	}
	if c.Sed.ParamsFile == "" {
		c.Sed.ParamsFile = "sed_params.yaml"
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
