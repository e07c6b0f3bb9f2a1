package model

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

// LoadConfig reads config.yaml and applies defaults for unset values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Dispatch.FailurePolicy != "" &&
		cfg.Dispatch.FailurePolicy != FailureContinue &&
		cfg.Dispatch.FailurePolicy != FailureAbort {
		return Config{}, fmt.Errorf("config: failure_policy must be %q or %q, got %q",
			FailureContinue, FailureAbort, cfg.Dispatch.FailurePolicy)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}
