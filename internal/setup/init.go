// Package setup scaffolds a fresh instamatic work directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/instamatic-dev/instamatic-sub003/internal/model"
	atomicyaml "github.com/instamatic-dev/instamatic-sub003/internal/yaml"
	"github.com/instamatic-dev/instamatic-sub003/templates"
)

// Run initializes a work directory: the directory layout the daemon expects,
// a config.yaml seeded from the embedded template, and a sample SED
// parameter file. instrumentName fills config instrument.name (defaults to
// the directory basename if empty).
func Run(workDir, instrumentName string) error {
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolve work dir: %w", err)
	}

	if _, err := os.Stat(filepath.Join(absDir, "config.yaml")); err == nil {
		return fmt.Errorf("%s is already initialized", absDir)
	}

	dirs := []string{
		"collections",
		"locks",
		"logs",
		"logs/archive",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(absDir, instrumentName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(absDir, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	if err := copyTemplateFile(cfg.Sed.ParamsFile, filepath.Join(absDir, cfg.Sed.ParamsFile)); err != nil {
		return err
	}

	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(workDir, instrumentName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if instrumentName != "" {
		cfg.Instrument.Name = instrumentName
	} else {
		cfg.Instrument.Name = filepath.Base(workDir)
	}
	cfg.ApplyDefaults()

	return &cfg, nil
}
