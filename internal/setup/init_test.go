package setup

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/instamatic-dev/instamatic-sub003/internal/model"
)

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "tem1")
	if err := os.Mkdir(workDir, 0755); err != nil {
		t.Fatalf("create work dir: %v", err)
	}

	if err := Run(workDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	expectedDirs := []string{
		"collections",
		"locks",
		"logs",
		"logs/archive",
	}
	for _, d := range expectedDirs {
		path := filepath.Join(workDir, d)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_CopiesTemplateFiles(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "tem1")
	os.Mkdir(workDir, 0755)

	if err := Run(workDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, f := range []string{"config.yaml", "sed_params.yaml"} {
		path := filepath.Join(workDir, f)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("file %s does not exist: %v", f, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("file %s is empty", f)
		}
	}
}

func TestRun_AutoFillsConfig(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "tem1")
	os.Mkdir(workDir, 0755)

	if err := Run(workDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "config.yaml"))
	if err != nil {
		t.Fatalf("read config.yaml: %v", err)
	}

	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("parse config.yaml: %v", err)
	}

	if cfg.Instrument.Name != "tem1" {
		t.Errorf("instrument.name: got %q, want %q", cfg.Instrument.Name, "tem1")
	}
	if !cfg.Instrument.Simulate {
		t.Error("template config should default to simulate")
	}
	if cfg.Dispatch.FailurePolicy != model.FailureContinue {
		t.Errorf("dispatch.failure_policy: got %q", cfg.Dispatch.FailurePolicy)
	}
	if cfg.Sed.ParamsFile != "sed_params.yaml" {
		t.Errorf("sed.params_file: got %q", cfg.Sed.ParamsFile)
	}
}

func TestRun_InstrumentNameOverride(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "tem1")
	os.Mkdir(workDir, 0755)

	if err := Run(workDir, "jeol-2100"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Instrument.Name != "jeol-2100" {
		t.Errorf("instrument.name: got %q, want %q", cfg.Instrument.Name, "jeol-2100")
	}
}

func TestRun_GeneratedConfigLoads(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "tem1")
	os.Mkdir(workDir, 0755)

	if err := Run(workDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The scaffolded config must round-trip through the daemon's loader.
	cfg, err := model.LoadConfig(filepath.Join(workDir, "config.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Dispatch.QueueSize <= 0 {
		t.Errorf("queue_size not defaulted: %d", cfg.Dispatch.QueueSize)
	}
}

func TestRun_GeneratedParamsLoad(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "tem1")
	os.Mkdir(workDir, 0755)

	if err := Run(workDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workDir, "sed_params.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	var params map[string]any
	if err := yaml.Unmarshal(data, &params); err != nil {
		t.Fatalf("parse sed_params.yaml: %v", err)
	}
	if params["name"] == "" || params["name"] == nil {
		t.Error("sample params missing name")
	}
	if _, ok := params["grid"]; !ok {
		t.Error("sample params missing grid")
	}
}

func TestRun_RejectsInitializedDir(t *testing.T) {
	dir := t.TempDir()
	workDir := filepath.Join(dir, "tem1")
	os.Mkdir(workDir, 0755)

	if err := Run(workDir, ""); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := Run(workDir, ""); err == nil {
		t.Fatal("expected error for already-initialized work dir")
	}
}
