package experiment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/instamatic-dev/instamatic-sub003/internal/microscope"
)

func testParams() Params {
	return Params{
		Name:        "sed_test",
		ExposureSec: 0.01,
		Grid:        Grid{NX: 3, NY: 2, Step: 1.0},
	}
}

func TestSedRunAcquiresWholeGrid(t *testing.T) {
	dir := t.TempDir()
	scope := microscope.Guard(microscope.NewSimulator())
	exp := NewSed(scope, testParams(), dir, nil)

	if status := exp.ReportStatus(); !strings.Contains(status, "3x2") {
		t.Errorf("ReportStatus = %q, expected grid dimensions", status)
	}

	if err := exp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sed_test_result.yaml"))
	if err != nil {
		t.Fatalf("expected result file: %v", err)
	}
	if !strings.Contains(string(data), "acquired: 6") {
		t.Errorf("result should record 6 acquisitions: %s", data)
	}
}

func TestSedRunStopsOnCancelledContext(t *testing.T) {
	dir := t.TempDir()
	scope := microscope.Guard(microscope.NewSimulator())
	exp := NewSed(scope, testParams(), dir, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := exp.Run(ctx); err == nil {
		t.Fatal("expected error from cancelled run")
	}

	// The partial result is still persisted.
	if _, err := os.Stat(filepath.Join(dir, "sed_test_result.yaml")); err != nil {
		t.Errorf("expected partial result file: %v", err)
	}
}
