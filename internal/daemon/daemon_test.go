package daemon

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/instamatic-dev/instamatic-sub003/internal/model"
	"github.com/instamatic-dev/instamatic-sub003/internal/uds"
)

func testConfig() model.Config {
	var cfg model.Config
	cfg.Instrument.Name = "simulated-tem"
	cfg.Instrument.Simulate = true
	cfg.ApplyDefaults()
	cfg.Watcher.StagePositionSec = 0.02
	cfg.Watcher.ScreenCurrentSec = 0.02
	cfg.Watcher.BeamShiftSec = 0.02
	cfg.Daemon.ShutdownTimeoutSec = 5
	return cfg
}

func startTestDaemon(t *testing.T, cfg model.Config) (*Daemon, string, chan error) {
	t.Helper()
	workDir := t.TempDir()

	d, err := newDaemon(workDir, cfg, io.Discard, nil)
	if err != nil {
		t.Fatal(err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run() }()

	// Wait for the command socket to come up.
	client := uds.NewClient(filepath.Join(workDir, uds.DefaultSocketName))
	client.SetTimeout(time.Second)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if resp, err := client.SendCommand("ping", nil); err == nil && resp.Success {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("daemon did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return d, workDir, runErr
}

func TestDaemonLifecycle(t *testing.T) {
	d, workDir, runErr := startTestDaemon(t, testConfig())
	defer d.Shutdown()

	client := uds.NewClient(filepath.Join(workDir, uds.DefaultSocketName))
	client.SetTimeout(2 * time.Second)

	// Submit a ctrl task and wait for it to drain.
	resp, err := client.SendCommand("submit", map[string]any{
		"category": "ctrl",
		"payload":  map[string]any{"stage_alpha": 10.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("submit failed: %+v", resp.Error)
	}
	var submitted struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(resp.Data, &submitted); err != nil {
		t.Fatal(err)
	}
	if submitted.TaskID == "" {
		t.Error("submit response missing task_id")
	}

	// Status reflects a drained queue and live watcher caches.
	var report StatusReport
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = client.SendCommand("status", nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(resp.Data, &report); err != nil {
			t.Fatal(err)
		}
		if report.QueueLen == 0 && report.Watchers["stage_position"].Available {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never settled: %+v", report)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !report.Simulate || report.Instrument != "simulated-tem" {
		t.Errorf("unexpected status report: %+v", report)
	}
	if report.Watchers["stage_position"].Polls == 0 {
		t.Error("stage watcher never polled")
	}

	// The acquisition log received the handler events.
	logPath := filepath.Join(workDir, "logs", "acquisition.jsonl")
	deadline = time.Now().Add(3 * time.Second)
	for {
		if data, err := os.ReadFile(logPath); err == nil && len(data) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("acquisition log never written")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Exit over the socket terminates the daemon.
	resp, err = client.SendCommand("exit", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("exit failed: %+v", resp.Error)
	}
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("daemon run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop after exit command")
	}

	// Socket is gone after shutdown.
	if _, err := os.Stat(filepath.Join(workDir, uds.DefaultSocketName)); !os.IsNotExist(err) {
		t.Errorf("socket not removed: %v", err)
	}
}

func TestDaemonSubmitValidation(t *testing.T) {
	d, workDir, _ := startTestDaemon(t, testConfig())
	defer d.Shutdown()

	client := uds.NewClient(filepath.Join(workDir, uds.DefaultSocketName))
	client.SetTimeout(2 * time.Second)

	resp, err := client.SendCommand("submit", map[string]any{"category": "teleport"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Fatal("unknown category accepted")
	}
	if resp.Error.Code != uds.ErrCodeValidation {
		t.Errorf("error code = %s, want %s", resp.Error.Code, uds.ErrCodeValidation)
	}

	resp, err = client.SendCommand("stop", map[string]any{"category": "ctrl"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Error("stop for a mode without a stop signal should be rejected")
	}
}

func TestDaemonStopCommandRaisesSignal(t *testing.T) {
	d, workDir, _ := startTestDaemon(t, testConfig())
	defer d.Shutdown()

	client := uds.NewClient(filepath.Join(workDir, uds.DefaultSocketName))
	client.SetTimeout(2 * time.Second)

	resp, err := client.SendCommand("stop", map[string]any{"category": "cred"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("stop failed: %+v", resp.Error)
	}
	if !d.Signals().CredStop.IsRaised() {
		t.Error("stop command did not raise the cred stop signal")
	}
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	d, workDir, _ := startTestDaemon(t, testConfig())
	defer d.Shutdown()

	second, err := newDaemon(workDir, testConfig(), io.Discard, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Run(); err == nil {
		t.Fatal("second daemon acquired the instance lock")
	}
}

func TestDaemonShutdownIdempotent(t *testing.T) {
	d, _, runErr := startTestDaemon(t, testConfig())

	d.Shutdown()
	d.Shutdown()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("daemon run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemonRefusesNonSimulatedInstrument(t *testing.T) {
	cfg := testConfig()
	cfg.Instrument.Simulate = false

	d, err := newDaemon(t.TempDir(), cfg, io.Discard, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err == nil {
		t.Fatal("expected error for non-simulated instrument without a driver bridge")
	}
}
