package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquisitionLogRecordAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acquisition.jsonl")
	l, err := NewAcquisitionLog(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	err = l.Record("frame_collected", map[string]interface{}{
		"task_id": "t1",
		"handler": "cred",
		"frame":   3,
	})
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected one log line")
	}
	var entry LogEntry
	if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.EventType != "frame_collected" {
		t.Errorf("EventType = %q", entry.EventType)
	}
	if entry.TaskID != "t1" || entry.Handler != "cred" {
		t.Errorf("common fields not lifted: %+v", entry)
	}
}

func TestAcquisitionLogRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "acquisition.jsonl")
	// Tiny cap so a handful of entries forces rotation.
	l, err := NewAcquisitionLog(path, 256)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < 20; i++ {
		if err := l.Record("frame_collected", map[string]interface{}{"frame": i}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatalf("expected archive directory: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected rotated log files in archive")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("current log should still exist: %v", err)
	}
}

func TestAcquisitionLogAsBusSubscriber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acquisition.jsonl")
	l, err := NewAcquisitionLog(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.RecordEvent(Event{Type: EventExperimentDone, Data: map[string]interface{}{"task_id": "t9"}}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("expected event written to log")
	}
}
