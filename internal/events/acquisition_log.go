package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultMaxLogSize caps an acquisition log file at 100MB.
	DefaultMaxLogSize = 100 * 1024 * 1024
	logFileExtension  = ".jsonl"
	archiveDir        = "archive"
)

// LogEntry is one acquisition log record.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType string                 `json:"event_type"`
	TaskID    string                 `json:"task_id,omitempty"`
	Handler   string                 `json:"handler,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// AcquisitionLog is an append-only JSONL log with size-based rotation. It is
// normally wired as a bus subscriber so every handler and frame event leaves
// a durable trace next to the collected data.
type AcquisitionLog struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	logPath     string
	rotations   int
}

// NewAcquisitionLog opens (or creates) the log at logPath.
func NewAcquisitionLog(logPath string, maxSize int64) (*AcquisitionLog, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	l := &AcquisitionLog{logPath: logPath, maxSize: maxSize}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AcquisitionLog) open() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open acquisition log: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat acquisition log: %w", err)
	}
	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Record appends one entry. Common fields are lifted out of details.
func (l *AcquisitionLog) Record(eventType string, details map[string]interface{}) error {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Details:   details,
	}
	if taskID, ok := details["task_id"].(string); ok {
		entry.TaskID = taskID
	}
	if handler, ok := details["handler"].(string); ok {
		entry.Handler = handler
	}
	return l.write(&entry)
}

// RecordEvent appends a bus event. Intended for use as a Subscriber:
//
//	bus.Subscribe(events.EventFrameCollected, func(e events.Event) { log.RecordEvent(e) })
func (l *AcquisitionLog) RecordEvent(e Event) error {
	return l.Record(string(e.Type), e.Data)
}

func (l *AcquisitionLog) write(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	l.currentSize += int64(n)
	return nil
}

func (l *AcquisitionLog) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}

	dir := filepath.Join(filepath.Dir(l.logPath), archiveDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	l.rotations++
	base := filepath.Base(l.logPath)
	name := fmt.Sprintf("%s.%s.%d%s",
		base[:len(base)-len(logFileExtension)],
		time.Now().Format("20060102_150405"),
		l.rotations,
		logFileExtension)
	if err := os.Rename(l.logPath, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("archive log file: %w", err)
	}

	return l.open()
}

// Close syncs and closes the log file.
func (l *AcquisitionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}
