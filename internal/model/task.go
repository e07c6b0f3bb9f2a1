package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category identifies which handler a task is routed to. The set is closed:
// routing switches over these constants exhaustively, so an unroutable task
// cannot be constructed through NewTask.
type Category int

const (
	CategoryCtrl Category = iota
	CategoryCred
	CategorySed
	CategoryDebug
)

var categoryNames = map[Category]string{
	CategoryCtrl:  "ctrl",
	CategoryCred:  "cred",
	CategorySed:   "sed",
	CategoryDebug: "debug",
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ParseCategory maps the wire name of a command category to its constant.
func ParseCategory(s string) (Category, error) {
	for c, name := range categoryNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command category %q", s)
}

// Task is one tagged command payload. Tasks are immutable after creation:
// pushed once by a producer, popped once by the dispatcher, then discarded.
type Task struct {
	ID        string
	Category  Category
	Payload   map[string]any
	CreatedAt time.Time
}

// NewTask builds a task with a fresh ID. The payload map is copied so later
// mutation by the producer cannot reach the dispatcher.
func NewTask(category Category, payload map[string]any) Task {
	p := make(map[string]any, len(payload))
	for k, v := range payload {
		p[k] = v
	}
	return Task{
		ID:        uuid.NewString(),
		Category:  category,
		Payload:   p,
		CreatedAt: time.Now().UTC(),
	}
}

// Float reads a float payload parameter, accepting the numeric types the
// JSON and YAML decoders produce.
func (t Task) Float(key string, fallback float64) float64 {
	switch v := t.Payload[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// Bool reads a boolean payload parameter.
func (t Task) Bool(key string, fallback bool) bool {
	if v, ok := t.Payload[key].(bool); ok {
		return v
	}
	return fallback
}

// Str reads a string payload parameter.
func (t Task) Str(key, fallback string) string {
	if v, ok := t.Payload[key].(string); ok {
		return v
	}
	return fallback
}
