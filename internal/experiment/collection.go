package experiment

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/instamatic-dev/instamatic-sub003/internal/microscope"
	yamlutil "github.com/instamatic-dev/instamatic-sub003/internal/yaml"
)

// FrameRecord is the manifest entry for one collected frame.
type FrameRecord struct {
	Index       int       `yaml:"index"`
	File        string    `yaml:"file"`
	ExposureSec float64   `yaml:"exposure_sec"`
	StageAlpha  float64   `yaml:"stage_alpha"`
	CollectedAt time.Time `yaml:"collected_at"`
}

// Manifest indexes a cRED collection on disk.
type Manifest struct {
	Name      string        `yaml:"name"`
	StartedAt time.Time     `yaml:"started_at"`
	ClosedAt  *time.Time    `yaml:"closed_at,omitempty"`
	Frames    []FrameRecord `yaml:"frames"`
}

// Collection persists cRED frames as raw little-endian dumps plus a YAML
// manifest, rewritten atomically on every append so a crash never leaves the
// manifest behind the data.
type Collection struct {
	dir      string
	manifest Manifest
}

// NewCollection creates the collection directory structure.
func NewCollection(baseDir, name string) (*Collection, error) {
	dir := filepath.Join(baseDir, name)
	if err := os.MkdirAll(filepath.Join(dir, "frames"), 0755); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}
	return &Collection{
		dir:      dir,
		manifest: Manifest{Name: name, StartedAt: time.Now().UTC()},
	}, nil
}

// Dir returns the collection root.
func (c *Collection) Dir() string { return c.dir }

// Count returns the number of frames appended so far.
func (c *Collection) Count() int { return len(c.manifest.Frames) }

// Append stores one frame and updates the manifest.
func (c *Collection) Append(frame microscope.Frame) error {
	index := len(c.manifest.Frames)
	name := fmt.Sprintf("%05d.raw", index)
	path := filepath.Join(c.dir, "frames", name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame file: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, frame.Data); err != nil {
		f.Close()
		return fmt.Errorf("write frame data: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close frame file: %w", err)
	}

	c.manifest.Frames = append(c.manifest.Frames, FrameRecord{
		Index:       index,
		File:        filepath.Join("frames", name),
		ExposureSec: frame.ExposureSec,
		StageAlpha:  frame.StageAlpha,
		CollectedAt: time.Now().UTC(),
	})
	return c.writeManifest()
}

// Close marks the collection finished.
func (c *Collection) Close() error {
	now := time.Now().UTC()
	c.manifest.ClosedAt = &now
	return c.writeManifest()
}

func (c *Collection) writeManifest() error {
	return yamlutil.AtomicWrite(filepath.Join(c.dir, "collection.yaml"), c.manifest)
}
