// Package status implements the CLI-side daemon status readout.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/instamatic-dev/instamatic-sub003/internal/uds"
)

// Report is the CLI view of the daemon: liveness, the daemon's own status
// payload, and an on-disk summary of collections. The daemon payload is
// decoded from JSON rather than shared as a type so the CLI keeps working
// against older daemons.
type Report struct {
	Daemon      DaemonStatus        `json:"daemon"`
	Collections []CollectionSummary `json:"collections,omitempty"`
}

type DaemonStatus struct {
	Running    bool                      `json:"running"`
	Pid        int                       `json:"pid,omitempty"`
	Instrument string                    `json:"instrument,omitempty"`
	Simulate   bool                      `json:"simulate,omitempty"`
	QueueLen   int                       `json:"queue_len"`
	Watchers   map[string]WatcherReading `json:"watchers,omitempty"`
}

type WatcherReading struct {
	Value     float64 `json:"value"`
	AgeSec    float64 `json:"age_sec"`
	Polls     uint64  `json:"polls"`
	Errors    uint64  `json:"errors"`
	Available bool    `json:"available"`
}

type CollectionSummary struct {
	Name     string `json:"name"`
	Frames   int    `json:"frames"`
	Finished bool   `json:"finished"`
}

// Run gathers the report for a work directory and prints it to w.
func Run(workDir string, jsonOutput bool, w io.Writer) error {
	report := Gather(workDir)

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(w, report)
	return nil
}

// Gather builds the report without printing it.
func Gather(workDir string) Report {
	return Report{
		Daemon:      queryDaemon(filepath.Join(workDir, uds.DefaultSocketName)),
		Collections: scanCollections(filepath.Join(workDir, "collections")),
	}
}

func queryDaemon(sockPath string) DaemonStatus {
	client := uds.NewClient(sockPath)
	client.SetTimeout(3 * time.Second)

	resp, err := client.SendCommand("status", nil)
	if err != nil || !resp.Success {
		return DaemonStatus{Running: false}
	}

	var ds DaemonStatus
	if err := json.Unmarshal(resp.Data, &ds); err != nil {
		// The daemon answered, even if the payload is unreadable.
		return DaemonStatus{Running: true}
	}
	ds.Running = true
	return ds
}

type manifestHeader struct {
	Name     string     `yaml:"name"`
	ClosedAt *time.Time `yaml:"closed_at"`
	Frames   []struct {
		Index int `yaml:"index"`
	} `yaml:"frames"`
}

func scanCollections(dir string) []CollectionSummary {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var collections []CollectionSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name(), "collection.yaml"))
		if err != nil {
			continue
		}
		var m manifestHeader
		if err := yaml.Unmarshal(data, &m); err != nil {
			continue
		}
		// Garbage that still parses as YAML has no manifest name.
		if m.Name == "" {
			continue
		}
		collections = append(collections, CollectionSummary{
			Name:     m.Name,
			Frames:   len(m.Frames),
			Finished: m.ClosedAt != nil,
		})
	}
	sort.Slice(collections, func(i, j int) bool {
		return collections[i].Name < collections[j].Name
	})
	return collections
}

func printReport(w io.Writer, r Report) {
	if !r.Daemon.Running {
		fmt.Fprintln(w, "Daemon: stopped")
	} else {
		mode := "hardware"
		if r.Daemon.Simulate {
			mode = "simulated"
		}
		fmt.Fprintf(w, "Daemon: running  pid=%d  instrument=%s (%s)  queue=%d\n",
			r.Daemon.Pid, r.Daemon.Instrument, mode, r.Daemon.QueueLen)
	}

	if len(r.Daemon.Watchers) > 0 {
		fmt.Fprintln(w, "\nWatchers:")
		names := make([]string, 0, len(r.Daemon.Watchers))
		for name := range r.Daemon.Watchers {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "  %-16s  %10s  %8s  %6s  %6s\n", "NAME", "VALUE", "AGE", "POLLS", "ERRORS")
		for _, name := range names {
			v := r.Daemon.Watchers[name]
			value := "n/a"
			age := "-"
			if v.Available {
				value = fmt.Sprintf("%.4g", v.Value)
				age = fmt.Sprintf("%.1fs", v.AgeSec)
			}
			fmt.Fprintf(w, "  %-16s  %10s  %8s  %6d  %6d\n", name, value, age, v.Polls, v.Errors)
		}
	}

	if len(r.Collections) > 0 {
		fmt.Fprintln(w, "\nCollections:")
		fmt.Fprintf(w, "  %-20s  %6s  %s\n", "NAME", "FRAMES", "STATE")
		for _, c := range r.Collections {
			state := "open"
			if c.Finished {
				state = "finished"
			}
			fmt.Fprintf(w, "  %-20s  %6d  %s\n", c.Name, c.Frames, state)
		}
	} else {
		fmt.Fprintln(w, "\nCollections: none")
	}
}
