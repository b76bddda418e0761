// Package journal appends one JSON line per install step outcome.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Step outcomes.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
	StatusDryRun  = "dry-run"
)

// Entry is a single step record.
type Entry struct {
	Timestamp  string `json:"timestamp"`
	RunID      string `json:"run_id,omitempty"`
	Step       string `json:"step"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Journal writes entries in JSON-lines format.
type Journal struct {
	mu    sync.Mutex
	w     io.WriteCloser
	runID string
}

// Open appends to the journal at path. An empty path disables journaling.
func Open(path, runID string) (*Journal, error) {
	if path == "" {
		return &Journal{w: nopWriteCloser{}, runID: runID}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{w: f, runID: runID}, nil
}

// Record writes the outcome of step. A non-nil err marks it failed.
func (j *Journal) Record(step, status string, d time.Duration, err error) error {
	e := Entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		RunID:      j.runID,
		Step:       step,
		Status:     status,
		DurationMS: d.Milliseconds(),
	}
	if err != nil {
		e.Status = StatusFailed
		e.Error = err.Error()
	}
	return j.Write(e)
}

// Write appends e.
func (j *Journal) Write(e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Close()
}

// Read returns every well-formed entry in the journal at path. Malformed
// lines are skipped.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, fmt.Errorf("read journal: %w", err)
	}
	return entries, nil
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
