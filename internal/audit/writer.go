// Package audit keeps the append-only CSV trail of remediation outcomes.
package audit

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fix methods written to the trail
const (
	MethodRestartOrFallback = "restart_or_fallback"
	MethodReboot            = "reboot"
	MethodFailed            = "failed"
)

var header = []string{"timestamp", "device_id", "fix_method"}

// FileName returns the trail name for a run started at t
func FileName(t time.Time) string {
	return fmt.Sprintf("depth_fix_%s.csv", t.Format("20060102_1504"))
}

// Writer appends one row per terminal device outcome. Appends are
// serialized and flushed immediately; existing rows are never rewritten.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	csv  *csv.Writer
}

// Open opens path for appending, creating it and its directory when
// needed. The header is written only to an empty file.
func Open(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}

	w := &Writer{path: path, file: f, csv: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := w.write(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

// OpenInDir opens a trail named after start inside dir
func OpenInDir(dir string, start time.Time) (*Writer, error) {
	return Open(filepath.Join(dir, FileName(start)))
}

// Path returns the file being written
func (w *Writer) Path() string {
	return w.path
}

// Append records a terminal outcome for a device
func (w *Writer) Append(at time.Time, deviceID, method string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write([]string{at.Format(time.RFC3339), deviceID, method})
}

func (w *Writer) write(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("write audit row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush audit row: %w", err)
	}
	return nil
}

// Close flushes and closes the file
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.csv.Flush()
	return w.file.Close()
}
