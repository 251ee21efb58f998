// Package reports implements the append-only per-event report log: one
// JSON line per tick, plus a small read-side helper for listing and
// replaying past events from that log directory.
package reports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/e7canasta/ttsam-go/internal/types"
)

// EventLog is the append-only writer for one event's report stream, opened
// lazily on its first tick and closed on the terminal tick.
type EventLog struct {
	dir  string
	file *os.File
	path string
}

// NewEventLog creates (or appends to, if it already exists) the log file for
// eventID, named by the event's first report time per spec.md section 6.
func NewEventLog(dir string, eventID uint64, firstReportTime time.Time) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report log dir: %w", err)
	}

	name := fmt.Sprintf("%s_%d.log", firstReportTime.UTC().Format("2006-01-02T15:04:05"), eventID)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open report log: %w", err)
	}

	return &EventLog{dir: dir, file: f, path: path}, nil
}

// Append writes one Report as a JSON line. Readers observe complete lines
// in tick order, per spec.md section 5.
func (l *EventLog) Append(report types.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := l.file.Write(payload); err != nil {
		return fmt.Errorf("append report line: %w", err)
	}
	return nil
}

// Close closes the underlying file. Safe to call once, at event drain.
func (l *EventLog) Close() error {
	return l.file.Close()
}

// Path returns the log file's path, mainly for diagnostics and tests.
func (l *EventLog) Path() string {
	return l.path
}
