package reports

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/e7canasta/ttsam-go/internal/types"
)

// EventSummary is one entry in ListEvents: enough to locate and describe an
// event's log file without reading it.
type EventSummary struct {
	FileName string
	Path     string
}

// ListEvents lists every report log file in dir, sorted by filename (which
// sorts chronologically, since it is prefixed by an ISO-8601 timestamp).
// This is the small supplementary read-side convenience from spec.md
// section 6's "readers use the file name to list events".
func ListEvents(dir string) ([]EventSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list report log dir: %w", err)
	}

	summaries := make([]EventSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		summaries = append(summaries, EventSummary{
			FileName: e.Name(),
			Path:     filepath.Join(dir, e.Name()),
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].FileName < summaries[j].FileName })
	return summaries, nil
}

// ReadEvent parses every line of the report log at path into Reports, in
// tick order.
func ReadEvent(path string) ([]types.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report log: %w", err)
	}
	defer f.Close()

	var out []types.Report
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r types.Report
		if err := r.UnmarshalJSON(line); err != nil {
			continue
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan report log: %w", err)
	}
	return out, nil
}
