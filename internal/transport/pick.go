// Package transport implements the upstream pick and waveform transports:
// a blocking-iterator PickSource abstraction with text-line and Kafka
// implementations, and a WaveformSource abstraction for the ingestor.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/e7canasta/ttsam-go/internal/types"
)

// PickSource is a blocking iterator over upstream phase picks, matching
// spec.md section 6's "pick messages: lines in a text stream... consumed
// only P-phase picks" contract at the interface level, regardless of the
// underlying byte transport.
type PickSource interface {
	// Next blocks until a pick is available, ctx is cancelled, or the
	// source is exhausted (io.EOF).
	Next(ctx context.Context) (types.Pick, error)
	Close() error
}

// pickFieldCount is the minimum whitespace-separated field count in the
// upstream pick line protocol from spec.md section 6: station, channel,
// sample_rate, network_code, location_code, phase, pick_time_unix_epoch,
// weight, instrument_flag, upd_seconds, duration, amplitude_proxy, p_or_s.
const pickFieldCount = 13

// TextPickSource reads the literal whitespace-delimited pick line protocol
// off any io.Reader (a TCP connection, a file, stdin).
type TextPickSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewTextPickSource wraps r as a PickSource. If r also implements
// io.Closer, Close releases it.
func NewTextPickSource(r io.Reader) *TextPickSource {
	s := &TextPickSource{scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Next returns the next valid P or S pick line, skipping malformed lines.
func (s *TextPickSource) Next(ctx context.Context) (types.Pick, error) {
	for {
		select {
		case <-ctx.Done():
			return types.Pick{}, ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return types.Pick{}, fmt.Errorf("read pick line: %w", err)
			}
			return types.Pick{}, io.EOF
		}

		pick, ok := parsePickLine(s.scanner.Text())
		if !ok {
			continue
		}
		return pick, nil
	}
}

// Close closes the underlying reader, if closeable.
func (s *TextPickSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// parsePickLine decodes one whitespace-separated pick line per spec.md
// section 6. Lines with fewer than pickFieldCount fields, or with
// unparseable numeric fields, are rejected.
func parsePickLine(line string) (types.Pick, bool) {
	fields := strings.Fields(line)
	if len(fields) < pickFieldCount {
		return types.Pick{}, false
	}

	station := fields[0]
	phaseStr := fields[5]
	epochStr := fields[6]
	weightStr := fields[7]
	amplitudeStr := fields[11]

	epoch, err := strconv.ParseFloat(epochStr, 64)
	if err != nil {
		return types.Pick{}, false
	}
	weight, err := strconv.ParseFloat(weightStr, 64)
	if err != nil {
		return types.Pick{}, false
	}
	amplitude, err := strconv.ParseFloat(amplitudeStr, 64)
	if err != nil {
		return types.Pick{}, false
	}

	var phase types.PickPhase
	switch strings.ToUpper(phaseStr) {
	case "P":
		phase = types.PhaseP
	case "S":
		phase = types.PhaseS
	default:
		return types.Pick{}, false
	}

	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))

	return types.Pick{
		StationID:      station,
		Phase:          phase,
		PickTime:       time.Unix(sec, nsec).UTC(),
		Weight:         weight,
		AmplitudeProxy: amplitude,
	}, true
}
