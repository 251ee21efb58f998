package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/e7canasta/ttsam-go/internal/types"
)

func nanoToTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// waveformWire is the newline-delimited JSON encoding of a WaveformPacket
// used by JSONWaveformSource. Spec.md section 1 leaves the upstream
// waveform encoding itself out of scope; this is one concrete, simple
// transport for tests and small deployments, not the only possible one.
type waveformWire struct {
	StationID    string    `json:"station_id"`
	ChannelID    string    `json:"channel_id"`
	SampleRateHz float64   `json:"sample_rate_hz"`
	StartTime    int64     `json:"start_time_unix_nano"`
	EndTime      int64     `json:"end_time_unix_nano"`
	Samples      []float64 `json:"samples"`
	Gain         float64   `json:"gain"`
}

// JSONWaveformSource decodes one WaveformPacket per line from an io.Reader.
type JSONWaveformSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewJSONWaveformSource wraps r as a WaveformSource.
func NewJSONWaveformSource(r io.Reader) *JSONWaveformSource {
	s := &JSONWaveformSource{scanner: bufio.NewScanner(r)}
	s.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Next decodes the next line as a WaveformPacket.
func (s *JSONWaveformSource) Next(ctx context.Context) (types.WaveformPacket, error) {
	select {
	case <-ctx.Done():
		return types.WaveformPacket{}, ctx.Err()
	default:
	}

	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return types.WaveformPacket{}, fmt.Errorf("read waveform line: %w", err)
		}
		return types.WaveformPacket{}, io.EOF
	}

	var wire waveformWire
	if err := json.Unmarshal(s.scanner.Bytes(), &wire); err != nil {
		return types.WaveformPacket{}, fmt.Errorf("decode waveform packet: %w", err)
	}

	return types.WaveformPacket{
		StationID:    wire.StationID,
		ChannelID:    types.Channel(wire.ChannelID),
		SampleRateHz: wire.SampleRateHz,
		StartTime:    nanoToTime(wire.StartTime),
		EndTime:      nanoToTime(wire.EndTime),
		Samples:      wire.Samples,
		Gain:         wire.Gain,
	}, nil
}

// Close closes the underlying reader, if closeable.
func (s *JSONWaveformSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
