package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/e7canasta/ttsam-go/internal/types"
)

func TestJSONWaveformSource_DecodesLine(t *testing.T) {
	line := `{"station_id":"S1","channel_id":"Z","sample_rate_hz":100,"start_time_unix_nano":0,"end_time_unix_nano":10000000,"samples":[1,2,3],"gain":1}` + "\n"
	src := NewJSONWaveformSource(strings.NewReader(line))

	p, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.StationID != "S1" || p.ChannelID != types.ChannelZ {
		t.Fatalf("expected station S1/channel Z, got %+v", p)
	}
	if len(p.Samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(p.Samples))
	}
}

func TestJSONWaveformSource_EOFOnExhaustion(t *testing.T) {
	src := NewJSONWaveformSource(strings.NewReader(""))
	_, err := src.Next(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestJSONWaveformSource_MalformedLineIsAnError(t *testing.T) {
	src := NewJSONWaveformSource(strings.NewReader("not json\n"))
	_, err := src.Next(context.Background())
	if err == nil {
		t.Fatal("expected a decode error for a malformed line")
	}
}

func TestJSONWaveformSource_RespectsContextCancellation(t *testing.T) {
	src := NewJSONWaveformSource(strings.NewReader("{}\n"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
