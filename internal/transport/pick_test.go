package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/e7canasta/ttsam-go/internal/types"
)

func TestParsePickLine_ValidPPhase(t *testing.T) {
	line := "S1 HLZ 100 TW -- P 1700000000.500 1.0 0 0.0 0.0 123.4 P"
	pick, ok := parsePickLine(line)
	if !ok {
		t.Fatal("expected a valid pick line to parse")
	}
	if pick.StationID != "S1" {
		t.Fatalf("expected station S1, got %q", pick.StationID)
	}
	if pick.Phase != types.PhaseP {
		t.Fatalf("expected phase P, got %v", pick.Phase)
	}
	if pick.Weight != 1.0 {
		t.Fatalf("expected weight 1.0, got %v", pick.Weight)
	}
	if pick.AmplitudeProxy != 123.4 {
		t.Fatalf("expected amplitude proxy 123.4, got %v", pick.AmplitudeProxy)
	}
}

func TestParsePickLine_SPhaseAccepted(t *testing.T) {
	line := "S2 HLZ 100 TW -- s 1700000000.0 0.5 0 0.0 0.0 10.0 S"
	pick, ok := parsePickLine(line)
	if !ok {
		t.Fatal("expected a valid S-phase line to parse")
	}
	if pick.Phase != types.PhaseS {
		t.Fatalf("expected phase S, got %v", pick.Phase)
	}
}

func TestParsePickLine_RejectsTooFewFields(t *testing.T) {
	_, ok := parsePickLine("S1 HLZ 100 TW -- P")
	if ok {
		t.Fatal("expected a short line to be rejected")
	}
}

func TestParsePickLine_RejectsUnknownPhase(t *testing.T) {
	line := "S1 HLZ 100 TW -- X 1700000000.0 1.0 0 0.0 0.0 123.4 X"
	_, ok := parsePickLine(line)
	if ok {
		t.Fatal("expected an unrecognized phase to be rejected")
	}
}

func TestParsePickLine_RejectsNonNumericEpoch(t *testing.T) {
	line := "S1 HLZ 100 TW -- P not-a-number 1.0 0 0.0 0.0 123.4 P"
	_, ok := parsePickLine(line)
	if ok {
		t.Fatal("expected a non-numeric epoch to be rejected")
	}
}

func TestTextPickSource_SkipsMalformedLinesAndReturnsEOF(t *testing.T) {
	body := "garbage line\n" +
		"S1 HLZ 100 TW -- P 1700000000.0 1.0 0 0.0 0.0 1.0 P\n" +
		"another bad one\n"
	src := NewTextPickSource(strings.NewReader(body))

	pick, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pick.StationID != "S1" {
		t.Fatalf("expected S1 as the first valid pick, got %q", pick.StationID)
	}

	_, err = src.Next(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after exhausting the source, got %v", err)
	}
}

func TestTextPickSource_RespectsContextCancellation(t *testing.T) {
	src := NewTextPickSource(strings.NewReader(""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Next(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTextPickSource_CloseWithoutCloserIsNoop(t *testing.T) {
	src := NewTextPickSource(strings.NewReader(""))
	if err := src.Close(); err != nil {
		t.Fatalf("expected no error closing a non-closeable reader, got %v", err)
	}
}
