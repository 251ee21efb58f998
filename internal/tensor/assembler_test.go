package tensor

import (
	"testing"
	"time"

	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/errs"
	"github.com/e7canasta/ttsam-go/internal/metrics"
	"github.com/e7canasta/ttsam-go/internal/types"
	"github.com/e7canasta/ttsam-go/internal/wavebuffer"
)

const (
	testRate       = 100.0
	testWindowSecs = 1.0
)

func testBufConfig() wavebuffer.Config {
	return wavebuffer.Config{
		WindowSeconds:  testWindowSecs,
		SampleRateHz:   testRate,
		BandpassLowHz:  0.075,
		BandpassHighHz: 10,
		BandpassOrder:  4,
	}
}

// fillStation inserts one full window of non-constant data for stationID,
// ending at endTime. The buffer's ring anchor is stamped at construction, so
// callers must let more than windowSecs elapse before calling this with
// endTime := time.Now(), or the packet lands on/before the anchor and the
// ring drops it as stale.
func fillStation(t *testing.T, buf *wavebuffer.Buffer, stationID string, endTime time.Time) {
	t.Helper()
	n := int(testWindowSecs * testRate)
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 10.0
	}
	samples[n/2] = 40.0

	start := endTime.Add(-time.Duration(testWindowSecs * float64(time.Second)))
	for _, ch := range []types.Channel{types.ChannelZ, types.ChannelN, types.ChannelE} {
		if err := buf.Insert(types.WaveformPacket{
			StationID:    stationID,
			ChannelID:    ch,
			SampleRateHz: testRate,
			StartTime:    start,
			EndTime:      endTime,
			Samples:      append([]float64(nil), samples...),
			Gain:         1,
		}); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}
}

func testCatalogWithStations(ids ...string) catalog.Catalog {
	stations := make([]types.StationMeta, len(ids))
	for i, id := range ids {
		stations[i] = types.StationMeta{StationID: id, Latitude: 23.5 + float64(i)*0.1, Longitude: 121.5, Elevation: 10}
	}
	targets := []types.Target{
		{Name: "Hualien City", County: "Hualien", Latitude: 23.97, Longitude: 121.60, Vs30: 350},
	}
	return catalog.New(stations, targets, nil)
}

func TestAssemble_InsufficientDataWhenNoStationHasAWindow(t *testing.T) {
	m := metrics.NewForTesting()
	buf := wavebuffer.New(testBufConfig(), []string{"S1"}, m)
	cat := testCatalogWithStations("S1")
	a := New(Config{NStationsMax: 25}, buf, cat)

	_, err := a.Assemble(types.TickRequest{
		StationPickOrder: []string{"S1"},
		WaveEndTime:      time.Now(),
	})
	if err != errs.ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestAssemble_ShapeAndParticipation(t *testing.T) {
	m := metrics.NewForTesting()
	buf := wavebuffer.New(testBufConfig(), []string{"S1", "S2"}, m)
	cat := testCatalogWithStations("S1", "S2")

	time.Sleep(1200 * time.Millisecond)
	now := time.Now()
	fillStation(t, buf, "S1", now)

	a := New(Config{NStationsMax: 25}, buf, cat)
	input, err := a.Assemble(types.TickRequest{
		StationPickOrder: []string{"S1", "S2"},
		WaveEndTime:      now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(input.Waveforms) != 25 || len(input.StationMeta) != 25 {
		t.Fatalf("expected fixed shape of 25 rows, got %d waveforms, %d meta rows",
			len(input.Waveforms), len(input.StationMeta))
	}
	if !input.ParticipationMask[0] {
		t.Fatal("expected row 0 (S1, which had data) to participate")
	}
	if len(input.TargetMeta) != 1 {
		t.Fatalf("expected 1 target row, got %d", len(input.TargetMeta))
	}
	if len(input.Waveforms[0][0]) != 100 {
		t.Fatalf("expected 100-sample window per channel, got %d", len(input.Waveforms[0][0]))
	}
}

func TestAssemble_StationOrderCappedAtNStationsMax(t *testing.T) {
	m := metrics.NewForTesting()
	ids := []string{"S1", "S2", "S3", "S4", "S5"}
	buf := wavebuffer.New(testBufConfig(), ids, m)
	cat := testCatalogWithStations(ids...)

	a := New(Config{NStationsMax: 2}, buf, cat)
	input, err := a.Assemble(types.TickRequest{
		StationPickOrder: ids,
		WaveEndTime:      time.Now(),
	})
	// No data was ever inserted, so this should hit ErrInsufficientData, but
	// StationOrder truncation happens before the data-read loop; assert via
	// a station set that does have data instead.
	if err == nil {
		t.Fatalf("expected ErrInsufficientData with no inserted data, got shape %+v", input)
	}

	time.Sleep(1200 * time.Millisecond)
	now := time.Now()
	for _, id := range ids {
		fillStation(t, buf, id, now)
	}

	input, err = a.Assemble(types.TickRequest{StationPickOrder: ids, WaveEndTime: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(input.StationOrder) != 2 {
		t.Fatalf("expected station order truncated to NStationsMax=2, got %d: %v",
			len(input.StationOrder), input.StationOrder)
	}
	if input.StationOrder[0] != "S1" || input.StationOrder[1] != "S2" {
		t.Fatalf("expected tail truncation to keep the earliest-picking stations, got %v", input.StationOrder)
	}
}

func TestAssemble_UnknownStationIsSkippedNotFatal(t *testing.T) {
	m := metrics.NewForTesting()
	buf := wavebuffer.New(testBufConfig(), []string{"S1"}, m)
	cat := testCatalogWithStations("S1")

	time.Sleep(1200 * time.Millisecond)
	now := time.Now()
	fillStation(t, buf, "S1", now)

	a := New(Config{NStationsMax: 25}, buf, cat)
	input, err := a.Assemble(types.TickRequest{
		StationPickOrder: []string{"S1", "ghost-station"},
		WaveEndTime:      now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !input.ParticipationMask[0] {
		t.Fatal("expected S1 to still participate despite an unknown sibling station")
	}
}

// StationOrder must stay aligned with the compacted waveform/meta rows even
// when a skipped station is not last in the candidate order: row s's entry
// must name whichever station actually occupies waveform/meta row s, per
// types.InferenceInput's documented contract.
func TestAssemble_StationOrderStaysAlignedWhenMiddleStationIsSkipped(t *testing.T) {
	m := metrics.NewForTesting()
	buf := wavebuffer.New(testBufConfig(), []string{"S1", "S2"}, m)
	cat := testCatalogWithStations("S1", "S2")

	time.Sleep(1200 * time.Millisecond)
	now := time.Now()
	fillStation(t, buf, "S1", now)
	fillStation(t, buf, "S2", now)

	a := New(Config{NStationsMax: 25}, buf, cat)
	input, err := a.Assemble(types.TickRequest{
		StationPickOrder: []string{"S1", "ghost-station", "S2"},
		WaveEndTime:      now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if input.StationOrder[0] != "S1" {
		t.Fatalf("expected row 0 to name S1, got %q", input.StationOrder[0])
	}
	if !input.ParticipationMask[0] {
		t.Fatal("expected row 0 (S1) to participate")
	}
	if input.StationOrder[1] != "S2" {
		t.Fatalf("expected the skipped ghost station to leave no gap: row 1 should name S2, got %q", input.StationOrder[1])
	}
	if !input.ParticipationMask[1] {
		t.Fatal("expected row 1 (S2) to participate")
	}
	for i := 2; i < len(input.StationOrder); i++ {
		if input.StationOrder[i] != "" {
			t.Fatalf("expected unused row %d to have an empty StationOrder entry, got %q", i, input.StationOrder[i])
		}
		if input.ParticipationMask[i] {
			t.Fatalf("expected unused row %d to not participate", i)
		}
	}
}

func TestAssemble_DemeansAndNormalizesWaveforms(t *testing.T) {
	m := metrics.NewForTesting()
	buf := wavebuffer.New(testBufConfig(), []string{"S1"}, m)
	cat := testCatalogWithStations("S1")

	time.Sleep(1200 * time.Millisecond)
	now := time.Now()
	fillStation(t, buf, "S1", now)

	a := New(Config{NStationsMax: 25}, buf, cat)
	input, err := a.Assemble(types.TickRequest{
		StationPickOrder: []string{"S1"},
		WaveEndTime:      now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	z := input.Waveforms[0][0]
	var maxAbs float64
	for _, v := range z {
		if v > 1.0001 || v < -1.0001 {
			t.Fatalf("expected normalized samples within [-1, 1], got %v", v)
		}
		abs := v
		if abs < 0 {
			abs = -abs
		}
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	if maxAbs < 0.99 {
		t.Fatalf("expected the peak sample to normalize to ~1.0, got %v", maxAbs)
	}
}
