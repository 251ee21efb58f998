package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/e7canasta/ttsam-go/internal/bus"
	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/config"
	"github.com/e7canasta/ttsam-go/internal/metrics"
	"github.com/e7canasta/ttsam-go/internal/reports"
	"github.com/e7canasta/ttsam-go/internal/tensor"
	"github.com/e7canasta/ttsam-go/internal/types"
	"github.com/e7canasta/ttsam-go/internal/wavebuffer"
)

type fakePredictor struct {
	output types.InferenceOutput
	err    error
}

func (f *fakePredictor) Predict(ctx context.Context, input types.InferenceInput) (types.InferenceOutput, error) {
	return f.output, f.err
}

func newTestDispatcher(t *testing.T, pred types.Predictor, cat catalog.Catalog, view *bus.Broadcaster) *Dispatcher {
	t.Helper()
	m := metrics.NewForTesting()
	buf := wavebuffer.New(wavebuffer.Config{WindowSeconds: 1, SampleRateHz: 100, BandpassLowHz: 0.075, BandpassHighHz: 10, BandpassOrder: 4},
		[]string{"S1"}, m)
	assembler := tensor.New(tensor.Config{NStationsMax: 25}, buf, cat)

	var tunables config.RuntimeTunable
	tunables.SetIntensityCutoff(0.5)
	tunables.SetAlarmMinIntensity("4")

	return New(Config{PredictTimeoutSeconds: 2, ReportDir: t.TempDir()},
		assembler, pred, cat, &tunables, clockwork.NewRealClock(), m, view, view, nil)
}

func TestDispatch_InsufficientDataSkipsPublish(t *testing.T) {
	cat := catalog.New([]types.StationMeta{{StationID: "S1"}}, nil, nil)
	view := bus.NewBroadcaster(nil)
	ch, unsub := view.Subscribe()
	defer unsub()

	d := newTestDispatcher(t, &fakePredictor{}, cat, view)

	// No waveform data was ever inserted, so Assemble returns
	// ErrInsufficientData and Dispatch must not publish anything.
	d.Dispatch(context.Background(), types.TickRequest{
		EventID:          1,
		StationPickOrder: []string{"S1"},
		WaveEndTime:      time.Now(),
	})

	select {
	case r := <-ch:
		t.Fatalf("expected no report to be published on insufficient data, got %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

// A tick already queued on the input channel at the moment ctx is
// cancelled must still be dispatched before Run returns, per spec.md
// section 7's "drains its input channel, finalizes any in-flight tick, and
// exits" shutdown contract.
func TestDispatcherRun_DrainsQueuedTickOnShutdown(t *testing.T) {
	cat := catalog.New(
		[]types.StationMeta{{StationID: "S1", Latitude: 23.5, Longitude: 121.5}},
		[]types.Target{{Name: "Hualien City", County: "Hualien", Latitude: 23.97, Longitude: 121.6, Vs30: 350}},
		nil,
	)
	view := bus.NewBroadcaster(nil)
	ch, unsub := view.Subscribe()
	defer unsub()

	m := metrics.NewForTesting()
	buf := wavebuffer.New(wavebuffer.Config{WindowSeconds: 1, SampleRateHz: 100, BandpassLowHz: 0.075, BandpassHighHz: 10, BandpassOrder: 4},
		[]string{"S1"}, m)

	time.Sleep(1200 * time.Millisecond)
	now := time.Now()
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = 10.0
	}
	samples[50] = 40.0
	start := now.Add(-time.Second)
	for _, c := range []types.Channel{types.ChannelZ, types.ChannelN, types.ChannelE} {
		if err := buf.Insert(types.WaveformPacket{
			StationID: "S1", ChannelID: c, SampleRateHz: 100,
			StartTime: start, EndTime: now, Samples: append([]float64(nil), samples...), Gain: 1,
		}); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}

	assembler := tensor.New(tensor.Config{NStationsMax: 25}, buf, cat)
	var tunables config.RuntimeTunable
	tunables.SetIntensityCutoff(0.5)
	tunables.SetAlarmMinIntensity("4")
	pred := &fakePredictor{output: types.InferenceOutput{
		Mixtures: []types.GaussianMixture{{Weights: []float64{1}, Means: []float64{0}, LogStdDev: []float64{0.1}}},
	}}
	d := New(Config{PredictTimeoutSeconds: 2, ReportDir: t.TempDir()},
		assembler, pred, cat, &tunables, clockwork.NewRealClock(), m, view, view, nil)

	ticks := make(chan types.TickRequest, 1)
	ticks <- types.TickRequest{
		EventID:          9,
		TickIndex:        0,
		StationPickOrder: []string{"S1"},
		WaveEndTime:      now,
		PicksCount:       3,
		Terminal:         true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.Run(ctx, ticks)

	select {
	case r := <-ch:
		if r.EventID != 9 {
			t.Fatalf("expected the queued tick's report, got event_id %d", r.EventID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the tick queued at shutdown to still be dispatched")
	}
}

func TestDispatch_PersistsAndPublishesOnSuccess(t *testing.T) {
	cat := catalog.New(
		[]types.StationMeta{{StationID: "S1", Latitude: 23.5, Longitude: 121.5}},
		[]types.Target{{Name: "Hualien City", County: "Hualien", Latitude: 23.97, Longitude: 121.6, Vs30: 350}},
		nil,
	)
	view := bus.NewBroadcaster(nil)
	ch, unsub := view.Subscribe()
	defer unsub()

	m := metrics.NewForTesting()
	buf := wavebuffer.New(wavebuffer.Config{WindowSeconds: 1, SampleRateHz: 100, BandpassLowHz: 0.075, BandpassHighHz: 10, BandpassOrder: 4},
		[]string{"S1"}, m)

	time.Sleep(1200 * time.Millisecond)
	now := time.Now()
	n := 100
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 10.0
	}
	samples[n/2] = 40.0
	start := now.Add(-time.Second)
	for _, ch := range []types.Channel{types.ChannelZ, types.ChannelN, types.ChannelE} {
		if err := buf.Insert(types.WaveformPacket{
			StationID: "S1", ChannelID: ch, SampleRateHz: 100,
			StartTime: start, EndTime: now, Samples: append([]float64(nil), samples...), Gain: 1,
		}); err != nil {
			t.Fatalf("unexpected insert error: %v", err)
		}
	}

	assembler := tensor.New(tensor.Config{NStationsMax: 25}, buf, cat)
	var tunables config.RuntimeTunable
	tunables.SetIntensityCutoff(0.5)
	tunables.SetAlarmMinIntensity("4")

	pred := &fakePredictor{output: types.InferenceOutput{
		Mixtures: []types.GaussianMixture{{Weights: []float64{1}, Means: []float64{0}, LogStdDev: []float64{0.1}}},
	}}
	reportDir := t.TempDir()
	d := New(Config{PredictTimeoutSeconds: 2, ReportDir: reportDir},
		assembler, pred, cat, &tunables, clockwork.NewRealClock(), m, view, view, nil)

	d.Dispatch(context.Background(), types.TickRequest{
		EventID:          5,
		TickIndex:        0,
		StationPickOrder: []string{"S1"},
		WaveEndTime:      now,
		PicksCount:       3,
		Terminal:         true,
	})

	select {
	case r := <-ch:
		if r.Kind != types.ReportOK {
			t.Fatalf("expected an OK report, got kind=%v", r.Kind)
		}
		if r.EventID != 5 {
			t.Fatalf("expected event_id 5, got %d", r.EventID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the published report")
	}

	summaries, err := reports.ListEvents(reportDir)
	if err != nil {
		t.Fatalf("unexpected error listing events: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected exactly one persisted event log, got %d", len(summaries))
	}

	got, err := reports.ReadEvent(summaries[0].Path)
	if err != nil {
		t.Fatalf("unexpected error reading event log: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one persisted report line, got %d", len(got))
	}
}

func TestDispatch_PredictFailureIsReportedNotPanicked(t *testing.T) {
	cat := catalog.New(
		[]types.StationMeta{{StationID: "S1"}},
		[]types.Target{{Name: "T1"}},
		nil,
	)
	view := bus.NewBroadcaster(nil)
	ch, unsub := view.Subscribe()
	defer unsub()

	m := metrics.NewForTesting()
	buf := wavebuffer.New(wavebuffer.Config{WindowSeconds: 1, SampleRateHz: 100, BandpassLowHz: 0.075, BandpassHighHz: 10, BandpassOrder: 4},
		[]string{"S1"}, m)

	time.Sleep(1200 * time.Millisecond)
	now := time.Now()
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(i % 3)
	}
	start := now.Add(-time.Second)
	for _, ch := range []types.Channel{types.ChannelZ, types.ChannelN, types.ChannelE} {
		buf.Insert(types.WaveformPacket{
			StationID: "S1", ChannelID: ch, SampleRateHz: 100,
			StartTime: start, EndTime: now, Samples: append([]float64(nil), samples...), Gain: 1,
		})
	}

	assembler := tensor.New(tensor.Config{NStationsMax: 25}, buf, cat)
	var tunables config.RuntimeTunable
	tunables.SetIntensityCutoff(0.5)
	tunables.SetAlarmMinIntensity("4")

	pred := &fakePredictor{err: context.DeadlineExceeded}
	d := New(Config{PredictTimeoutSeconds: 2, ReportDir: t.TempDir()},
		assembler, pred, cat, &tunables, clockwork.NewRealClock(), m, view, view, nil)

	d.Dispatch(context.Background(), types.TickRequest{
		EventID: 9, StationPickOrder: []string{"S1"}, WaveEndTime: now,
	})

	select {
	case r := <-ch:
		if r.Kind != types.ReportPredictFailed {
			t.Fatalf("expected predict_failed, got %v", r.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the failure report")
	}
}
