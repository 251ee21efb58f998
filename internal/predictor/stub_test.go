package predictor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/e7canasta/ttsam-go/internal/types"
)

func TestStub_PredictReturnsOneMixturePerTarget(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStub(10*time.Millisecond, clock)

	input := types.InferenceInput{
		Waveforms:         make([][3][]float64, 1),
		StationMeta:       make([][]float64, 1),
		TargetMeta:        [][]float64{{23.9, 121.6, 300}, {24.0, 121.7, 400}},
		ParticipationMask: []bool{true},
	}

	done := make(chan types.InferenceOutput, 1)
	errc := make(chan error, 1)
	go func() {
		out, err := s.Predict(context.Background(), input)
		done <- out
		errc <- err
	}()

	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)

	out := <-done
	if err := <-errc; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Mixtures) != 2 {
		t.Fatalf("expected one mixture per target, got %d", len(out.Mixtures))
	}
}

func TestStub_PredictRejectsShapeMismatch(t *testing.T) {
	s := NewStub(time.Millisecond, clockwork.NewRealClock())

	input := types.InferenceInput{
		Waveforms:   make([][3][]float64, 2),
		StationMeta: make([][]float64, 1),
	}
	_, err := s.Predict(context.Background(), input)
	if err == nil {
		t.Fatal("expected a shape-mismatch error")
	}
}

func TestStub_PredictHonorsContextCancellation(t *testing.T) {
	s := NewStub(time.Hour, clockwork.NewRealClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := types.InferenceInput{
		Waveforms:   make([][3][]float64, 1),
		StationMeta: make([][]float64, 1),
	}
	_, err := s.Predict(ctx, input)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	calls, timeouts := s.Stats()
	if calls != 1 || timeouts != 1 {
		t.Fatalf("expected 1 call and 1 timeout counted, got calls=%d timeouts=%d", calls, timeouts)
	}
}

func TestStub_MixtureMeanGrowsWithParticipation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewStub(time.Millisecond, clock)

	fewInput := types.InferenceInput{
		Waveforms:         make([][3][]float64, 1),
		StationMeta:       make([][]float64, 1),
		TargetMeta:        [][]float64{{0, 0, 0}},
		ParticipationMask: []bool{true},
	}
	manyInput := types.InferenceInput{
		Waveforms:         make([][3][]float64, 3),
		StationMeta:       make([][]float64, 3),
		TargetMeta:        [][]float64{{0, 0, 0}},
		ParticipationMask: []bool{true, true, true},
	}

	run := func(input types.InferenceInput) types.InferenceOutput {
		done := make(chan types.InferenceOutput, 1)
		go func() {
			out, _ := s.Predict(context.Background(), input)
			done <- out
		}()
		clock.BlockUntil(1)
		clock.Advance(time.Millisecond)
		return <-done
	}

	few := run(fewInput)
	many := run(manyInput)

	if many.Mixtures[0].Means[0] <= few.Mixtures[0].Means[0] {
		t.Fatalf("expected more participating stations to raise the mean log-PGA, got few=%v many=%v",
			few.Mixtures[0].Means[0], many.Mixtures[0].Means[0])
	}
}
