// Package predictor holds implementations of types.Predictor. The trained
// MDN model itself is an opaque external collaborator per spec.md section
// 4.6; Stub stands in for it in tests and local runs, modeled on the
// teacher's MockWorker (configurable simulated latency, basic input
// validation, running statistics).
package predictor

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/e7canasta/ttsam-go/internal/types"
)

// Stub simulates a trained predictor: it validates the input shape, sleeps
// for a configurable latency to exercise the dispatcher's soft-timeout
// path, and returns a deterministic mixture per target derived from the
// participation mask it was handed, so tests can assert on specific labels.
type Stub struct {
	latency time.Duration
	clock   clockwork.Clock

	calls   atomic.Uint64
	timeout atomic.Uint64
}

// NewStub builds a Stub predictor with a fixed simulated latency.
func NewStub(latency time.Duration, clock clockwork.Clock) *Stub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Stub{latency: latency, clock: clock}
}

// Predict implements types.Predictor.
func (s *Stub) Predict(ctx context.Context, input types.InferenceInput) (types.InferenceOutput, error) {
	s.calls.Add(1)

	if len(input.Waveforms) != len(input.StationMeta) {
		return types.InferenceOutput{}, fmt.Errorf("predictor stub: waveform/meta row mismatch: %d vs %d",
			len(input.Waveforms), len(input.StationMeta))
	}

	select {
	case <-s.clock.After(s.latency):
	case <-ctx.Done():
		s.timeout.Add(1)
		return types.InferenceOutput{}, ctx.Err()
	}

	mixtures := make([]types.GaussianMixture, len(input.TargetMeta))
	for i := range input.TargetMeta {
		mixtures[i] = s.mixtureFor(input, i)
	}
	return types.InferenceOutput{Mixtures: mixtures}, nil
}

// mixtureFor derives a single-component mixture whose mean log-PGA grows
// with the number of participating stations. The target's position and the
// station metadata are not used, so every target of one tick gets the same
// mixture.
func (s *Stub) mixtureFor(input types.InferenceInput, targetRow int) types.GaussianMixture {
	nActive := 0
	for _, ok := range input.ParticipationMask {
		if ok {
			nActive++
		}
	}

	basePGAGal := 1.0
	if nActive > 0 {
		basePGAGal = 2.0 * float64(nActive)
	}

	return types.GaussianMixture{
		Weights:   []float64{1.0},
		Means:     []float64{math.Log(basePGAGal)},
		LogStdDev: []float64{math.Log(0.5)},
	}
}

// Stats reports how many Predict calls were made and how many hit ctx
// cancellation (the dispatcher's soft timeout).
func (s *Stub) Stats() (calls, timeouts uint64) {
	return s.calls.Load(), s.timeout.Load()
}
