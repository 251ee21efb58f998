package types

import "context"

// InferenceInput is the fixed-shape tensor bundle handed to the Predictor on
// every tick. Shapes are invariant regardless of how many stations actually
// participated: NStationsMax x 3 x WindowSamples for waveforms,
// NStationsMax x KMeta for station metadata, NTargets x KTarget for targets.
type InferenceInput struct {
	// Waveforms[s][0..2] holds Z, N, E for station row s, each WindowSamples long.
	Waveforms [][3][]float64
	// StationMeta[s] is the KMeta-length metadata row for station row s.
	StationMeta [][]float64
	// TargetMeta[t] is the KTarget-length row for target t, in configured order.
	TargetMeta [][]float64
	// ParticipationMask[s] is true if station row s holds real data.
	ParticipationMask []bool
	// StationOrder[s] is the station_id occupying row s, or "" if unused.
	StationOrder []string
}

// InferenceOutput is the Predictor's response: one Gaussian mixture in
// log-PGA space per target, in the same order as InferenceInput.TargetMeta.
type InferenceOutput struct {
	Mixtures []GaussianMixture
}

// Predictor is the opaque, pre-trained neural model. Implementations must be
// safe to call from exactly one goroutine at a time and must not retain
// hidden state across calls beyond what their own weights define.
type Predictor interface {
	Predict(ctx context.Context, input InferenceInput) (InferenceOutput, error)
}
