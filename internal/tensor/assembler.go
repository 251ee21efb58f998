// Package tensor implements the deterministic construction of a fixed-shape
// InferenceInput from a TickRequest, the wave buffer, and the static
// catalog: station selection/ordering/capping, per-station normalization,
// and target metadata assembly.
package tensor

import (
	"github.com/e7canasta/ttsam-go/internal/catalog"
	"github.com/e7canasta/ttsam-go/internal/errs"
	"github.com/e7canasta/ttsam-go/internal/types"
	"github.com/e7canasta/ttsam-go/internal/wavebuffer"
)

// KMeta is the number of columns in a station metadata row: latitude,
// longitude, elevation_m, vs30, normalization_scale, seconds_since_first_pick,
// participation_flag.
const KMeta = 7

// KTarget is the number of columns in a target metadata row: latitude,
// longitude, vs30_at_target.
const KTarget = 3

// Config carries the tensor assembler's tunables.
type Config struct {
	NStationsMax int
}

// Assembler builds InferenceInput snapshots on each tick.
type Assembler struct {
	cfg     Config
	buf     *wavebuffer.Buffer
	catalog catalog.Catalog
}

// New builds an Assembler over the given wave buffer and static catalog.
func New(cfg Config, buf *wavebuffer.Buffer, cat catalog.Catalog) *Assembler {
	return &Assembler{cfg: cfg, buf: buf, catalog: cat}
}

// Assemble builds a fully-populated InferenceInput for req, per spec.md 4.3.
// Returns ErrInsufficientData if zero stations produced a valid window.
func (a *Assembler) Assemble(req types.TickRequest) (types.InferenceInput, error) {
	windowSamples := a.buf.WindowSamples()
	nMax := a.cfg.NStationsMax

	order := req.StationPickOrder
	if len(order) > nMax {
		// Overflow policy per spec.md section 11: drop by latest pick. The
		// order is already ascending by first-pick time, so a tail truncation
		// keeps the earliest-picking stations.
		order = order[:nMax]
	}

	waveforms := make([][3][]float64, nMax)
	stationMeta := make([][]float64, nMax)
	mask := make([]bool, nMax)
	stationOrder := make([]string, nMax)
	for i := range waveforms {
		waveforms[i] = [3][]float64{
			make([]float64, windowSamples),
			make([]float64, windowSamples),
			make([]float64, windowSamples),
		}
		stationMeta[i] = make([]float64, KMeta)
	}

	valid := 0
	row := 0
	for _, stationID := range order {
		block, ok := a.buf.ReadWindow(stationID, req.WaveEndTime)
		if !ok {
			continue
		}

		z, scaleZ := demeanAndScale(block.Z)
		n, scaleN := demeanAndScale(block.N)
		e, scaleE := demeanAndScale(block.E)
		scale := maxOf(scaleZ, scaleN, scaleE)
		if scale > 0 {
			normalizeInPlace(z, scale)
			normalizeInPlace(n, scale)
			normalizeInPlace(e, scale)
		}

		meta, err := a.catalog.StationMeta(stationID)
		if err != nil {
			continue
		}

		var vs30 float64
		if meta.Vs30 != nil {
			vs30 = *meta.Vs30
		} else {
			vs30 = a.catalog.Vs30At(meta.Latitude, meta.Longitude)
		}

		secondsSinceFirstPick := 0.0
		if first, ok := req.StationFirstPickTime[stationID]; ok {
			secondsSinceFirstPick = req.WaveEndTime.Sub(first).Seconds()
		}

		waveforms[row] = [3][]float64{z, n, e}
		stationMeta[row] = []float64{
			meta.Latitude,
			meta.Longitude,
			meta.Elevation,
			vs30,
			scale,
			secondsSinceFirstPick,
			1, // participation_flag
		}
		mask[row] = true
		stationOrder[row] = stationID
		row++
		valid++
	}

	if valid == 0 {
		return types.InferenceInput{}, errs.ErrInsufficientData
	}

	targets := a.catalog.TargetList()
	targetMeta := make([][]float64, len(targets))
	for i, tgt := range targets {
		targetMeta[i] = []float64{tgt.Latitude, tgt.Longitude, tgt.Vs30}
	}

	return types.InferenceInput{
		Waveforms:         waveforms,
		StationMeta:       stationMeta,
		TargetMeta:        targetMeta,
		ParticipationMask: mask,
		StationOrder:      stationOrder,
	}, nil
}

// demeanAndScale returns a demeaned copy of samples and the maximum absolute
// value in the demeaned series (0 if samples is empty).
func demeanAndScale(samples []float64) ([]float64, float64) {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out, 0
	}

	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := sum / float64(len(samples))

	var maxAbs float64
	for i, v := range samples {
		d := v - mean
		out[i] = d
		abs := d
		if abs < 0 {
			abs = -abs
		}
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return out, maxAbs
}

func normalizeInPlace(samples []float64, scale float64) {
	for i := range samples {
		samples[i] /= scale
	}
}

func maxOf(vs ...float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
