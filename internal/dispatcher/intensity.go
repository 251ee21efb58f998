package dispatcher

import (
	"math"

	"github.com/e7canasta/ttsam-go/internal/types"
)

// pgaThresholdGal is the conventional CWB (Central Weather Bureau) intensity
// scale's lower PGA bound, in gal, for every label above "0". See DESIGN.md:
// spec.md leaves the exact thresholds unspecified (an Open Question), so
// these are the standard post-2020 Taiwan intensity-scale boundaries.
var pgaThresholdGal = map[types.IntensityLabel]float64{
	types.Intensity1:  0.8,
	types.Intensity2:  2.5,
	types.Intensity3:  8,
	types.Intensity4:  25,
	types.Intensity5m: 80,
	types.Intensity5p: 140,
	types.Intensity6m: 250,
	types.Intensity6p: 440,
	types.Intensity7:  800,
}

// orderedNonZeroLabels is pgaThresholdGal's keys in descending severity, so
// labelFor can test from the top down and stop at the first satisfied one.
var orderedNonZeroLabels = []types.IntensityLabel{
	types.Intensity7, types.Intensity6p, types.Intensity6m, types.Intensity5p,
	types.Intensity5m, types.Intensity4, types.Intensity3, types.Intensity2, types.Intensity1,
}

// exceedanceProbability returns P(PGA > thresholdGal) under mixture, a sum
// of Gaussians over log-PGA.
func exceedanceProbability(mixture types.GaussianMixture, thresholdGal float64) float64 {
	logThreshold := math.Log(thresholdGal)

	var p float64
	for i, w := range mixture.Weights {
		mean := mixture.Means[i]
		std := math.Exp(mixture.LogStdDev[i])
		if std <= 0 {
			continue
		}
		z := (logThreshold - mean) / std
		p += w * normalSurvival(z)
	}
	return p
}

// normalSurvival returns P(Z > z) for a standard normal Z.
func normalSurvival(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}

// labelFor converts one target's mixture into an intensity label: the
// highest threshold whose exceedance probability is at least cutoff, per
// spec.md section 4.4.
func labelFor(mixture types.GaussianMixture, cutoff float64) types.IntensityLabel {
	for _, label := range orderedNonZeroLabels {
		if exceedanceProbability(mixture, pgaThresholdGal[label]) >= cutoff {
			return label
		}
	}
	return types.Intensity0
}
