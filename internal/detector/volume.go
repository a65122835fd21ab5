package detector

import (
	"math"

	"github.com/alanyoungcy/polygraph/internal/domain"
)

// VolumeSpike flags a period volume that sits far above the recent mean.
type VolumeSpike struct {
	// Threshold is the z-score that must be exceeded.
	Threshold float64
	// Minimum is the period volume that must be exceeded.
	Minimum float64
	// MinSamples is the fewest history points needed to evaluate.
	MinSamples int
}

// Detect evaluates current against the trailing history of period volumes.
// history must not include the current observation.
func (v VolumeSpike) Detect(current float64, history []float64) Result {
	res := Result{Kind: domain.SignalVolumeSpike}
	if len(history) < v.MinSamples {
		res.Detail = domain.VolumeSpikeDetail{
			Reason:     ReasonInsufficientData,
			DataPoints: len(history),
		}
		return res
	}

	mean, std := meanStd(history)
	var z float64
	if std > 0 {
		z = (current - mean) / std
	}

	res.Detected = z > v.Threshold && current > v.Minimum
	if res.Detected {
		res.Score = band((z-v.Threshold)/(2*v.Threshold), 40, 30)
	}
	res.Detail = domain.VolumeSpikeDetail{
		CurrentVolume: current,
		MeanVolume:    mean,
		StdVolume:     std,
		ZScore:        z,
		Threshold:     v.Threshold,
		DataPoints:    len(history),
	}
	return res
}

// meanStd returns the mean and population standard deviation of xs.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}
