package position

import "math"

// OnePoleBeta returns the coefficient of a one-pole low-pass filter with the
// given cutoff, sampled at fps. It returns 0 when either input is not positive.
func OnePoleBeta(cutoffHz, fps float64) float64 {
	if cutoffHz <= 0 || fps <= 0 {
		return 0
	}
	rc := 1.0 / (2.0 * math.Pi * cutoffHz)
	dt := 1.0 / fps
	return dt / (rc + dt)
}

// SmoothZeroPhase low-pass filters the five geometry fields of the records
// with confidence > 0. Each field is run through a forward exponential moving
// average and then a backward one over the forward output, so the group delay
// of the forward pass is cancelled. Confidence is never modified.
//
// The input is returned unchanged (as a copy) when cutoffHz <= 0, fps <= 0,
// the coefficient falls outside (0, 1) or fewer than two valid records exist.
func SmoothZeroPhase(records []Record, fps, cutoffHz float64) []Record {
	smoothed := make([]Record, len(records))
	copy(smoothed, records)

	if len(records) < 2 || cutoffHz <= 0 {
		return smoothed
	}
	beta := OnePoleBeta(cutoffHz, fps)
	if beta <= 0 || beta >= 1 {
		return smoothed
	}
	valid := validIndices(records)
	if len(valid) < 2 {
		return smoothed
	}

	values := make([]float64, len(valid))
	for k := 0; k < 5; k++ {
		for j, idx := range valid {
			values[j] = *records[idx].fields()[k]
		}

		out := zeroPhaseEMA(values, beta)
		for j, idx := range valid {
			*smoothed[idx].fields()[k] = out[j]
		}
	}

	return smoothed
}

// zeroPhaseEMA runs the forward/backward exponential moving average pair.
func zeroPhaseEMA(values []float64, beta float64) []float64 {
	n := len(values)
	forward := forwardEMA(values, beta)

	backward := make([]float64, n)
	backward[n-1] = forward[n-1]
	for i := n - 2; i >= 0; i-- {
		backward[i] = beta*forward[i] + (1-beta)*backward[i+1]
	}
	return backward
}

// forwardEMA is the single causal pass; on its own it lags a step change.
func forwardEMA(values []float64, beta float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = beta*values[i] + (1-beta)*out[i-1]
	}
	return out
}

// Condition runs the full conditioning flow: interpolate detection gaps,
// then smooth every record that is valid after interpolation.
func Condition(records []Record, fps, cutoffHz float64) []Record {
	return SmoothZeroPhase(Interpolate(records), fps, cutoffHz)
}
