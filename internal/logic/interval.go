package logic

import "time"

// Uniform draws a duration uniformly from [min, max].
func Uniform(src Source, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	d := min + time.Duration(src.Float64()*float64(max-min))
	// Guard against float rounding past the upper bound.
	if d > max {
		return max
	}
	return d
}

// nextDelay is the pending delay drawn when a firefly goes dark. It is
// measured from the last lit entry, so it includes the light duration.
func (t Timing) nextDelay(src Source) time.Duration {
	return t.Light + Uniform(src, t.MinDark, t.MaxDark)
}

// initialDelay is the pending delay for a freshly constructed firefly.
func (t Timing) initialDelay(src Source) time.Duration {
	return Uniform(src, t.MinDark, t.MaxDark)
}
