// Package mathx implements the online and rolling moment trackers and the
// soft-DTW forward/backward kernels invoked from board nodes that run a
// training step.
package mathx

import "math"

// Welford tracks mean, sample variance, max, and min of an unbounded stream
// in O(1) per update, the same recurrence as a classic Welford accumulator:
// count, running mean, and M2 (sum of squared deviations from the mean).
type Welford struct {
	count int64
	mean  float64
	m2    float64
	max   float64
	min   float64
}

// NewWelford returns an empty accumulator.
func NewWelford() *Welford {
	return &Welford{max: math.Inf(-1), min: math.Inf(1)}
}

// Update folds one sample into the accumulator.
func (w *Welford) Update(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	delta2 := x - w.mean
	w.m2 += delta * delta2
	if x > w.max {
		w.max = x
	}
	if x < w.min {
		w.min = x
	}
}

// Count returns the number of samples folded in so far.
func (w *Welford) Count() int64 { return w.count }

// Mean returns the running mean, or 0 if no samples have been seen.
func (w *Welford) Mean() float64 { return w.mean }

// Variance returns the sample variance (Bessel-corrected), or 0 when fewer
// than two samples have been seen.
func (w *Welford) Variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count-1)
}

// Std returns the sample standard deviation.
func (w *Welford) Std() float64 { return math.Sqrt(w.Variance()) }

// Max returns the running maximum, or +Inf's negation sentinel if empty.
func (w *Welford) Max() float64 { return w.max }

// Min returns the running minimum.
func (w *Welford) Min() float64 { return w.min }

// Normalize z-scores x against the running mean/std, returning 0 when the
// stream has zero variance (a constant stream, or fewer than two samples).
func (w *Welford) Normalize(x float64) float64 {
	std := w.Std()
	if std == 0 {
		return 0
	}
	return (x - w.mean) / std
}
