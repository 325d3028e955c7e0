package mathx

import (
	"math"
	"sort"
)

// Rolling tracks mean/variance/max/min over the trailing N samples using a
// circular buffer plus a sorted multiset of current window values for
// O(log N) min/max lookups; variance is recomputed from the buffer on every
// update, the same O(N) recompute the reference rolling accumulator performs
// rather than maintaining a Welford-style running M2 (which cannot be
// decremented stably on eviction without re-summing).
type Rolling struct {
	window []float64 // circular buffer, len == size once full
	size   int
	next   int // next write position
	count  int64
	sorted sortedMultiset
}

// NewRolling returns a rolling accumulator over the trailing size samples.
// size must be ≥1.
func NewRolling(size int) *Rolling {
	return &Rolling{window: make([]float64, size), size: size}
}

// Ready reports whether at least `size` samples have been folded in.
func (r *Rolling) Ready() bool { return r.count >= int64(r.size) }

// Update folds one sample in, evicting the oldest sample once the window is
// full.
func (r *Rolling) Update(x float64) {
	if r.count >= int64(r.size) {
		old := r.window[r.next]
		r.sorted.remove(old)
	}
	r.window[r.next] = x
	r.sorted.insert(x)
	r.next = (r.next + 1) % r.size
	r.count++
}

// filled returns the current logical window contents, oldest first.
func (r *Rolling) filled() []float64 {
	n := r.size
	if r.count < int64(r.size) {
		n = int(r.count)
	}
	out := make([]float64, n)
	if r.count < int64(r.size) {
		copy(out, r.window[:n])
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = r.window[(r.next+i)%r.size]
	}
	return out
}

// Mean returns the arithmetic mean of the current window.
func (r *Rolling) Mean() float64 {
	vals := r.filled()
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Variance recomputes the sample variance (Bessel-corrected) from the
// current window contents.
func (r *Rolling) Variance() float64 {
	vals := r.filled()
	if len(vals) < 2 {
		return 0
	}
	mean := r.Mean()
	var ss float64
	for _, v := range vals {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(vals)-1)
}

// Std returns the sample standard deviation of the current window.
func (r *Rolling) Std() float64 {
	v := r.Variance()
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Normalize z-scores x against the current window, returning 0 when std is 0.
func (r *Rolling) Normalize(x float64) float64 {
	std := r.Std()
	if std == 0 {
		return 0
	}
	return (x - r.Mean()) / std
}

// Max returns the maximum of the current window.
func (r *Rolling) Max() float64 { return r.sorted.max() }

// Min returns the minimum of the current window.
func (r *Rolling) Min() float64 { return r.sorted.min() }

// sortedMultiset is a minimal ordered multiset backed by a sorted slice,
// standing in for std::multiset<double> (no equivalent container exists in
// the standard library or gonum).
type sortedMultiset struct {
	vals []float64
}

func (s *sortedMultiset) insert(x float64) {
	i := sort.SearchFloat64s(s.vals, x)
	s.vals = append(s.vals, 0)
	copy(s.vals[i+1:], s.vals[i:])
	s.vals[i] = x
}

func (s *sortedMultiset) remove(x float64) {
	i := sort.SearchFloat64s(s.vals, x)
	if i < len(s.vals) && s.vals[i] == x {
		s.vals = append(s.vals[:i], s.vals[i+1:]...)
	}
}

func (s *sortedMultiset) min() float64 {
	if len(s.vals) == 0 {
		return 0
	}
	return s.vals[0]
}

func (s *sortedMultiset) max() float64 {
	if len(s.vals) == 0 {
		return 0
	}
	return s.vals[len(s.vals)-1]
}
