package mathx

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// clampExp mirrors the reference kernel's guard: clamp the exponent before
// calling math.Exp so a runaway soft-min argument never produces NaN/Inf.
func clampExp(x float64) float64 {
	if x > 50 {
		x = 50
	}
	if x < -50 {
		x = -50
	}
	return math.Exp(x)
}

// softMin computes the γ-smoothed minimum of three reachability costs via the
// log-sum-exp trick: -γ·log(Σ exp(-a_i/γ)), numerically stabilized by
// subtracting the max before exponentiating.
func softMin(a, b, c, gamma float64) float64 {
	vals := [3]float64{-a / gamma, -b / gamma, -c / gamma}
	max := vals[0]
	for _, v := range vals[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	for _, v := range vals {
		sum += clampExp(v - max)
	}
	return -gamma * (math.Log(sum) + max)
}

// PairwiseSquaredDistance builds the [N,M] matrix D[i][j] = ||x_i - y_j||^2
// for two multivariate sequences x ([N,K]) and y ([M,K]).
func PairwiseSquaredDistance(x, y [][]float64) *mat.Dense {
	n, m := len(x), len(y)
	d := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			var s float64
			for k := range x[i] {
				diff := x[i][k] - y[j][k]
				s += diff * diff
			}
			d.Set(i, j, s)
		}
	}
	return d
}

// SoftDTWForward computes the extended DP matrix R (shape [N+2, M+2]) and the
// alignment cost for pairwise distance matrix D (shape [N, M]) at smoothing
// γ>0, sweeping diagonal-by-diagonal as the reference kernel does so every
// cell only depends on already-computed neighbors.
func SoftDTWForward(d *mat.Dense, gamma float64) (r *mat.Dense, cost float64) {
	n, m := d.Dims()
	r = mat.NewDense(n+2, m+2, nil)
	inf := math.Inf(1)
	for i := 0; i <= n+1; i++ {
		for j := 0; j <= m+1; j++ {
			r.Set(i, j, inf)
		}
	}
	r.Set(0, 0, 0)

	for k := 2; k <= n+m; k++ {
		iMin := 1
		if k-m > iMin {
			iMin = k - m
		}
		iMax := n
		if k-1 < iMax {
			iMax = k - 1
		}
		for i := iMin; i <= iMax; i++ {
			j := k - i
			if j < 1 || j > m {
				continue
			}
			sm := softMin(r.At(i-1, j-1), r.At(i-1, j), r.At(i, j-1), gamma)
			r.Set(i, j, d.At(i-1, j-1)+sm)
		}
	}
	return r, r.At(n, m)
}

// SoftDTWBackward computes the extended, unnormalized matrix E (shape
// [N+2, M+2]) given R and D from SoftDTWForward, seeding E[N+1][M+1] = 1,
// sweeping diagonals in reverse and propagating weights proportional to
// exp((R_neighbor - R_here - D_neighbor) / γ), the standard soft-DTW
// backward recurrence. SoftDTWAlignment extracts and normalizes the [N, M]
// slice.
func SoftDTWBackward(r, d *mat.Dense, gamma float64) *mat.Dense {
	n, m := d.Dims()
	e := mat.NewDense(n+2, m+2, nil)
	e.Set(n+1, m+1, 1)

	dExt := mat.NewDense(n+2, m+2, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			dExt.Set(i+1, j+1, d.At(i, j))
		}
	}

	rExt := mat.DenseCopyOf(r)
	negInf := math.Inf(-1)
	for j := 0; j <= m+1; j++ {
		rExt.Set(n+1, j, negInf)
	}
	for i := 0; i <= n+1; i++ {
		rExt.Set(i, m+1, negInf)
	}
	rExt.Set(n+1, m+1, r.At(n, m))

	for k := n + m; k >= 2; k-- {
		iMin := 1
		if k-m > iMin {
			iMin = k - m
		}
		iMax := n
		if k-1 < iMax {
			iMax = k - 1
		}
		for i := iMin; i <= iMax; i++ {
			j := k - i
			if j < 1 || j > m {
				continue
			}
			here := rExt.At(i, j)

			wDown := weightTerm(rExt.At(i+1, j), here, dExt.At(i+1, j), gamma)
			wRight := weightTerm(rExt.At(i, j+1), here, dExt.At(i, j+1), gamma)
			wDiag := weightTerm(rExt.At(i+1, j+1), here, dExt.At(i+1, j+1), gamma)

			val := wDown*e.At(i+1, j) + wRight*e.At(i, j+1) + wDiag*e.At(i+1, j+1)
			e.Set(i, j, val)
		}
	}
	return e
}

func weightTerm(neighborR, hereR, neighborD, gamma float64) float64 {
	x := (neighborR - hereR - neighborD) / gamma
	w := clampExp(x)
	if math.IsNaN(w) {
		return 0
	}
	return w
}

// SoftDTWAlignment extracts the [N,M] alignment slice alignment = exp(-R/γ)*E
// from the extended matrices, normalized by the global sum over the whole
// slice (not row-wise) so entries sum to 1 across the entire alignment.
func SoftDTWAlignment(r, e *mat.Dense, gamma float64) *mat.Dense {
	n := e.RawMatrix().Rows - 2
	m := e.RawMatrix().Cols - 2
	out := mat.NewDense(n, m, nil)
	var total float64
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			v := math.Exp(-r.At(i, j)/gamma) * e.At(i, j)
			out.Set(i-1, j-1, v)
			total += v
		}
	}
	if total > 0 {
		out.Scale(1/total, out)
	}
	return out
}

// SoftDTW runs the full forward/backward pipeline for two multivariate
// sequences, returning the scalar cost and the normalized [N,M] alignment.
func SoftDTW(x, y [][]float64, gamma float64) (cost float64, alignment *mat.Dense) {
	d := PairwiseSquaredDistance(x, y)
	r, c := SoftDTWForward(d, gamma)
	e := SoftDTWBackward(r, d, gamma)
	a := SoftDTWAlignment(r, e, gamma)
	return c, a
}
