package mathx

import "testing"

func TestWelfordMatchesClosedForm(t *testing.T) {
	data := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	w := NewWelford()
	for _, x := range data {
		w.Update(x)
	}
	wantMean := 5.0
	if diff := absf(w.Mean() - wantMean); diff > 1e-9 {
		t.Fatalf("mean = %v, want %v", w.Mean(), wantMean)
	}
	wantVariance := 4.571428571428571
	if relErr(w.Variance(), wantVariance) > 1e-9 {
		t.Fatalf("variance = %v, want %v", w.Variance(), wantVariance)
	}
}

func TestWelfordNormalizeZeroStd(t *testing.T) {
	w := NewWelford()
	w.Update(3)
	if got := w.Normalize(3); got != 0 {
		t.Fatalf("expected 0 for single-sample normalize, got %v", got)
	}
}

func TestRollingReadyAndVariance(t *testing.T) {
	r := NewRolling(3)
	for _, x := range []float64{1, 2, 3} {
		r.Update(x)
	}
	if !r.Ready() {
		t.Fatalf("expected ready after 3 updates on window 3")
	}
	if diff := absf(r.Mean() - 2.0); diff > 1e-9 {
		t.Fatalf("mean = %v, want 2.0", r.Mean())
	}
	if r.Max() != 3 || r.Min() != 1 {
		t.Fatalf("max/min = %v/%v, want 3/1", r.Max(), r.Min())
	}
	r.Update(10) // evicts the 1
	if r.Min() != 2 {
		t.Fatalf("after eviction min = %v, want 2", r.Min())
	}
	if r.Max() != 10 {
		t.Fatalf("after eviction max = %v, want 10", r.Max())
	}
}

func TestRollingNotReadyBeforeWindowFull(t *testing.T) {
	r := NewRolling(5)
	r.Update(1)
	r.Update(2)
	if r.Ready() {
		t.Fatalf("expected not ready with 2/5 samples")
	}
}

func TestSoftDTWIdenticalSequencesIsMinimalCost(t *testing.T) {
	x := [][]float64{{0}, {0.11}, {0.22}, {0.33}, {0.44}}
	y := x
	cost, _ := SoftDTW(x, y, 0.1)
	if cost < 0 {
		t.Fatalf("expected non-negative cost, got %v", cost)
	}

	yShift := make([][]float64, len(y))
	for i, row := range y {
		yShift[i] = []float64{row[0] + 0.5}
	}
	costShift, _ := SoftDTW(x, yShift, 0.1)
	if costShift < cost {
		t.Fatalf("expected cost(x,x) <= cost(x, x+shift), got %v > %v", cost, costShift)
	}
}

func TestSoftDTWSymmetric(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}}
	y := [][]float64{{0.2}, {1.1}, {1.9}}
	c1, _ := SoftDTW(x, y, 0.2)
	c2, _ := SoftDTW(y, x, 0.2)
	if absf(c1-c2) > 1e-9 {
		t.Fatalf("expected symmetric cost, got %v vs %v", c1, c2)
	}
}

func TestSoftDTWAlignmentSumsToOne(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}}
	y := [][]float64{{0}, {1}, {2}}
	_, a := SoftDTW(x, y, 0.5)
	rows, cols := a.Dims()
	var total float64
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			total += a.At(i, j)
		}
	}
	if absf(total-1) > 1e-6 {
		t.Fatalf("expected alignment to sum to 1, got %v", total)
	}
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func relErr(got, want float64) float64 {
	if want == 0 {
		return absf(got)
	}
	return absf(got-want) / absf(want)
}
