// Package tensor defines the minimal dense float32 tensor and 0/1 mask types
// shared by the dataset, dataloader, and board packages. gonum's mat.Dense is
// strictly 2-D, so the [C, T, D] sample shape (and its [batch, C, T, D]
// batched form) is hand-rolled here as a flat backing slice with explicit
// strides rather than forced into a matrix type that doesn't fit the shape.
package tensor

import "fmt"

// Tensor is a dense, row-major, float32 tensor of an arbitrary rank.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New allocates a zero-valued tensor of the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// strides returns the row-major stride for each dimension.
func (t *Tensor) strides() []int {
	strides := make([]int, len(t.Shape))
	acc := 1
	for i := len(t.Shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= t.Shape[i]
	}
	return strides
}

func (t *Tensor) offset(index []int) (int, error) {
	if len(index) != len(t.Shape) {
		return 0, fmt.Errorf("tensor: index rank %d does not match shape rank %d", len(index), len(t.Shape))
	}
	strides := t.strides()
	off := 0
	for i, idx := range index {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, fmt.Errorf("tensor: index %d out of bounds for dimension %d (size %d)", idx, i, t.Shape[i])
		}
		off += idx * strides[i]
	}
	return off, nil
}

// At returns the value at the given multi-dimensional index.
func (t *Tensor) At(index ...int) float32 {
	off, err := t.offset(index)
	if err != nil {
		panic(err)
	}
	return t.Data[off]
}

// Set writes the value at the given multi-dimensional index.
func (t *Tensor) Set(value float32, index ...int) {
	off, err := t.offset(index)
	if err != nil {
		panic(err)
	}
	t.Data[off] = value
}

// Mask is a dense 0/1 tensor with the same shape semantics as Tensor, kept
// as a distinct type so callers cannot accidentally treat a mask as sample
// data or vice versa.
type Mask struct {
	Shape []int
	Data  []uint8
}

// NewMask allocates a zero-valued (all-missing) mask of the given shape.
func NewMask(shape ...int) *Mask {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Mask{Shape: append([]int(nil), shape...), Data: make([]uint8, n)}
}

func (m *Mask) strides() []int {
	strides := make([]int, len(m.Shape))
	acc := 1
	for i := len(m.Shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= m.Shape[i]
	}
	return strides
}

func (m *Mask) offset(index []int) (int, error) {
	if len(index) != len(m.Shape) {
		return 0, fmt.Errorf("mask: index rank %d does not match shape rank %d", len(index), len(m.Shape))
	}
	strides := m.strides()
	off := 0
	for i, idx := range index {
		if idx < 0 || idx >= m.Shape[i] {
			return 0, fmt.Errorf("mask: index %d out of bounds for dimension %d (size %d)", idx, i, m.Shape[i])
		}
		off += idx * strides[i]
	}
	return off, nil
}

// At returns 1 if the timestep at index is real, 0 if padded/missing.
func (m *Mask) At(index ...int) uint8 {
	off, err := m.offset(index)
	if err != nil {
		panic(err)
	}
	return m.Data[off]
}

// Set marks index as real (1) or missing (0).
func (m *Mask) Set(value uint8, index ...int) {
	off, err := m.offset(index)
	if err != nil {
		panic(err)
	}
	m.Data[off] = value
}

// SampleShape returns [C, T, D] for one un-batched sample, matching §3's
// invariant that a dataloader batch stacks samples of identical shape.
func SampleShape(c, t, d int) []int { return []int{c, t, d} }

// BatchShape returns [batch, C, T, D].
func BatchShape(batch, c, t, d int) []int { return []int{batch, c, t, d} }
