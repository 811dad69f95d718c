package tensor

import (
	"fmt"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
)

// Mask is a boolean tensor used to select entries of a Tensor of the same
// shape.
type Mask struct {
	values []bool
	shape  []int
}

func compare(t *Tensor, pred func(x float64) bool) *Mask {
	m := &Mask{values: make([]bool, len(t.data)), shape: t.Shape()}
	parallel.For(len(m.values), func(start, end int) {
		for i := start; i < end; i++ {
			m.values[i] = pred(t.data[i])
		}
	})
	return m
}

// NotEqual selects entries of t that differ from v.
func NotEqual(t *Tensor, v float64) *Mask {
	return compare(t, func(x float64) bool { return x != v })
}

// Equal selects entries of t that equal v.
func Equal(t *Tensor, v float64) *Mask {
	return compare(t, func(x float64) bool { return x == v })
}

// Greater selects entries of t strictly above v.
func Greater(t *Tensor, v float64) *Mask {
	return compare(t, func(x float64) bool { return x > v })
}

func (m *Mask) Shape() []int {
	return append([]int(nil), m.shape...)
}

func (m *Mask) Len() int {
	return len(m.values)
}

func (m *Mask) At(i int) bool {
	return m.values[i]
}

// Count returns the number of selected entries.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.values {
		if v {
			n++
		}
	}
	return n
}

func (m *Mask) Not() *Mask {
	out := &Mask{values: make([]bool, len(m.values)), shape: m.Shape()}
	for i, v := range m.values {
		out.values[i] = !v
	}
	return out
}

func (m *Mask) Or(other *Mask) (*Mask, error) {
	if !sameShape(m.shape, other.shape) {
		return nil, fmt.Errorf("Mask.Or: %w: %v vs %v", ErrShapeMismatch, m.shape, other.shape)
	}
	out := &Mask{values: make([]bool, len(m.values)), shape: m.Shape()}
	for i := range m.values {
		out.values[i] = m.values[i] || other.values[i]
	}
	return out, nil
}

func (m *Mask) And(other *Mask) (*Mask, error) {
	if !sameShape(m.shape, other.shape) {
		return nil, fmt.Errorf("Mask.And: %w: %v vs %v", ErrShapeMismatch, m.shape, other.shape)
	}
	out := &Mask{values: make([]bool, len(m.values)), shape: m.Shape()}
	for i := range m.values {
		out.values[i] = m.values[i] && other.values[i]
	}
	return out, nil
}

// Float converts the mask to a tensor of ones and zeros.
func (m *Mask) Float() *Tensor {
	out := Zeros(m.shape...)
	for i, v := range m.values {
		if v {
			out.data[i] = 1
		}
	}
	return out
}

// Where keeps a's entries where m is set and writes fill everywhere else.
// Gradients reach a only through the kept entries, so non-finite values
// outside the mask never leak into the backward pass.
func Where(m *Mask, a *Tensor, fill float64) (*Tensor, error) {
	if !sameShape(m.shape, a.shape) {
		return nil, fmt.Errorf("Where: %w: mask %v vs tensor %v", ErrShapeMismatch, m.shape, a.shape)
	}
	out := Zeros(a.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			if m.values[i] {
				out.data[i] = a.data[i]
			} else {
				out.data[i] = fill
			}
		}
	})
	track(out, []*Tensor{a}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		g := Zeros(a.shape...)
		for i, keep := range m.values {
			if keep {
				g.data[i] = grad.data[i]
			}
		}
		accumulate(grads, a, g)
	})
	return out, nil
}
