package tensor

import (
	"math"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
)

// The helpers below mutate tensors without recording the graph. Optimizers
// use them on parameters after Backward has run.

func (t *Tensor) Scale(v float64) {
	parallel.For(len(t.data), func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] *= v
		}
	})
}

func (t *Tensor) AddScaled(other *Tensor, alpha float64) error {
	if err := ensureSameShape(t, other); err != nil {
		return err
	}
	parallel.For(len(t.data), func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] += alpha * other.data[i]
		}
	})
	return nil
}

func (t *Tensor) MulInPlace(other *Tensor) error {
	if err := ensureSameShape(t, other); err != nil {
		return err
	}
	parallel.For(len(t.data), func(start, end int) {
		for i := start; i < end; i++ {
			t.data[i] *= other.data[i]
		}
	})
	return nil
}

// GradPowSum returns sum(|grad|^norm), the building block of a global
// gradient norm.
func (t *Tensor) GradPowSum(norm float64) float64 {
	if t == nil || t.grad == nil {
		return 0
	}
	sum := 0.0
	for _, v := range t.grad.data {
		sum += math.Pow(math.Abs(v), norm)
	}
	return sum
}

func (t *Tensor) ScaleGrad(factor float64) {
	if t == nil || t.grad == nil {
		return
	}
	t.grad.Scale(factor)
}

func (t *Tensor) ClipGradValue(limit float64) {
	if t == nil || t.grad == nil || limit <= 0 {
		return
	}
	g := t.grad.data
	parallel.For(len(g), func(start, end int) {
		for i := start; i < end; i++ {
			g[i] = math.Max(-limit, math.Min(limit, g[i]))
		}
	})
}
