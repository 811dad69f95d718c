package tensor

import (
	"fmt"
	"math"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
)

func zipWith(a, b *Tensor, name string, f func(x, y float64) float64) (*Tensor, error) {
	if err := ensureSameShape(a, b); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	out := Zeros(a.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = f(a.data[i], b.data[i])
		}
	})
	return out, nil
}

// scaledBy returns grad * g(i) for every flat index i. Entries with a zero
// upstream gradient stay zero even when g(i) is infinite.
func scaledBy(grad *Tensor, g func(i int) float64) *Tensor {
	out := Zeros(grad.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			if grad.data[i] != 0 {
				out.data[i] = grad.data[i] * g(i)
			}
		}
	})
	return out
}

func Add(a, b *Tensor) (*Tensor, error) {
	out, err := zipWith(a, b, "Add", func(x, y float64) float64 { return x + y })
	if err != nil {
		return nil, err
	}
	track(out, []*Tensor{a, b}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, grad)
		accumulate(grads, b, grad)
	})
	return out, nil
}

func Sub(a, b *Tensor) (*Tensor, error) {
	out, err := zipWith(a, b, "Sub", func(x, y float64) float64 { return x - y })
	if err != nil {
		return nil, err
	}
	track(out, []*Tensor{a, b}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, grad)
		if b.requiresGrad {
			accumulate(grads, b, scaledBy(grad, func(int) float64 { return -1 }))
		}
	})
	return out, nil
}

func Mul(a, b *Tensor) (*Tensor, error) {
	out, err := zipWith(a, b, "Mul", func(x, y float64) float64 { return x * y })
	if err != nil {
		return nil, err
	}
	left, right := a.data, b.data
	track(out, []*Tensor{a, b}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			accumulate(grads, a, scaledBy(grad, func(i int) float64 { return right[i] }))
		}
		if b.requiresGrad {
			accumulate(grads, b, scaledBy(grad, func(i int) float64 { return left[i] }))
		}
	})
	return out, nil
}

func Div(a, b *Tensor) (*Tensor, error) {
	out, err := zipWith(a, b, "Div", func(x, y float64) float64 { return x / y })
	if err != nil {
		return nil, err
	}
	num, den := a.data, b.data
	track(out, []*Tensor{a, b}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		if a.requiresGrad {
			accumulate(grads, a, scaledBy(grad, func(i int) float64 { return 1 / den[i] }))
		}
		if b.requiresGrad {
			accumulate(grads, b, scaledBy(grad, func(i int) float64 { return -num[i] / (den[i] * den[i]) }))
		}
	})
	return out, nil
}

// unary applies f elementwise. df receives the input and output value at
// each index and returns the local derivative.
func unary(a *Tensor, f func(x float64) float64, df func(x, y float64) float64) *Tensor {
	out := Zeros(a.shape...)
	parallel.For(len(out.data), func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = f(a.data[i])
		}
	})
	in, res := a.data, out.data
	track(out, []*Tensor{a}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, scaledBy(grad, func(i int) float64 { return df(in[i], res[i]) }))
	})
	return out
}

func Pow(a *Tensor, p float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return math.Pow(x, p) },
		func(x, _ float64) float64 { return p * math.Pow(x, p-1) })
}

func Exp(a *Tensor) *Tensor {
	return unary(a, math.Exp, func(_, y float64) float64 { return y })
}

func Log(a *Tensor) *Tensor {
	return unary(a, math.Log, func(x, _ float64) float64 { return 1 / x })
}

func Abs(a *Tensor) *Tensor {
	return unary(a, math.Abs, func(x, _ float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return 0
	})
}

func Reciprocal(a *Tensor) *Tensor {
	return unary(a,
		func(x float64) float64 { return 1 / x },
		func(x, _ float64) float64 { return -1 / (x * x) })
}

// Clamp limits every value to [lo, hi]. Gradients pass only where the
// input was inside the range.
func Clamp(a *Tensor, lo, hi float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return math.Min(math.Max(x, lo), hi) },
		func(x, _ float64) float64 {
			if x < lo || x > hi {
				return 0
			}
			return 1
		})
}

func AddScalar(a *Tensor, v float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return x + v },
		func(_, _ float64) float64 { return 1 })
}

func MulScalar(a *Tensor, v float64) *Tensor {
	return unary(a,
		func(x float64) float64 { return x * v },
		func(_, _ float64) float64 { return v })
}

func Relu(a *Tensor) *Tensor {
	return unary(a,
		func(x float64) float64 { return math.Max(x, 0) },
		func(_, y float64) float64 {
			if y > 0 {
				return 1
			}
			return 0
		})
}

func Sigmoid(a *Tensor) *Tensor {
	return unary(a,
		func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float64) float64 { return y * (1 - y) })
}

func Tanh(a *Tensor) *Tensor {
	return unary(a, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}
