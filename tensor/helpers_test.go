package tensor

import (
	"math"
	"testing"
)

func equalShapes(a, b []int) bool {
	return sameShape(a, b)
}

func AlmostEqualSlices(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// checkGrad compares the analytic gradient of build with central
// differences around vals.
func checkGrad(t *testing.T, name string, vals []float64, shape []int, build func(x *Tensor) (*Tensor, error)) {
	t.Helper()
	x := MustNew(vals, shape...)
	x.SetRequiresGrad(true)
	out, err := build(x)
	if err != nil {
		t.Fatalf("%s: forward failed: %v", name, err)
	}
	if err := out.Backward(); err != nil {
		t.Fatalf("%s: backward failed: %v", name, err)
	}
	analytic := x.Grad()
	if analytic == nil {
		t.Fatalf("%s: missing gradient", name)
	}
	const eps = 1e-5
	for i := range vals {
		eval := func(delta float64) float64 {
			shifted := append([]float64(nil), vals...)
			shifted[i] += delta
			res, err := build(MustNew(shifted, shape...))
			if err != nil {
				t.Fatalf("%s: perturbed forward failed: %v", name, err)
			}
			return res.Item()
		}
		numeric := (eval(eps) - eval(-eps)) / (2 * eps)
		if got := analytic.Data()[i]; math.Abs(got-numeric) > 1e-4*math.Max(1, math.Abs(numeric)) {
			t.Fatalf("%s: grad[%d] got %v want %v", name, i, got, numeric)
		}
	}
}

// weightedSum reduces out to a scalar with fixed, position dependent
// weights so every output contributes a distinct gradient.
func weightedSum(out *Tensor) (*Tensor, error) {
	coeff := Zeros(out.Shape()...)
	for i := range coeff.data {
		coeff.data[i] = 0.1 * float64(i%7+1)
	}
	prod, err := Mul(out, coeff)
	if err != nil {
		return nil, err
	}
	return Sum(prod), nil
}

func ramp(n int, scale float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = scale * (float64(i%5) - 2 + 0.3*float64(i%3))
	}
	return out
}
