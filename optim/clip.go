package optim

import (
	"math"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// GradNorm is the normType-norm of all gradients of params taken as one
// vector. An infinite normType gives the largest absolute entry;
// normType <= 0 means 2.
func GradNorm(params []*tensor.Tensor, normType float64) float64 {
	if normType <= 0 {
		normType = 2
	}
	if math.IsInf(normType, 1) {
		peak := 0.0
		for _, p := range params {
			if p == nil {
				continue
			}
			if g := p.Grad(); g != nil {
				for _, v := range g.Data() {
					peak = math.Max(peak, math.Abs(v))
				}
			}
		}
		return peak
	}
	total := 0.0
	for _, p := range params {
		total += p.GradPowSum(normType)
	}
	return math.Pow(total, 1/normType)
}

// ClipGradNorm rescales gradients in place so their joint norm is at most
// maxNorm and returns the norm before clipping.
func ClipGradNorm(params []*tensor.Tensor, maxNorm float64, normType float64) float64 {
	if maxNorm <= 0 {
		return 0
	}
	norm := GradNorm(params, normType)
	if norm > maxNorm {
		scale := maxNorm / norm
		for _, p := range params {
			p.ScaleGrad(scale)
		}
	}
	return norm
}

// ClipGradValue clamps every gradient entry to [-clipValue, clipValue].
func ClipGradValue(params []*tensor.Tensor, clipValue float64) {
	for _, p := range params {
		p.ClipGradValue(clipValue)
	}
}
