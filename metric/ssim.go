package metric

import (
	"math"

	"github.com/fumitoshi0524/depthnet/tensor"
)

const (
	ssimWindow = 11
	ssimSigma  = 1.5
	ssimC1     = 0.01 * 0.01
	ssimC2     = 0.03 * 0.03
)

func gaussianWindow(size int, sigma float64) *tensor.Tensor {
	g := make([]float64, size)
	sum := 0.0
	for i := range g {
		x := float64(i - size/2)
		g[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += g[i]
	}
	w := make([]float64, size*size)
	for r := range size {
		for c := range size {
			w[r*size+c] = g[r] * g[c] / (sum * sum)
		}
	}
	return tensor.MustNew(w, 1, 1, size, size)
}

// SSIM returns the mean structural similarity of x and y, both laid out as
// images*height*width values. Local statistics use an 11x11 Gaussian window
// with zero padding.
func SSIM(x, y []float64, images, height, width int) (float64, error) {
	window := gaussianWindow(ssimWindow, ssimSigma)
	pad := ssimWindow / 2
	blur := func(v []float64) ([]float64, error) {
		in, err := tensor.New(v, images, 1, height, width)
		if err != nil {
			return nil, err
		}
		out, err := tensor.Conv2D(in, window, nil, 1, 1, pad, pad)
		if err != nil {
			return nil, err
		}
		return out.Data(), nil
	}
	product := func(a, b []float64) []float64 {
		out := make([]float64, len(a))
		for i := range a {
			out[i] = a[i] * b[i]
		}
		return out
	}

	var muX, muY, xx, yy, xy []float64
	err := tensor.NoGrad(func() error {
		var err error
		if muX, err = blur(x); err != nil {
			return err
		}
		if muY, err = blur(y); err != nil {
			return err
		}
		if xx, err = blur(product(x, x)); err != nil {
			return err
		}
		if yy, err = blur(product(y, y)); err != nil {
			return err
		}
		xy, err = blur(product(x, y))
		return err
	})
	if err != nil {
		return math.NaN(), err
	}

	total := 0.0
	for i := range muX {
		mx, my := muX[i], muY[i]
		varX := xx[i] - mx*mx
		varY := yy[i] - my*my
		cov := xy[i] - mx*my
		num := (2*mx*my + ssimC1) * (2*cov + ssimC2)
		den := (mx*mx + my*my + ssimC1) * (varX + varY + ssimC2)
		total += num / den
	}
	return total / float64(len(muX)), nil
}
