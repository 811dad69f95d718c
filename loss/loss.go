// Package loss holds the training criteria for depth regression.
package loss

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fumitoshi0524/depthnet/calib"
	"github.com/fumitoshi0524/depthnet/tensor"
)

var ErrNoValidPixels = errors.New("loss: target has no valid pixels")

// Criterion reduces a model output and its target to a scalar loss.
type Criterion func(output, target *tensor.Tensor) (*tensor.Tensor, error)

// DisparityLoss returns the scale-invariant residual loss over valid
// pixels. Both output and target are reprojected to depth with
// proj.LossDepth; with R the residual at pixels where target is non-zero
// and N their count, the loss is sum(R^2)/N - (sum(R)/N)^2.
func DisparityLoss(proj *calib.Projection) Criterion {
	return func(output, target *tensor.Tensor) (*tensor.Tensor, error) {
		out, err := output.Reshape(target.Shape()...)
		if err != nil {
			return nil, fmt.Errorf("disparity loss: output %v vs target %v: %w", output.Shape(), target.Shape(), err)
		}
		valid := tensor.NotEqual(target, 0)
		n := valid.Count()
		if n == 0 {
			return nil, ErrNoValidPixels
		}
		residual, err := tensor.Sub(proj.LossDepth(target), proj.LossDepth(out))
		if err != nil {
			return nil, err
		}
		r, err := tensor.Where(valid, residual, 0)
		if err != nil {
			return nil, err
		}
		inv := 1 / float64(n)
		meanSq := tensor.MulScalar(tensor.Sum(tensor.Pow(r, 2)), inv)
		mean := tensor.MulScalar(tensor.Sum(r), inv)
		return tensor.Sub(meanSq, tensor.Pow(mean, 2))
	}
}

// PhotometricL1 is mean(weight * |input - target|). A nil weight counts
// every element once.
func PhotometricL1(input, target, weight *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.Sub(input, target)
	if err != nil {
		return nil, fmt.Errorf("photometric l1: %w", err)
	}
	abs := tensor.Abs(diff)
	if weight != nil {
		if abs, err = tensor.Mul(weight, abs); err != nil {
			return nil, fmt.Errorf("photometric l1 weight: %w", err)
		}
	}
	return tensor.Mean(abs), nil
}

var criteria = map[string]func(proj *calib.Projection) Criterion{
	"disparity_loss": DisparityLoss,
	"photometric_l1": func(*calib.Projection) Criterion {
		return func(output, target *tensor.Tensor) (*tensor.Tensor, error) {
			return PhotometricL1(output, target, nil)
		}
	},
	"mse": func(*calib.Projection) Criterion { return MSE },
}

// Lookup returns the criterion registered under name. proj is required by
// criteria that reproject disparity.
func Lookup(name string, proj *calib.Projection) (Criterion, error) {
	build, ok := criteria[name]
	if !ok {
		known := make([]string, 0, len(criteria))
		for k := range criteria {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown loss %q (have %s)", name, strings.Join(known, ", "))
	}
	if name == "disparity_loss" && proj == nil {
		return nil, fmt.Errorf("loss %s needs a projection matrix", name)
	}
	return build(proj), nil
}
