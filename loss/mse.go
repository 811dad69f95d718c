package loss

import "github.com/fumitoshi0524/depthnet/tensor"

// MSE is the mean squared error between pred and target.
func MSE(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.Sub(pred, target)
	if err != nil {
		return nil, err
	}
	return tensor.Mean(tensor.Pow(diff, 2)), nil
}
