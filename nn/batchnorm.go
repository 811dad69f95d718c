package nn

import (
	"fmt"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// BatchNorm2d normalises each channel of a [batch, channels, H, W] input.
type BatchNorm2d struct {
	numFeatures int
	momentum    float64
	eps         float64
	training    bool
	weight      *tensor.Tensor
	bias        *tensor.Tensor
	runningMean *tensor.Tensor
	runningVar  *tensor.Tensor
}

func NewBatchNorm2d(numFeatures int, momentum, eps float64) *BatchNorm2d {
	if momentum <= 0 || momentum >= 1 {
		momentum = 0.1
	}
	if eps <= 0 {
		eps = 1e-5
	}
	weight := tensor.Ones(numFeatures)
	bias := tensor.Zeros(numFeatures)
	weight.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)
	return &BatchNorm2d{
		numFeatures: numFeatures,
		momentum:    momentum,
		eps:         eps,
		training:    true,
		weight:      weight,
		bias:        bias,
		runningMean: tensor.Zeros(numFeatures),
		runningVar:  tensor.Ones(numFeatures),
	}
}

func (bn *BatchNorm2d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.BatchNorm2D(input, bn.runningMean, bn.runningVar, bn.weight, bn.bias, bn.momentum, bn.eps, bn.training)
}

func (bn *BatchNorm2d) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{bn.weight, bn.bias}
}

func (bn *BatchNorm2d) ZeroGrad() {
	bn.weight.ZeroGrad()
	bn.bias.ZeroGrad()
}

func (bn *BatchNorm2d) Train() {
	bn.training = true
}

func (bn *BatchNorm2d) Eval() {
	bn.training = false
}

func (bn *BatchNorm2d) Training() bool {
	return bn.training
}

func (bn *BatchNorm2d) NamedParameters(prefix string, out map[string]*tensor.Tensor) {
	out[joinPrefix(prefix, "weight")] = bn.weight
	out[joinPrefix(prefix, "bias")] = bn.bias
}

func (bn *BatchNorm2d) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	state[joinPrefix(prefix, "weight")] = bn.weight.Clone()
	state[joinPrefix(prefix, "bias")] = bn.bias.Clone()
	state[joinPrefix(prefix, "running_mean")] = bn.runningMean.Clone()
	state[joinPrefix(prefix, "running_var")] = bn.runningVar.Clone()
}

func (bn *BatchNorm2d) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return fmt.Errorf("state dict is nil")
	}
	entries := []struct {
		name string
		dst  *tensor.Tensor
	}{
		{"weight", bn.weight},
		{"bias", bn.bias},
		{"running_mean", bn.runningMean},
		{"running_var", bn.runningVar},
	}
	for _, e := range entries {
		if err := loadEntry("BatchNorm2d", state, joinPrefix(prefix, e.name), e.dst); err != nil {
			return err
		}
	}
	return nil
}

func (bn *BatchNorm2d) RunningMean() *tensor.Tensor {
	return bn.runningMean
}

func (bn *BatchNorm2d) RunningVar() *tensor.Tensor {
	return bn.runningVar
}
