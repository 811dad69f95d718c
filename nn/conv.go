package nn

import (
	"fmt"
	"math"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// kernel holds the weight and optional bias shared by the convolution
// layers.
type kernel struct {
	name   string
	weight *tensor.Tensor
	bias   *tensor.Tensor
}

// newKernel draws He-initialised weights of the given shape. fanIn is the
// number of inputs feeding one output value.
func newKernel(name string, fanIn, biasSize int, withBias bool, shape ...int) kernel {
	w := tensor.Randn(shape...)
	if fanIn > 0 {
		w.Scale(math.Sqrt(2.0 / float64(fanIn)))
	}
	w.SetRequiresGrad(true)
	k := kernel{name: name, weight: w}
	if withBias {
		k.bias = tensor.Zeros(biasSize)
		k.bias.SetRequiresGrad(true)
	}
	return k
}

func (k *kernel) Parameters() []*tensor.Tensor {
	if k.bias == nil {
		return []*tensor.Tensor{k.weight}
	}
	return []*tensor.Tensor{k.weight, k.bias}
}

func (k *kernel) ZeroGrad() {
	k.weight.ZeroGrad()
	if k.bias != nil {
		k.bias.ZeroGrad()
	}
}

func (k *kernel) Weight() *tensor.Tensor {
	return k.weight
}

func (k *kernel) Bias() *tensor.Tensor {
	return k.bias
}

func (k *kernel) NamedParameters(prefix string, out map[string]*tensor.Tensor) {
	out[joinPrefix(prefix, "weight")] = k.weight
	if k.bias != nil {
		out[joinPrefix(prefix, "bias")] = k.bias
	}
}

func (k *kernel) StateDict(prefix string, state map[string]*tensor.Tensor) {
	if state == nil {
		return
	}
	state[joinPrefix(prefix, "weight")] = k.weight.Clone()
	if k.bias != nil {
		state[joinPrefix(prefix, "bias")] = k.bias.Clone()
	}
}

func (k *kernel) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	if state == nil {
		return fmt.Errorf("state dict is nil")
	}
	if err := loadEntry(k.name, state, joinPrefix(prefix, "weight"), k.weight); err != nil {
		return err
	}
	if k.bias != nil {
		return loadEntry(k.name, state, joinPrefix(prefix, "bias"), k.bias)
	}
	return nil
}

// Conv2d is a square-kernel 2D convolution over [batch, channels, H, W].
type Conv2d struct {
	kernel
	stride int
	pad    int
}

func NewConv2d(inChannels, outChannels, size, stride, pad int, withBias bool) *Conv2d {
	if stride <= 0 {
		stride = 1
	}
	return &Conv2d{
		kernel: newKernel("Conv2d", inChannels*size*size, outChannels, withBias, outChannels, inChannels, size, size),
		stride: stride,
		pad:    pad,
	}
}

func (c *Conv2d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Conv2D(input, c.weight, c.bias, c.stride, c.stride, c.pad, c.pad)
}

// ConvTranspose2d up-samples with a square transposed convolution.
// The weight is laid out [in_channels, out_channels, size, size].
type ConvTranspose2d struct {
	kernel
	stride int
	pad    int
}

func NewConvTranspose2d(inChannels, outChannels, size, stride, pad int, withBias bool) *ConvTranspose2d {
	if stride <= 0 {
		stride = 1
	}
	return &ConvTranspose2d{
		kernel: newKernel("ConvTranspose2d", inChannels*size*size, outChannels, withBias, inChannels, outChannels, size, size),
		stride: stride,
		pad:    pad,
	}
}

func (c *ConvTranspose2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.ConvTranspose2D(x, c.weight, c.bias, c.stride, c.stride, c.pad, c.pad)
}
