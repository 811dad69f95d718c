package nn

import "github.com/fumitoshi0524/depthnet/tensor"

// MaxPool2d takes the maximum over square windows. A non-positive stride
// defaults to the window size.
type MaxPool2d struct {
	size   int
	stride int
}

func NewMaxPool2d(size, stride int) *MaxPool2d {
	if stride <= 0 {
		stride = size
	}
	return &MaxPool2d{size: size, stride: stride}
}

func (m *MaxPool2d) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.MaxPool2D(input, m.size, m.size, m.stride, m.stride, 0, 0)
}

func (m *MaxPool2d) Parameters() []*tensor.Tensor {
	return nil
}

func (m *MaxPool2d) ZeroGrad() {}
