package nn

import (
	"fmt"
	"slices"

	"github.com/fumitoshi0524/depthnet/tensor"
)

const (
	lstmGateInput = iota
	lstmGateForget
	lstmGateCell
	lstmGateOutput
	lstmGateTotal
)

// ConvLSTMCell is an LSTM cell whose gates are convolutions over the
// channel-wise concatenation of the input and the previous hidden map.
type ConvLSTMCell struct {
	inChannels int
	hidden     int
	gates      *Conv2d
}

// NewConvLSTMCell builds a cell with an odd square gate kernel; padding
// keeps the spatial size unchanged.
func NewConvLSTMCell(inChannels, hidden, size int) *ConvLSTMCell {
	return &ConvLSTMCell{
		inChannels: inChannels,
		hidden:     hidden,
		gates:      NewConv2d(inChannels+hidden, lstmGateTotal*hidden, size, 1, size/2, true),
	}
}

func (c *ConvLSTMCell) Hidden() int {
	return c.hidden
}

// Forward runs one step from a zero state and returns the hidden map.
func (c *ConvLSTMCell) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, _, err := c.Step(x, nil, nil)
	return h, err
}

// Step advances the cell by one time step. Nil h or cell start from zeros.
func (c *ConvLSTMCell) Step(x, h, cell *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	shape := x.Shape()
	if len(shape) != 4 || shape[1] != c.inChannels {
		return nil, nil, fmt.Errorf("ConvLSTMCell expects input [batch, %d, H, W], got %v", c.inChannels, shape)
	}
	stateShape := []int{shape[0], c.hidden, shape[2], shape[3]}
	if h == nil {
		h = tensor.Zeros(stateShape...)
	}
	if cell == nil {
		cell = tensor.Zeros(stateShape...)
	}
	if !slices.Equal(h.Shape(), stateShape) || !slices.Equal(cell.Shape(), stateShape) {
		return nil, nil, fmt.Errorf("ConvLSTMCell state must be %v, got hidden %v cell %v", stateShape, h.Shape(), cell.Shape())
	}

	stacked, err := tensor.Concat(1, x, h)
	if err != nil {
		return nil, nil, err
	}
	pre, err := c.gates.Forward(stacked)
	if err != nil {
		return nil, nil, err
	}
	sizes := make([]int, lstmGateTotal)
	for i := range sizes {
		sizes[i] = c.hidden
	}
	parts, err := tensor.Split(1, sizes, pre)
	if err != nil {
		return nil, nil, err
	}
	inputGate := tensor.Sigmoid(parts[lstmGateInput])
	forgetGate := tensor.Sigmoid(parts[lstmGateForget])
	candidate := tensor.Tanh(parts[lstmGateCell])
	outputGate := tensor.Sigmoid(parts[lstmGateOutput])

	kept, err := tensor.Mul(forgetGate, cell)
	if err != nil {
		return nil, nil, err
	}
	written, err := tensor.Mul(inputGate, candidate)
	if err != nil {
		return nil, nil, err
	}
	nextCell, err := tensor.Add(kept, written)
	if err != nil {
		return nil, nil, err
	}
	nextH, err := tensor.Mul(outputGate, tensor.Tanh(nextCell))
	if err != nil {
		return nil, nil, err
	}
	return nextH, nextCell, nil
}

func (c *ConvLSTMCell) Parameters() []*tensor.Tensor {
	return c.gates.Parameters()
}

func (c *ConvLSTMCell) ZeroGrad() {
	c.gates.ZeroGrad()
}

func (c *ConvLSTMCell) NamedParameters(prefix string, out map[string]*tensor.Tensor) {
	c.gates.NamedParameters(joinPrefix(prefix, "gates"), out)
}

func (c *ConvLSTMCell) StateDict(prefix string, state map[string]*tensor.Tensor) {
	c.gates.StateDict(joinPrefix(prefix, "gates"), state)
}

func (c *ConvLSTMCell) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	return c.gates.LoadState(joinPrefix(prefix, "gates"), state)
}
