package model

import (
	"fmt"

	"github.com/fumitoshi0524/depthnet/nn"
	"github.com/fumitoshi0524/depthnet/tensor"
)

// Pair is the hidden and cell map of one ConvLSTM level.
type Pair struct {
	H *tensor.Tensor
	C *tensor.Tensor
}

// State is the recurrent memory of a RecurrentUNet, one Pair per encoder
// level. A nil State starts from zeros.
type State []Pair

// Detach copies the state out of the autograd graph so the next step's
// graph does not reach back into earlier batches.
func (s State) Detach() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for i, p := range s {
		out[i] = Pair{H: p.H.Detach(), C: p.C.Detach()}
	}
	return out
}

// BatchSize is the batch dimension the state was computed for, or 0.
func (s State) BatchSize() int {
	if len(s) == 0 || s[0].H == nil {
		return 0
	}
	return s[0].H.Dim(0)
}

// Recurrent models thread State through successive batches.
type Recurrent interface {
	Model
	ForwardState(x *tensor.Tensor, state State) (*tensor.Tensor, State, error)
}

// RecurrentUNet is a UNet with a ConvLSTM cell after every encoder level.
// The cell's hidden map replaces the encoder output at that level.
type RecurrentUNet struct {
	layers
	cfg      Config
	encoders [Levels]*DoubleConv
	cells    [Levels]*nn.ConvLSTMCell
	pool     *nn.MaxPool2d
	ups      [Levels - 1]*nn.ConvTranspose2d
	decoders [Levels - 1]*DoubleConv
	head     *nn.Conv2d
	output   *nn.Functional
}

func NewRecurrentUNet(cfg Config) (*RecurrentUNet, error) {
	base, err := NewUNet(cfg)
	if err != nil {
		return nil, err
	}
	r := &RecurrentUNet{
		cfg:      base.cfg,
		encoders: base.encoders,
		pool:     base.pool,
		ups:      base.ups,
		decoders: base.decoders,
		head:     base.head,
		output:   base.output,
		layers:   append(layers(nil), base.layers...),
	}
	w := base.cfg.widths()
	for l := range Levels {
		r.cells[l] = nn.NewConvLSTMCell(w[l], w[l], 3)
		r.layers = append(r.layers, layer{fmt.Sprintf("lstm%d", l+1), r.cells[l]})
	}
	return r, nil
}

func (r *RecurrentUNet) Config() Config {
	return r.cfg
}

func (r *RecurrentUNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out, _, err := r.ForwardState(x, nil)
	return out, err
}

func (r *RecurrentUNet) ForwardState(x *tensor.Tensor, state State) (*tensor.Tensor, State, error) {
	if err := checkInput(x, r.cfg.InChannels); err != nil {
		return nil, nil, err
	}
	if state != nil && len(state) != Levels {
		return nil, nil, fmt.Errorf("recurrent unet: state has %d levels, want %d", len(state), Levels)
	}
	next := make(State, Levels)
	var feats [Levels]*tensor.Tensor
	var err error
	for l := range Levels {
		if l > 0 {
			if x, err = r.pool.Forward(feats[l-1]); err != nil {
				return nil, nil, err
			}
		}
		enc, err := r.encoders[l].Forward(x)
		if err != nil {
			return nil, nil, fmt.Errorf("enc%d: %w", l+1, err)
		}
		var prev Pair
		if state != nil {
			prev = state[l]
		}
		h, c, err := r.cells[l].Step(enc, prev.H, prev.C)
		if err != nil {
			return nil, nil, fmt.Errorf("lstm%d: %w", l+1, err)
		}
		feats[l] = h
		next[l] = Pair{H: h, C: c}
	}
	out, err := decode(feats, r.ups, r.decoders, r.head, r.output, r.cfg.Skip)
	if err != nil {
		return nil, nil, err
	}
	return out, next, nil
}
