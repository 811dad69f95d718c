// Package model defines the depth networks.
package model

import (
	"fmt"

	"github.com/fumitoshi0524/depthnet/nn"
	"github.com/fumitoshi0524/depthnet/tensor"
)

// Levels is the number of encoder resolutions; inputs must be divisible
// by 2^(Levels-1).
const Levels = 5

// Config sizes a U-Net.
type Config struct {
	InChannels int  `yaml:"in_channels"`
	BaseWidth  int  `yaml:"base_width"`
	Skip       bool `yaml:"skip"`
	// Output is an activation applied after the head, e.g. "sigmoid" to
	// keep predictions in the [0, 1] log-depth range. Empty is linear.
	Output string `yaml:"output"`
}

func (c Config) withDefaults() Config {
	if c.BaseWidth <= 0 {
		c.BaseWidth = 32
	}
	return c
}

func (c Config) widths() [Levels]int {
	var w [Levels]int
	for l := range w {
		w[l] = c.BaseWidth << l
	}
	return w
}

// Model is what the trainers drive.
type Model interface {
	nn.StatefulModule
	nn.Trainable
	nn.Named
}

// DoubleConv is two rounds of 3x3 convolution, batch norm and ReLU.
type DoubleConv struct {
	*nn.Sequential
}

func NewDoubleConv(in, out int) *DoubleConv {
	return &DoubleConv{nn.NewSequential(
		nn.NewConv2d(in, out, 3, 1, 1, true),
		nn.NewBatchNorm2d(out, 0.1, 1e-5),
		nn.Relu(),
		nn.NewConv2d(out, out, 3, 1, 1, true),
		nn.NewBatchNorm2d(out, 0.1, 1e-5),
		nn.Relu(),
	)}
}

type layer struct {
	name string
	mod  nn.StatefulModule
}

// layers is a fixed, ordered list of named submodules.
type layers []layer

func (ls layers) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, l := range ls {
		params = append(params, l.mod.Parameters()...)
	}
	return params
}

func (ls layers) ZeroGrad() {
	for _, l := range ls {
		l.mod.ZeroGrad()
	}
}

func (ls layers) Train() {
	for _, l := range ls {
		nn.SetTraining(true, l.mod)
	}
}

func (ls layers) Eval() {
	for _, l := range ls {
		nn.SetTraining(false, l.mod)
	}
}

func (ls layers) NamedParameters(prefix string, out map[string]*tensor.Tensor) {
	for _, l := range ls {
		if n, ok := l.mod.(nn.Named); ok {
			n.NamedParameters(joinName(prefix, l.name), out)
		}
	}
}

func (ls layers) StateDict(prefix string, state map[string]*tensor.Tensor) {
	for _, l := range ls {
		l.mod.StateDict(joinName(prefix, l.name), state)
	}
}

func (ls layers) LoadState(prefix string, state map[string]*tensor.Tensor) error {
	for _, l := range ls {
		if err := l.mod.LoadState(joinName(prefix, l.name), state); err != nil {
			return err
		}
	}
	return nil
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// UNet is a five-level encoder/decoder producing one output channel at
// the input resolution. Encoder widths double per level from BaseWidth;
// each decoder level up-samples with a stride-2 transposed convolution.
type UNet struct {
	layers
	cfg      Config
	encoders [Levels]*DoubleConv
	pool     *nn.MaxPool2d
	ups      [Levels - 1]*nn.ConvTranspose2d
	decoders [Levels - 1]*DoubleConv
	head     *nn.Conv2d
	output   *nn.Functional
}

func NewUNet(cfg Config) (*UNet, error) {
	cfg = cfg.withDefaults()
	if cfg.InChannels <= 0 {
		return nil, fmt.Errorf("unet: in_channels must be positive, got %d", cfg.InChannels)
	}
	w := cfg.widths()
	u := &UNet{cfg: cfg, pool: nn.NewMaxPool2d(2, 2)}
	in := cfg.InChannels
	for l := range Levels {
		u.encoders[l] = NewDoubleConv(in, w[l])
		u.layers = append(u.layers, layer{fmt.Sprintf("enc%d", l+1), u.encoders[l]})
		in = w[l]
	}
	for l := Levels - 2; l >= 0; l-- {
		u.ups[l] = nn.NewConvTranspose2d(w[l+1], w[l], 2, 2, 0, true)
		decIn := w[l]
		if cfg.Skip {
			decIn *= 2
		}
		u.decoders[l] = NewDoubleConv(decIn, w[l])
		u.layers = append(u.layers,
			layer{fmt.Sprintf("up%d", l+1), u.ups[l]},
			layer{fmt.Sprintf("dec%d", l+1), u.decoders[l]},
		)
	}
	u.head = nn.NewConv2d(w[0], 1, 1, 1, 0, true)
	u.layers = append(u.layers, layer{"head", u.head})
	if cfg.Output != "" && cfg.Output != "linear" {
		act, err := nn.Activation(cfg.Output)
		if err != nil {
			return nil, fmt.Errorf("unet: %w", err)
		}
		u.output = act
	}
	return u, nil
}

func (u *UNet) Config() Config {
	return u.cfg
}

func (u *UNet) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkInput(x, u.cfg.InChannels); err != nil {
		return nil, err
	}
	var feats [Levels]*tensor.Tensor
	var err error
	for l := range Levels {
		if l > 0 {
			if x, err = u.pool.Forward(feats[l-1]); err != nil {
				return nil, err
			}
		}
		if feats[l], err = u.encoders[l].Forward(x); err != nil {
			return nil, fmt.Errorf("enc%d: %w", l+1, err)
		}
	}
	return decode(feats, u.ups, u.decoders, u.head, u.output, u.cfg.Skip)
}

func decode(feats [Levels]*tensor.Tensor, ups [Levels - 1]*nn.ConvTranspose2d, decoders [Levels - 1]*DoubleConv, head *nn.Conv2d, output *nn.Functional, skip bool) (*tensor.Tensor, error) {
	x := feats[Levels-1]
	var err error
	for l := Levels - 2; l >= 0; l-- {
		if x, err = ups[l].Forward(x); err != nil {
			return nil, fmt.Errorf("up%d: %w", l+1, err)
		}
		if skip {
			if x, err = tensor.Concat(1, feats[l], x); err != nil {
				return nil, fmt.Errorf("skip%d: %w", l+1, err)
			}
		}
		if x, err = decoders[l].Forward(x); err != nil {
			return nil, fmt.Errorf("dec%d: %w", l+1, err)
		}
	}
	if x, err = head.Forward(x); err != nil || output == nil {
		return x, err
	}
	return output.Forward(x)
}

func checkInput(x *tensor.Tensor, channels int) error {
	shape := x.Shape()
	if len(shape) != 4 || shape[1] != channels {
		return fmt.Errorf("unet: input must be [batch, %d, H, W], got %v", channels, shape)
	}
	div := 1 << (Levels - 1)
	if shape[2]%div != 0 || shape[3]%div != 0 {
		return fmt.Errorf("unet: H and W must be divisible by %d, got %dx%d", div, shape[2], shape[3])
	}
	return nil
}
