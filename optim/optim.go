package optim

import (
	"fmt"
	"strconv"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// Optimizer updates a fixed set of parameters from their accumulated
// gradients.
type Optimizer interface {
	Step() error
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
}

// Stateful optimizers can persist their moment buffers with a checkpoint.
type Stateful interface {
	StateDict() map[string]*tensor.Tensor
	LoadState(state map[string]*tensor.Tensor) error
}

// Clip configures gradient clipping applied before every step.
// Zero values disable the corresponding clip.
type Clip struct {
	MaxNorm  float64
	NormType float64
	Value    float64
}

type group struct {
	params []*tensor.Tensor
	lr     float64
	clip   Clip
}

func (g *group) LR() float64 {
	return g.lr
}

func (g *group) SetLR(lr float64) {
	g.lr = lr
}

func (g *group) ZeroGrad() {
	for _, p := range g.params {
		if p != nil {
			p.ZeroGrad()
		}
	}
}

func (g *group) applyClip() {
	if g.clip.MaxNorm > 0 {
		ClipGradNorm(g.params, g.clip.MaxNorm, g.clip.NormType)
	}
	if g.clip.Value > 0 {
		ClipGradValue(g.params, g.clip.Value)
	}
}

// each calls fn with the index, parameter and gradient values of every
// parameter that received a gradient.
func (g *group) each(fn func(i int, p *tensor.Tensor, grad []float64) error) error {
	for i, p := range g.params {
		if p == nil {
			continue
		}
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if err := fn(i, p, grad.Data()); err != nil {
			return fmt.Errorf("param %d: %w", i, err)
		}
	}
	return nil
}

// apply adds -lr*update to p.
func apply(p *tensor.Tensor, update []float64, lr float64) error {
	u, err := tensor.New(update, p.Shape()...)
	if err != nil {
		return err
	}
	return p.AddScaled(u, -lr)
}

func saveBuffers(state map[string]*tensor.Tensor, name string, buffers map[int][]float64) {
	for i, buf := range buffers {
		state[name+"."+strconv.Itoa(i)] = tensor.MustNew(append([]float64(nil), buf...), len(buf))
	}
}

func loadBuffers(state map[string]*tensor.Tensor, name string, params []*tensor.Tensor) (map[int][]float64, error) {
	out := make(map[int][]float64)
	for i, p := range params {
		t, ok := state[name+"."+strconv.Itoa(i)]
		if !ok {
			continue
		}
		if p == nil || t.Numel() != p.Numel() {
			return nil, fmt.Errorf("optimizer state %s.%d does not match parameter size", name, i)
		}
		out[i] = t.Data()
	}
	return out, nil
}
