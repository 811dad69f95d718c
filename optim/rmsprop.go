package optim

import (
	"math"

	"github.com/fumitoshi0524/depthnet/tensor"
)

type RMSProp struct {
	group
	alpha       float64
	eps         float64
	weightDecay float64
	momentum    float64
	squareAvg   map[int][]float64
	buffer      map[int][]float64
}

type RMSPropConfig struct {
	LR          float64
	Alpha       float64
	Eps         float64
	WeightDecay float64
	Momentum    float64
	Clip        Clip
}

func NewRMSProp(params []*tensor.Tensor, lr float64) *RMSProp {
	return NewRMSPropWithConfig(params, RMSPropConfig{LR: lr})
}

func NewRMSPropWithConfig(params []*tensor.Tensor, cfg RMSPropConfig) *RMSProp {
	if cfg.Alpha == 0 {
		cfg.Alpha = 0.99
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return &RMSProp{
		group:       group{params: params, lr: cfg.LR, clip: cfg.Clip},
		alpha:       cfg.Alpha,
		eps:         cfg.Eps,
		weightDecay: cfg.WeightDecay,
		momentum:    cfg.Momentum,
		squareAvg:   map[int][]float64{},
		buffer:      map[int][]float64{},
	}
}

func (o *RMSProp) Step() error {
	o.applyClip()
	return o.each(func(i int, p *tensor.Tensor, grad []float64) error {
		if o.weightDecay > 0 {
			for j, w := range p.Data() {
				grad[j] += o.weightDecay * w
			}
		}
		sq := o.squareAvg[i]
		if sq == nil {
			sq = make([]float64, len(grad))
			o.squareAvg[i] = sq
		}
		update := make([]float64, len(grad))
		for j, g := range grad {
			sq[j] = o.alpha*sq[j] + (1-o.alpha)*g*g
			update[j] = g / (math.Sqrt(sq[j]) + o.eps)
		}
		if o.momentum > 0 {
			buf := o.buffer[i]
			if buf == nil {
				buf = make([]float64, len(grad))
				o.buffer[i] = buf
			}
			for j := range update {
				buf[j] = o.momentum*buf[j] + update[j]
				update[j] = buf[j]
			}
		}
		return apply(p, update, o.lr)
	})
}

func (o *RMSProp) StateDict() map[string]*tensor.Tensor {
	state := map[string]*tensor.Tensor{}
	saveBuffers(state, "square_avg", o.squareAvg)
	saveBuffers(state, "momentum_buffer", o.buffer)
	return state
}

func (o *RMSProp) LoadState(state map[string]*tensor.Tensor) error {
	sq, err := loadBuffers(state, "square_avg", o.params)
	if err != nil {
		return err
	}
	buf, err := loadBuffers(state, "momentum_buffer", o.params)
	if err != nil {
		return err
	}
	o.squareAvg, o.buffer = sq, buf
	return nil
}
