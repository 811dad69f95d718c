package optim

import "github.com/fumitoshi0524/depthnet/tensor"

type SGD struct {
	group
	momentum    float64
	weightDecay float64
	nesterov    bool
	velocity    map[int][]float64
}

type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool
	Clip        Clip
}

func NewSGD(params []*tensor.Tensor, lr float64, momentum float64) *SGD {
	return NewSGDWithConfig(params, SGDConfig{LR: lr, Momentum: momentum})
}

func NewSGDWithConfig(params []*tensor.Tensor, cfg SGDConfig) *SGD {
	return &SGD{
		group:       group{params: params, lr: cfg.LR, clip: cfg.Clip},
		momentum:    cfg.Momentum,
		weightDecay: cfg.WeightDecay,
		nesterov:    cfg.Nesterov,
		velocity:    map[int][]float64{},
	}
}

func (o *SGD) Step() error {
	o.applyClip()
	return o.each(func(i int, p *tensor.Tensor, grad []float64) error {
		if o.weightDecay > 0 {
			for j, w := range p.Data() {
				grad[j] += o.weightDecay * w
			}
		}
		update := grad
		if o.momentum > 0 {
			v := o.velocity[i]
			if v == nil {
				v = make([]float64, len(grad))
				o.velocity[i] = v
			}
			update = make([]float64, len(grad))
			for j, g := range grad {
				v[j] = o.momentum*v[j] + g
				if o.nesterov {
					update[j] = g + o.momentum*v[j]
				} else {
					update[j] = v[j]
				}
			}
		}
		return apply(p, update, o.lr)
	})
}

func (o *SGD) StateDict() map[string]*tensor.Tensor {
	state := map[string]*tensor.Tensor{}
	saveBuffers(state, "velocity", o.velocity)
	return state
}

func (o *SGD) LoadState(state map[string]*tensor.Tensor) error {
	v, err := loadBuffers(state, "velocity", o.params)
	if err != nil {
		return err
	}
	o.velocity = v
	return nil
}
