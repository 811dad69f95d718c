package optim

import (
	"math"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// Adam implements Adam, its AMSGrad variant and, with Decoupled set, AdamW.
type Adam struct {
	group
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64
	decoupled   bool
	amsgrad     bool
	m           map[int][]float64
	v           map[int][]float64
	vMax        map[int][]float64
	step        int
}

type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	Decoupled   bool
	AMSGrad     bool
	Clip        Clip
}

func NewAdam(params []*tensor.Tensor, lr, beta1, beta2, eps float64) *Adam {
	return NewAdamWithConfig(params, AdamConfig{LR: lr, Beta1: beta1, Beta2: beta2, Eps: eps})
}

// NewAdamW returns Adam with decoupled weight decay.
func NewAdamW(params []*tensor.Tensor, lr, weightDecay float64) *Adam {
	return NewAdamWithConfig(params, AdamConfig{LR: lr, WeightDecay: weightDecay, Decoupled: true})
}

func NewAdamWithConfig(params []*tensor.Tensor, cfg AdamConfig) *Adam {
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	return &Adam{
		group:       group{params: params, lr: cfg.LR, clip: cfg.Clip},
		beta1:       cfg.Beta1,
		beta2:       cfg.Beta2,
		eps:         cfg.Eps,
		weightDecay: cfg.WeightDecay,
		decoupled:   cfg.Decoupled,
		amsgrad:     cfg.AMSGrad,
		m:           map[int][]float64{},
		v:           map[int][]float64{},
		vMax:        map[int][]float64{},
	}
}

func (o *Adam) Step() error {
	o.applyClip()
	o.step++
	biasCorr1 := 1 - math.Pow(o.beta1, float64(o.step))
	biasCorr2 := 1 - math.Pow(o.beta2, float64(o.step))
	return o.each(func(i int, p *tensor.Tensor, grad []float64) error {
		weights := p.Data()
		if o.weightDecay > 0 && !o.decoupled {
			for j, w := range weights {
				grad[j] += o.weightDecay * w
			}
		}
		m, v := o.m[i], o.v[i]
		if m == nil {
			m = make([]float64, len(grad))
			v = make([]float64, len(grad))
			o.m[i], o.v[i] = m, v
		}
		second := v
		if o.amsgrad {
			if o.vMax[i] == nil {
				o.vMax[i] = make([]float64, len(grad))
			}
			second = o.vMax[i]
		}
		update := make([]float64, len(grad))
		for j, g := range grad {
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			if o.amsgrad {
				second[j] = math.Max(second[j], v[j])
			}
			update[j] = (m[j] / biasCorr1) / (math.Sqrt(second[j]/biasCorr2) + o.eps)
			if o.decoupled && o.weightDecay > 0 {
				update[j] += o.weightDecay * weights[j]
			}
		}
		return apply(p, update, o.lr)
	})
}

func (o *Adam) StateDict() map[string]*tensor.Tensor {
	state := map[string]*tensor.Tensor{
		"step": tensor.MustNew([]float64{float64(o.step)}, 1),
	}
	saveBuffers(state, "exp_avg", o.m)
	saveBuffers(state, "exp_avg_sq", o.v)
	saveBuffers(state, "max_exp_avg_sq", o.vMax)
	return state
}

func (o *Adam) LoadState(state map[string]*tensor.Tensor) error {
	m, err := loadBuffers(state, "exp_avg", o.params)
	if err != nil {
		return err
	}
	v, err := loadBuffers(state, "exp_avg_sq", o.params)
	if err != nil {
		return err
	}
	vMax, err := loadBuffers(state, "max_exp_avg_sq", o.params)
	if err != nil {
		return err
	}
	o.m, o.v, o.vMax = m, v, vMax
	if s, ok := state["step"]; ok && s.Numel() == 1 {
		o.step = int(s.Item())
	}
	return nil
}
