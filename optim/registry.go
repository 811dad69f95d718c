package optim

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// Args carries constructor arguments as decoded from a config file.
type Args map[string]any

func (a Args) Float(key string, def float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

func clipFrom(args Args) Clip {
	return Clip{
		MaxNorm:  args.Float("max_grad_norm", 0),
		NormType: args.Float("grad_norm_type", 2),
		Value:    args.Float("grad_value_clip", 0),
	}
}

var optimizers = map[string]func(params []*tensor.Tensor, args Args) Optimizer{
	"sgd": func(params []*tensor.Tensor, args Args) Optimizer {
		return NewSGDWithConfig(params, SGDConfig{
			LR:          args.Float("lr", 0.01),
			Momentum:    args.Float("momentum", 0),
			WeightDecay: args.Float("weight_decay", 0),
			Nesterov:    args.Bool("nesterov", false),
			Clip:        clipFrom(args),
		})
	},
	"adam": func(params []*tensor.Tensor, args Args) Optimizer {
		return NewAdamWithConfig(params, adamConfig(args, false))
	},
	"adamw": func(params []*tensor.Tensor, args Args) Optimizer {
		return NewAdamWithConfig(params, adamConfig(args, true))
	},
	"rmsprop": func(params []*tensor.Tensor, args Args) Optimizer {
		return NewRMSPropWithConfig(params, RMSPropConfig{
			LR:          args.Float("lr", 0.01),
			Alpha:       args.Float("alpha", 0.99),
			Eps:         args.Float("eps", 1e-8),
			WeightDecay: args.Float("weight_decay", 0),
			Momentum:    args.Float("momentum", 0),
			Clip:        clipFrom(args),
		})
	},
}

func adamConfig(args Args, decoupled bool) AdamConfig {
	decay := 0.0
	if decoupled {
		decay = 0.01
	}
	return AdamConfig{
		LR:          args.Float("lr", 0.001),
		Beta1:       args.Float("beta1", 0.9),
		Beta2:       args.Float("beta2", 0.999),
		Eps:         args.Float("eps", 1e-8),
		WeightDecay: args.Float("weight_decay", decay),
		Decoupled:   decoupled,
		AMSGrad:     args.Bool("amsgrad", false),
		Clip:        clipFrom(args),
	}
}

// New builds the optimizer registered under kind (case-insensitive).
func New(kind string, params []*tensor.Tensor, args Args) (Optimizer, error) {
	build, ok := optimizers[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("unknown optimizer %q (have %s)", kind, names(optimizers))
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer %s: no parameters", kind)
	}
	return build(params, args), nil
}

var schedules = map[string]func(args Args) Schedule{
	"steplr": func(args Args) Schedule {
		return StepLR{StepSize: max(args.Int("step_size", 30), 1), Gamma: args.Float("gamma", 0.1)}
	},
	"exponentiallr": func(args Args) Schedule {
		return ExponentialLR{Gamma: args.Float("gamma", 0.95)}
	},
	"cosineannealinglr": func(args Args) Schedule {
		return CosineAnnealingLR{TMax: max(args.Int("T_max", 100), 1), EtaMin: args.Float("eta_min", 0)}
	},
}

// NewSchedulerByName wraps opt with the schedule registered under kind.
func NewSchedulerByName(kind string, opt Optimizer, args Args) (*Scheduler, error) {
	build, ok := schedules[strings.ToLower(kind)]
	if !ok {
		return nil, fmt.Errorf("unknown lr scheduler %q (have %s)", kind, names(schedules))
	}
	return NewScheduler(opt, build(args)), nil
}

func names[V any](m map[string]V) string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return strings.Join(out, ", ")
}
