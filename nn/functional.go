package nn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// Functional is a parameter-free elementwise layer such as an activation.
// It carries no state, so it saves and loads as nothing.
type Functional struct {
	name string
	fn   func(*tensor.Tensor) *tensor.Tensor
}

func (f *Functional) Name() string {
	return f.name
}

func (f *Functional) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input == nil {
		return nil, fmt.Errorf("%s: nil input", f.name)
	}
	return f.fn(input), nil
}

func (f *Functional) Parameters() []*tensor.Tensor {
	return nil
}

func (f *Functional) ZeroGrad() {}

func (f *Functional) StateDict(string, map[string]*tensor.Tensor) {}

func (f *Functional) LoadState(string, map[string]*tensor.Tensor) error {
	return nil
}

var activations = map[string]func(*tensor.Tensor) *tensor.Tensor{
	"relu":    tensor.Relu,
	"sigmoid": tensor.Sigmoid,
	"tanh":    tensor.Tanh,
}

// Activation returns the activation registered under name
// (case-insensitive).
func Activation(name string) (*Functional, error) {
	key := strings.ToLower(name)
	fn, ok := activations[key]
	if !ok {
		known := make([]string, 0, len(activations))
		for k := range activations {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("unknown activation %q (have %s)", name, strings.Join(known, ", "))
	}
	return &Functional{name: key, fn: fn}, nil
}

func Relu() *Functional {
	return &Functional{name: "relu", fn: tensor.Relu}
}

func Sigmoid() *Functional {
	return &Functional{name: "sigmoid", fn: tensor.Sigmoid}
}

func Tanh() *Functional {
	return &Functional{name: "tanh", fn: tensor.Tanh}
}
