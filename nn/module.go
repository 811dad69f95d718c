package nn

import (
	"errors"
	"fmt"

	"github.com/fumitoshi0524/depthnet/tensor"
)

type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	ZeroGrad()
}

type StatefulModule interface {
	Module
	StateDict(prefix string, state map[string]*tensor.Tensor)
	LoadState(prefix string, state map[string]*tensor.Tensor) error
}

// Trainable is implemented by modules whose forward pass differs between
// training and evaluation.
type Trainable interface {
	Train()
	Eval()
}

// Named is implemented by modules that can report their learnable tensors
// under stable dotted names.
type Named interface {
	NamedParameters(prefix string, out map[string]*tensor.Tensor)
}

// SetTraining switches every Trainable module among mods to training or
// evaluation mode. Modules without a mode are skipped.
func SetTraining(training bool, mods ...Module) {
	for _, m := range mods {
		tr, ok := m.(Trainable)
		if !ok {
			continue
		}
		if training {
			tr.Train()
		} else {
			tr.Eval()
		}
	}
}

func ZeroGradAll(mods ...Module) {
	for _, m := range mods {
		if m == nil {
			continue
		}
		m.ZeroGrad()
	}
}

// NamedParameters returns the live parameters of mod keyed by name.
func NamedParameters(mod Module) map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor)
	if mod == nil {
		return out
	}
	if n, ok := mod.(Named); ok {
		n.NamedParameters("", out)
		return out
	}
	for idx, p := range mod.Parameters() {
		if p != nil {
			out[fmt.Sprintf("param_%d", idx)] = p
		}
	}
	return out
}

func SaveModule(path string, mod Module) error {
	if mod == nil {
		return errors.New("SaveModule requires non-nil module")
	}
	state := make(map[string]*tensor.Tensor)
	if sm, ok := mod.(StatefulModule); ok {
		sm.StateDict("", state)
	} else {
		captureParameters("", mod, state)
	}
	if len(state) == 0 {
		return errors.New("module has no state to save")
	}
	return tensor.SaveTensors(path, state)
}

func LoadModule(path string, mod Module) error {
	if mod == nil {
		return errors.New("LoadModule requires non-nil module")
	}
	state, err := tensor.LoadTensors(path)
	if err != nil {
		return err
	}
	if sm, ok := mod.(StatefulModule); ok {
		return sm.LoadState("", state)
	}
	return loadParameters("", mod, state)
}

func joinPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "." + name
}

// loadEntry copies state[key] into dst, naming owner in the error.
func loadEntry(owner string, state map[string]*tensor.Tensor, key string, dst *tensor.Tensor) error {
	src, ok := state[key]
	if !ok {
		return fmt.Errorf("%s missing %s", owner, key)
	}
	if err := tensor.CopyInto(dst, src); err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	return nil
}

func captureParameters(prefix string, mod Module, state map[string]*tensor.Tensor) {
	for idx, p := range mod.Parameters() {
		if p == nil {
			continue
		}
		state[joinPrefix(prefix, fmt.Sprintf("param_%d", idx))] = p.Clone()
	}
}

func loadParameters(prefix string, mod Module, state map[string]*tensor.Tensor) error {
	for idx, p := range mod.Parameters() {
		if p == nil {
			continue
		}
		key := joinPrefix(prefix, fmt.Sprintf("param_%d", idx))
		if err := loadEntry("module", state, key, p); err != nil {
			return err
		}
	}
	return nil
}
