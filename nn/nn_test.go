package nn

import (
	"path/filepath"
	"testing"

	"github.com/fumitoshi0524/depthnet/tensor"
)

func floatsAlmostEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > tol {
			return false
		}
	}
	return true
}

func mustSetData(t *testing.T, p *tensor.Tensor, vals []float64) {
	t.Helper()
	if err := p.SetData(vals); err != nil {
		t.Fatalf("set data: %v", err)
	}
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.1*float64(i%9) - 0.35
	}
	return out
}

func TestConv2dMatchesTensor(t *testing.T) {
	conv := NewConv2d(2, 3, 3, 1, 1, true)
	input := tensor.MustNew(ramp(2*2*5*5), 2, 2, 5, 5)
	ref, err := tensor.Conv2D(input, conv.Weight().Detach(), conv.Bias().Detach(), 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("reference conv failed: %v", err)
	}
	out, err := conv.Forward(input)
	if err != nil {
		t.Fatalf("conv forward failed: %v", err)
	}
	if got := out.Shape(); got[1] != 3 || got[2] != 5 || got[3] != 5 {
		t.Fatalf("unexpected output shape %v", got)
	}
	if !floatsAlmostEqual(out.Data(), ref.Data(), 1e-12) {
		t.Fatalf("conv wrapper differs from tensor.Conv2D")
	}
	if err := tensor.Sum(out).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if conv.Weight().Grad() == nil || conv.Bias().Grad() == nil {
		t.Fatalf("expected gradients on conv parameters")
	}
	conv.ZeroGrad()
	if conv.Weight().Grad() != nil {
		t.Fatalf("ZeroGrad left a gradient behind")
	}
}

func TestConvTranspose2dDoublesResolution(t *testing.T) {
	up := NewConvTranspose2d(4, 2, 2, 2, 0, true)
	out, err := up.Forward(tensor.MustNew(ramp(4*3*3), 1, 4, 3, 3))
	if err != nil {
		t.Fatalf("transposed conv failed: %v", err)
	}
	want := []int{1, 2, 6, 6}
	for i, d := range want {
		if out.Shape()[i] != d {
			t.Fatalf("unexpected output shape %v want %v", out.Shape(), want)
		}
	}
	if got := len(up.Parameters()); got != 2 {
		t.Fatalf("expected weight and bias, got %d parameters", got)
	}
}

func TestBatchNorm2dTrainEvalAndState(t *testing.T) {
	bn := NewBatchNorm2d(2, 0.5, 1e-5)
	input := tensor.MustNew([]float64{
		1, 2, 3, 4,
		10, 20, 30, 40,
	}, 1, 2, 2, 2)
	if _, err := bn.Forward(input); err != nil {
		t.Fatalf("training forward failed: %v", err)
	}
	// momentum 0.5 moves the running mean halfway from zero.
	if !floatsAlmostEqual(bn.RunningMean().Data(), []float64{1.25, 12.5}, 1e-9) {
		t.Fatalf("running mean not updated: %v", bn.RunningMean().Data())
	}

	SetTraining(false, bn)
	if bn.Training() {
		t.Fatalf("SetTraining(false) did not switch to eval")
	}
	before := bn.RunningMean().Data()
	if _, err := bn.Forward(input); err != nil {
		t.Fatalf("eval forward failed: %v", err)
	}
	if !floatsAlmostEqual(bn.RunningMean().Data(), before, 0) {
		t.Fatalf("eval forward must not touch running statistics")
	}

	state := map[string]*tensor.Tensor{}
	bn.StateDict("bn", state)
	for _, key := range []string{"bn.weight", "bn.bias", "bn.running_mean", "bn.running_var"} {
		if state[key] == nil {
			t.Fatalf("state dict missing %s", key)
		}
	}
	fresh := NewBatchNorm2d(2, 0.1, 1e-5)
	if err := fresh.LoadState("bn", state); err != nil {
		t.Fatalf("LoadState failed: %v", err)
	}
	if !floatsAlmostEqual(fresh.RunningMean().Data(), before, 0) {
		t.Fatalf("loaded running mean mismatch")
	}
	delete(state, "bn.running_var")
	if err := fresh.LoadState("bn", state); err == nil {
		t.Fatalf("expected error for missing running_var")
	}
}

func TestSaveAndLoadModule(t *testing.T) {
	conv := NewConv2d(1, 2, 3, 1, 1, true)
	bn := NewBatchNorm2d(2, 0.1, 1e-5)
	model := NewSequential(conv, bn, Relu())
	saved := conv.Weight().Data()

	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModule(path, model); err != nil {
		t.Fatalf("SaveModule failed: %v", err)
	}

	// Overwrite parameters to confirm load restores them.
	mustSetData(t, conv.Weight(), make([]float64, len(saved)))
	mustSetData(t, conv.Bias(), []float64{1, 1})

	if err := LoadModule(path, model); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	if !floatsAlmostEqual(conv.Weight().Data(), saved, 1e-9) {
		t.Fatalf("conv weight mismatch after load")
	}
	if !floatsAlmostEqual(conv.Bias().Data(), []float64{0, 0}, 1e-9) {
		t.Fatalf("conv bias mismatch after load")
	}
}

func TestSaveModuleErrorsForStateless(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stateless.json")
	if err := SaveModule(path, Relu()); err == nil {
		t.Fatalf("expected error when saving stateless module")
	}
}

func TestZeroGradAllHandlesNil(t *testing.T) {
	conv := NewConv2d(1, 1, 1, 1, 0, true)
	out, err := conv.Forward(tensor.MustNew([]float64{1, -1, 2, -2}, 1, 1, 2, 2))
	if err != nil {
		t.Fatalf("conv forward failed: %v", err)
	}
	if err := tensor.Sum(out).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	if conv.Weight().Grad() == nil {
		t.Fatalf("expected grad before ZeroGradAll")
	}
	ZeroGradAll(nil, conv)
	if conv.Weight().Grad() != nil || conv.Bias().Grad() != nil {
		t.Fatalf("ZeroGradAll should clear grads even with nil module present")
	}
}

func TestNamedParametersAreLive(t *testing.T) {
	conv := NewConv2d(1, 2, 3, 1, 1, false)
	model := NewSequential(conv, NewBatchNorm2d(2, 0.1, 1e-5), NewMaxPool2d(2, 0))
	named := NamedParameters(model)
	if len(named) != 3 {
		t.Fatalf("expected 3 named parameters, got %v", len(named))
	}
	if named["0.weight"] != conv.Weight() {
		t.Fatalf("0.weight should be the live conv weight")
	}
	if named["1.weight"] == nil || named["1.bias"] == nil {
		t.Fatalf("missing batchnorm parameters: %v", named)
	}
}

func TestSequentialTrainingLowersLoss(t *testing.T) {
	tensor.Seed(3)
	model := NewSequential(NewConv2d(1, 2, 3, 1, 1, true), Tanh(), NewConv2d(2, 1, 1, 1, 0, true))
	input := tensor.MustNew(ramp(16), 1, 1, 4, 4)
	target := tensor.Full(0.25, 1, 1, 4, 4)
	lossAt := func() *tensor.Tensor {
		out, err := model.Forward(input)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		diff, err := tensor.Sub(out, target)
		if err != nil {
			t.Fatalf("sub failed: %v", err)
		}
		return tensor.Mean(tensor.Pow(diff, 2))
	}
	first := lossAt().Item()
	for step := 0; step < 50; step++ {
		model.ZeroGrad()
		if err := lossAt().Backward(); err != nil {
			t.Fatalf("backward failed: %v", err)
		}
		for _, p := range model.Parameters() {
			if err := p.AddScaled(p.Grad(), -0.1); err != nil {
				t.Fatalf("update failed: %v", err)
			}
		}
	}
	if last := lossAt().Item(); last >= first {
		t.Fatalf("loss did not decrease: first %.6f last %.6f", first, last)
	}
}

func TestConvLSTMCellCarriesState(t *testing.T) {
	cell := NewConvLSTMCell(1, 2, 3)
	x := tensor.MustNew(ramp(2*1*4*4), 2, 1, 4, 4)
	h, c, err := cell.Step(x, nil, nil)
	if err != nil {
		t.Fatalf("first step failed: %v", err)
	}
	want := []int{2, 2, 4, 4}
	for i, d := range want {
		if h.Shape()[i] != d || c.Shape()[i] != d {
			t.Fatalf("unexpected state shapes %v %v", h.Shape(), c.Shape())
		}
	}
	for _, v := range h.Data() {
		if v <= -1 || v >= 1 {
			t.Fatalf("hidden value %v outside (-1, 1)", v)
		}
	}
	h2, _, err := cell.Step(x, h, c)
	if err != nil {
		t.Fatalf("second step failed: %v", err)
	}
	if floatsAlmostEqual(h.Data(), h2.Data(), 1e-12) {
		t.Fatalf("expected carried state to change the output")
	}
	if err := tensor.Sum(h2).Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	for _, p := range cell.Parameters() {
		if p.Grad() == nil {
			t.Fatalf("missing gradient on cell parameter")
		}
	}
	if _, _, err := cell.Step(x, tensor.Zeros(2, 3, 4, 4), nil); err == nil {
		t.Fatalf("expected hidden shape mismatch error")
	}
	if _, err := cell.Forward(tensor.Zeros(2, 3, 4, 4)); err == nil {
		t.Fatalf("expected input channel mismatch error")
	}
}

func TestActivationLookup(t *testing.T) {
	act, err := Activation("Sigmoid")
	if err != nil {
		t.Fatalf("Activation failed: %v", err)
	}
	if act.Name() != "sigmoid" {
		t.Fatalf("unexpected name %q", act.Name())
	}
	out, err := act.Forward(tensor.MustNew([]float64{0}, 1))
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if out.Data()[0] != 0.5 {
		t.Fatalf("sigmoid(0) = %v, want 0.5", out.Data()[0])
	}
	if _, err := Activation("gelu"); err == nil {
		t.Fatalf("expected unknown activation to fail")
	}
	if _, err := act.Forward(nil); err == nil {
		t.Fatalf("expected nil input to fail")
	}
}

func TestActivationConstructors(t *testing.T) {
	for _, f := range []*Functional{Relu(), Sigmoid(), Tanh()} {
		byName, err := Activation(f.Name())
		if err != nil {
			t.Fatalf("Activation(%q) failed: %v", f.Name(), err)
		}
		in := tensor.MustNew([]float64{-1, 0.5}, 2)
		want, err := byName.Forward(in)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		got, err := f.Forward(in)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		for i := range got.Data() {
			if got.Data()[i] != want.Data()[i] {
				t.Fatalf("%s(%v) = %v, want %v", f.Name(), in.Data()[i], got.Data()[i], want.Data()[i])
			}
		}
	}
	if out, _ := Tanh().Forward(tensor.MustNew([]float64{0}, 1)); out.Data()[0] != 0 {
		t.Fatalf("tanh(0) = %v, want 0", out.Data()[0])
	}
}
