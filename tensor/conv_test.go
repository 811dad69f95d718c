package tensor

import "testing"

func TestConv2DForwardKnownValues(t *testing.T) {
	input := MustNew([]float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 1, 3, 3)
	weight := MustNew([]float64{1, 0, 0, -1}, 1, 1, 2, 2)
	bias := MustNew([]float64{0.5}, 1)

	out, err := Conv2D(input, weight, bias, 1, 1, 0, 0)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !equalShapes(out.Shape(), []int{1, 1, 2, 2}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	want := []float64{-3.5, -3.5, -3.5, -3.5}
	if !AlmostEqualSlices(out.Data(), want, 1e-12) {
		t.Fatalf("unexpected output: got %v want %v", out.Data(), want)
	}
}

func TestConv2DPaddingKeepsSize(t *testing.T) {
	input := Ones(2, 3, 5, 4)
	weight := Ones(6, 3, 3, 3)
	out, err := Conv2D(input, weight, nil, 1, 1, 1, 1)
	if err != nil {
		t.Fatalf("Conv2D failed: %v", err)
	}
	if !equalShapes(out.Shape(), []int{2, 6, 5, 4}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	// corner sees a 2x2 window per channel, centre sees the full 3x3 window.
	if got := out.Data()[0]; got != 12 {
		t.Fatalf("corner value: got %v want 12", got)
	}
	if got := out.Data()[1*4+1]; got != 27 {
		t.Fatalf("centre value: got %v want 27", got)
	}
}

func TestConv2DGradients(t *testing.T) {
	inShape := []int{2, 2, 4, 3}
	wShape := []int{3, 2, 3, 2}
	inVals := ramp(2*2*4*3, 0.5)
	wVals := ramp(3*2*3*2, 0.2)
	bias := MustNew([]float64{0.1, -0.2, 0.3}, 3)

	checkGrad(t, "conv2d input", inVals, inShape, func(x *Tensor) (*Tensor, error) {
		out, err := Conv2D(x, MustNew(wVals, wShape...), bias, 2, 1, 1, 0)
		if err != nil {
			return nil, err
		}
		return weightedSum(out)
	})
	checkGrad(t, "conv2d weight", wVals, wShape, func(w *Tensor) (*Tensor, error) {
		out, err := Conv2D(MustNew(inVals, inShape...), w, bias, 2, 1, 1, 0)
		if err != nil {
			return nil, err
		}
		return weightedSum(out)
	})
	checkGrad(t, "conv2d bias", []float64{0.1, -0.2, 0.3}, []int{3}, func(b *Tensor) (*Tensor, error) {
		out, err := Conv2D(MustNew(inVals, inShape...), MustNew(wVals, wShape...), b, 2, 1, 1, 0)
		if err != nil {
			return nil, err
		}
		return weightedSum(out)
	})
}

func TestConv2DRejectsChannelMismatch(t *testing.T) {
	if _, err := Conv2D(Ones(1, 2, 4, 4), Ones(1, 3, 3, 3), nil, 1, 1, 1, 1); err == nil {
		t.Fatalf("expected channel mismatch error")
	}
	if _, err := Conv2D(Ones(1, 2, 4), Ones(1, 2, 3, 3), nil, 1, 1, 1, 1); err == nil {
		t.Fatalf("expected rank error")
	}
}

func TestConvTranspose2DDoublesResolution(t *testing.T) {
	input := MustNew([]float64{1, 2, 3, 4}, 1, 1, 2, 2)
	weight := Ones(1, 1, 2, 2)
	out, err := ConvTranspose2D(input, weight, nil, 2, 2, 0, 0)
	if err != nil {
		t.Fatalf("ConvTranspose2D failed: %v", err)
	}
	want := []float64{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}
	if !equalShapes(out.Shape(), []int{1, 1, 4, 4}) {
		t.Fatalf("unexpected shape %v", out.Shape())
	}
	if !AlmostEqualSlices(out.Data(), want, 1e-12) {
		t.Fatalf("unexpected output: got %v want %v", out.Data(), want)
	}
}

func TestConvTranspose2DGradients(t *testing.T) {
	inShape := []int{2, 3, 2, 3}
	wShape := []int{3, 2, 2, 2}
	inVals := ramp(2*3*2*3, 0.4)
	wVals := ramp(3*2*2*2, 0.3)
	bias := MustNew([]float64{0.05, -0.1}, 2)

	checkGrad(t, "transpose input", inVals, inShape, func(x *Tensor) (*Tensor, error) {
		out, err := ConvTranspose2D(x, MustNew(wVals, wShape...), bias, 2, 2, 0, 0)
		if err != nil {
			return nil, err
		}
		return weightedSum(out)
	})
	checkGrad(t, "transpose weight", wVals, wShape, func(w *Tensor) (*Tensor, error) {
		out, err := ConvTranspose2D(MustNew(inVals, inShape...), w, bias, 2, 2, 0, 0)
		if err != nil {
			return nil, err
		}
		return weightedSum(out)
	})
}
