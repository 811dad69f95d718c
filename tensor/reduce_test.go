package tensor

import (
	"math"
	"testing"
)

func TestSumMeanGradients(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6}
	if got := Sum(MustNew(vals, 2, 3)).Item(); got != 21 {
		t.Fatalf("Sum: got %v want 21", got)
	}
	if got := Mean(MustNew(vals, 2, 3)).Item(); math.Abs(got-3.5) > 1e-12 {
		t.Fatalf("Mean: got %v want 3.5", got)
	}
	checkGrad(t, "mean", vals, []int{2, 3}, func(x *Tensor) (*Tensor, error) {
		return Mean(Pow(x, 2)), nil
	})
}

func TestArgmaxAndTopK(t *testing.T) {
	logits := MustNew([]float64{
		0.1, 0.7, 0.2,
		0.9, 0.05, 0.05,
	}, 2, 3)
	idx, shape, err := Argmax(logits, 1)
	if err != nil {
		t.Fatalf("Argmax failed: %v", err)
	}
	if !equalShapes(shape, []int{2}) || idx[0] != 1 || idx[1] != 0 {
		t.Fatalf("Argmax: got %v shape %v", idx, shape)
	}
	top, err := TopK(logits, 1, 2)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if top[0][0] != 1 || top[0][1] != 2 || top[1][0] != 0 {
		t.Fatalf("TopK: got %v", top)
	}
	if _, err := TopK(logits, 1, 4); err == nil {
		t.Fatalf("expected k out of range error")
	}
	if _, _, err := Argmax(logits, 3); err == nil {
		t.Fatalf("expected axis error")
	}
}

func TestConcatSplitRoundTrip(t *testing.T) {
	a := MustNew([]float64{1, 2, 3, 4}, 1, 2, 2)
	b := MustNew([]float64{5, 6}, 1, 1, 2)
	joined, err := Concat(1, a, b)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if want := []float64{1, 2, 3, 4, 5, 6}; !AlmostEqualSlices(joined.Data(), want, 0) {
		t.Fatalf("Concat: got %v", joined.Data())
	}
	parts, err := Split(1, []int{2, 1}, joined)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if !AlmostEqualSlices(parts[0].Data(), a.Data(), 0) || !AlmostEqualSlices(parts[1].Data(), b.Data(), 0) {
		t.Fatalf("Split did not invert Concat: %v %v", parts[0].Data(), parts[1].Data())
	}
	checkGrad(t, "concat-split", []float64{1, 2, 3, 4, 5, 6}, []int{2, 3}, func(x *Tensor) (*Tensor, error) {
		ps, err := Split(1, []int{1, 2}, x)
		if err != nil {
			return nil, err
		}
		j, err := Concat(1, ps[1], ps[0])
		if err != nil {
			return nil, err
		}
		return weightedSum(j)
	})
}

func TestReshapeInfersDimension(t *testing.T) {
	x := Ones(2, 3, 4)
	y, err := x.Reshape(2, -1)
	if err != nil {
		t.Fatalf("Reshape failed: %v", err)
	}
	if !equalShapes(y.Shape(), []int{2, 12}) {
		t.Fatalf("unexpected shape %v", y.Shape())
	}
	if _, err := x.Reshape(5, -1); err == nil {
		t.Fatalf("expected inference error")
	}
}
