package tensor

import (
	"errors"
	"fmt"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
)

// copyBlocks moves size*inner contiguous values per outer index between a
// tensor laid out with srcAxis entries on the axis and one with dstAxis.
func copyBlocks(dst, src []float64, outer, inner, size, dstAxis, dstOff, srcAxis, srcOff int) {
	block := size * inner
	parallel.For(outer, func(start, end int) {
		for o := start; o < end; o++ {
			d := (o*dstAxis + dstOff) * inner
			s := (o*srcAxis + srcOff) * inner
			copy(dst[d:d+block], src[s:s+block])
		}
	})
}

// Concat joins tensors along axis. All other dimensions must agree.
func Concat(axis int, tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("Concat requires at least one tensor")
	}
	base := tensors[0]
	outer, _, inner, axis, err := axisLayout(base.shape, axis)
	if err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}
	outShape := base.Shape()
	outShape[axis] = 0
	for _, t := range tensors {
		if len(t.shape) != len(base.shape) {
			return nil, fmt.Errorf("Concat: rank mismatch %v vs %v", t.shape, base.shape)
		}
		for d := range t.shape {
			if d != axis && t.shape[d] != base.shape[d] {
				return nil, fmt.Errorf("Concat: %w: %v vs %v", ErrShapeMismatch, t.shape, base.shape)
			}
		}
		outShape[axis] += t.shape[axis]
	}
	out := Zeros(outShape...)
	offset := 0
	for _, t := range tensors {
		size := t.shape[axis]
		copyBlocks(out.data, t.data, outer, inner, size, outShape[axis], offset, size, 0)
		offset += size
	}
	track(out, tensors, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		offset := 0
		for _, t := range tensors {
			size := t.shape[axis]
			if t.requiresGrad {
				g := Zeros(t.shape...)
				copyBlocks(g.data, grad.data, outer, inner, size, size, 0, outShape[axis], offset)
				accumulate(grads, t, g)
			}
			offset += size
		}
	})
	return out, nil
}

// Split cuts t along axis into consecutive parts of the given sizes.
func Split(axis int, sizes []int, t *Tensor) ([]*Tensor, error) {
	if len(sizes) == 0 {
		return nil, errors.New("Split requires at least one size")
	}
	outer, axisLen, inner, axis, err := axisLayout(t.shape, axis)
	if err != nil {
		return nil, fmt.Errorf("Split: %w", err)
	}
	total := 0
	for _, s := range sizes {
		if s <= 0 {
			return nil, errors.New("split sizes must be positive")
		}
		total += s
	}
	if total != axisLen {
		return nil, fmt.Errorf("Split: sizes sum to %d, axis has %d", total, axisLen)
	}
	parts := make([]*Tensor, len(sizes))
	offset := 0
	for i, size := range sizes {
		shape := t.Shape()
		shape[axis] = size
		part := Zeros(shape...)
		copyBlocks(part.data, t.data, outer, inner, size, size, 0, axisLen, offset)
		partOffset := offset
		track(part, []*Tensor{t}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
			g := Zeros(t.shape...)
			copyBlocks(g.data, grad.data, outer, inner, size, axisLen, partOffset, size, 0)
			accumulate(grads, t, g)
		})
		parts[i] = part
		offset += size
	}
	return parts, nil
}
