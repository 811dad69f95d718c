package tensor

import (
	"errors"
	"fmt"
	"sort"
)

func Sum(a *Tensor) *Tensor {
	total := 0.0
	for _, v := range a.data {
		total += v
	}
	out := MustNew([]float64{total}, 1)
	track(out, []*Tensor{a}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, Full(grad.data[0], a.shape...))
	})
	return out
}

func Mean(a *Tensor) *Tensor {
	scale := 1.0 / float64(a.Numel())
	total := 0.0
	for _, v := range a.data {
		total += v
	}
	out := MustNew([]float64{total * scale}, 1)
	track(out, []*Tensor{a}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		accumulate(grads, a, Full(grad.data[0]*scale, a.shape...))
	})
	return out
}

// axisLayout splits a shape around axis into outer, axis and inner extents.
func axisLayout(shape []int, axis int) (outer, size, inner, norm int, err error) {
	rank := len(shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, 0, 0, 0, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < rank; i++ {
		inner *= shape[i]
	}
	return outer, shape[axis], inner, axis, nil
}

func dropAxis(shape []int, axis int) []int {
	out := make([]int, 0, len(shape)-1)
	for i, dim := range shape {
		if i != axis {
			out = append(out, dim)
		}
	}
	if len(out) == 0 {
		out = []int{1}
	}
	return out
}

// Argmax returns, for every position of the remaining axes, the index of
// the largest value along axis. The result shape is a's shape with axis
// removed.
func Argmax(a *Tensor, axis int) ([]int, []int, error) {
	outer, size, inner, norm, err := axisLayout(a.shape, axis)
	if err != nil {
		return nil, nil, err
	}
	idx := make([]int, outer*inner)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in
			best := 0
			for k := 1; k < size; k++ {
				if a.data[base+k*inner] > a.data[base+best*inner] {
					best = k
				}
			}
			idx[o*inner+in] = best
		}
	}
	return idx, dropAxis(a.shape, norm), nil
}

// TopK returns the indices of the k largest values along axis, ordered from
// largest to smallest. The result holds k indices per remaining position.
func TopK(a *Tensor, axis, k int) ([][]int, error) {
	outer, size, inner, _, err := axisLayout(a.shape, axis)
	if err != nil {
		return nil, err
	}
	if k <= 0 || k > size {
		return nil, errors.New("TopK: k must be within (0, axis size]")
	}
	out := make([][]int, outer*inner)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in
			order := make([]int, size)
			for i := range order {
				order[i] = i
			}
			sort.SliceStable(order, func(i, j int) bool {
				return a.data[base+order[i]*inner] > a.data[base+order[j]*inner]
			})
			out[o*inner+in] = order[:k]
		}
	}
	return out, nil
}
