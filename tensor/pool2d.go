package tensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
)

// MaxPool2D applies 2D max pooling on the input tensor.
// Input shape: [batch, channels, in_h, in_w]
func MaxPool2D(input *Tensor, kernelH, kernelW, strideH, strideW, padH, padW int) (*Tensor, error) {
	if len(input.shape) != 4 {
		return nil, fmt.Errorf("MaxPool2D expects input shape [batch, channels, height, width], got %v", input.shape)
	}
	if kernelH <= 0 || kernelW <= 0 {
		return nil, errors.New("kernel size must be positive")
	}
	if strideH <= 0 || strideW <= 0 {
		return nil, errors.New("stride must be positive")
	}
	batch, channels, inH, inW := input.shape[0], input.shape[1], input.shape[2], input.shape[3]
	outH := (inH+2*padH-kernelH)/strideH + 1
	outW := (inW+2*padW-kernelW)/strideW + 1
	if outH <= 0 || outW <= 0 {
		return nil, errors.New("invalid output size")
	}

	out := Zeros(batch, channels, outH, outW)
	// argmax holds the flat input index chosen for every output cell.
	argmax := make([]int, len(out.data))
	parallel.ForGrain(batch*channels, 1, func(start, end int) {
		for plane := start; plane < end; plane++ {
			inBase := plane * inH * inW
			outBase := plane * outH * outW
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					best, bestIdx := math.Inf(-1), -1
					for kh := 0; kh < kernelH; kh++ {
						ih := oh*strideH - padH + kh
						if ih < 0 || ih >= inH {
							continue
						}
						for kw := 0; kw < kernelW; kw++ {
							iw := ow*strideW - padW + kw
							if iw < 0 || iw >= inW {
								continue
							}
							idx := inBase + ih*inW + iw
							if v := input.data[idx]; v > best {
								best, bestIdx = v, idx
							}
						}
					}
					out.data[outBase+oh*outW+ow] = best
					argmax[outBase+oh*outW+ow] = bestIdx
				}
			}
		}
	})

	track(out, []*Tensor{input}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		gIn := Zeros(input.shape...)
		for i, src := range argmax {
			if src >= 0 {
				gIn.data[src] += grad.data[i]
			}
		}
		accumulate(grads, input, gIn)
	})
	return out, nil
}
