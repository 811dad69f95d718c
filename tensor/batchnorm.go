package tensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
)

// BatchNorm2D normalizes a [batch, channels, H, W] tensor per channel.
// In training mode batch statistics are used and the running estimates are
// updated with momentum; in eval mode the running estimates are used.
func BatchNorm2D(input, runningMean, runningVar, weight, bias *Tensor, momentum, eps float64, training bool) (*Tensor, error) {
	if input == nil {
		return nil, errors.New("BatchNorm2D requires input tensor")
	}
	if len(input.shape) != 4 {
		return nil, fmt.Errorf("BatchNorm2D expects input shape [batch, channels, height, width], got %v", input.shape)
	}
	batch, channels := input.shape[0], input.shape[1]
	plane := input.shape[2] * input.shape[3]
	for name, t := range map[string]*Tensor{"running mean": runningMean, "running var": runningVar, "weight": weight, "bias": bias} {
		if t != nil && (len(t.shape) != 1 || t.shape[0] != channels) {
			return nil, fmt.Errorf("BatchNorm2D %s must have shape [%d]", name, channels)
		}
	}
	count := float64(batch * plane)
	mean := make([]float64, channels)
	invStd := make([]float64, channels)

	if training {
		if batch*plane < 2 {
			return nil, errors.New("BatchNorm2D needs more than one value per channel in training mode")
		}
		parallel.ForGrain(channels, 1, func(start, end int) {
			for c := start; c < end; c++ {
				sum, sq := 0.0, 0.0
				for n := 0; n < batch; n++ {
					for _, v := range input.data[(n*channels+c)*plane : (n*channels+c+1)*plane] {
						sum += v
					}
				}
				mean[c] = sum / count
				for n := 0; n < batch; n++ {
					for _, v := range input.data[(n*channels+c)*plane : (n*channels+c+1)*plane] {
						d := v - mean[c]
						sq += d * d
					}
				}
				variance := sq / count
				invStd[c] = 1 / math.Sqrt(variance+eps)
				if runningMean != nil {
					runningMean.data[c] = (1-momentum)*runningMean.data[c] + momentum*mean[c]
				}
				if runningVar != nil {
					unbiased := sq / (count - 1)
					runningVar.data[c] = (1-momentum)*runningVar.data[c] + momentum*unbiased
				}
			}
		})
	} else {
		if runningMean == nil || runningVar == nil {
			return nil, errors.New("BatchNorm2D eval requires running statistics")
		}
		for c := 0; c < channels; c++ {
			mean[c] = runningMean.data[c]
			invStd[c] = 1 / math.Sqrt(runningVar.data[c]+eps)
		}
	}

	gamma := func(c int) float64 {
		if weight == nil {
			return 1
		}
		return weight.data[c]
	}
	out := Zeros(input.shape...)
	xhat := make([]float64, len(input.data))
	parallel.ForGrain(batch*channels, 1, func(start, end int) {
		for job := start; job < end; job++ {
			c := job % channels
			for i := job * plane; i < (job+1)*plane; i++ {
				xhat[i] = (input.data[i] - mean[c]) * invStd[c]
				v := xhat[i] * gamma(c)
				if bias != nil {
					v += bias.data[c]
				}
				out.data[i] = v
			}
		}
	})

	track(out, []*Tensor{input, weight, bias}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		sumG := make([]float64, channels)
		sumGX := make([]float64, channels)
		for n := 0; n < batch; n++ {
			for c := 0; c < channels; c++ {
				for i := (n*channels + c) * plane; i < (n*channels+c+1)*plane; i++ {
					sumG[c] += grad.data[i]
					sumGX[c] += grad.data[i] * xhat[i]
				}
			}
		}
		if input.requiresGrad {
			gIn := Zeros(input.shape...)
			parallel.ForGrain(batch*channels, 1, func(start, end int) {
				for job := start; job < end; job++ {
					c := job % channels
					scale := gamma(c) * invStd[c]
					for i := job * plane; i < (job+1)*plane; i++ {
						if training {
							gIn.data[i] = scale * (grad.data[i] - sumG[c]/count - xhat[i]*sumGX[c]/count)
						} else {
							gIn.data[i] = scale * grad.data[i]
						}
					}
				}
			})
			accumulate(grads, input, gIn)
		}
		if weight != nil && weight.requiresGrad {
			accumulate(grads, weight, MustNew(sumGX, channels))
		}
		if bias != nil && bias.requiresGrad {
			accumulate(grads, bias, MustNew(sumG, channels))
		}
	})
	return out, nil
}
