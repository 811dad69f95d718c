package tensor

import (
	"errors"
	"fmt"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
)

// conv2dGeom holds the sizes shared by the forward and backward passes of
// the 2D convolution kernels.
type conv2dGeom struct {
	batch, inC, inH, inW int
	outC, outH, outW     int
	kH, kW               int
	strideH, strideW     int
	padH, padW           int
}

func checkConvArgs(name string, input, weight, bias *Tensor, strideH, strideW int) error {
	if len(input.shape) != 4 {
		return fmt.Errorf("%s expects input shape [batch, channels, height, width], got %v", name, input.shape)
	}
	if len(weight.shape) != 4 {
		return fmt.Errorf("%s expects a rank 4 weight, got %v", name, weight.shape)
	}
	if bias != nil && len(bias.shape) != 1 {
		return fmt.Errorf("bias for %s must be rank 1", name)
	}
	if strideH <= 0 || strideW <= 0 {
		return errors.New("stride must be positive")
	}
	return nil
}

// Conv2D performs a 2D convolution over the input tensor with the provided weights and optional bias.
// Input shape: [batch, in_channels, in_h, in_w]
// Weight shape: [out_channels, in_channels, kernel_h, kernel_w]
// Bias shape (optional): [out_channels]
func Conv2D(input, weight, bias *Tensor, strideH, strideW, padH, padW int) (*Tensor, error) {
	if err := checkConvArgs("Conv2D", input, weight, bias, strideH, strideW); err != nil {
		return nil, err
	}
	g := conv2dGeom{
		batch: input.shape[0], inC: input.shape[1], inH: input.shape[2], inW: input.shape[3],
		outC: weight.shape[0], kH: weight.shape[2], kW: weight.shape[3],
		strideH: strideH, strideW: strideW, padH: padH, padW: padW,
	}
	if weight.shape[1] != g.inC {
		return nil, fmt.Errorf("Conv2D kernel expects %d input channels, got %d", weight.shape[1], g.inC)
	}
	if bias != nil && bias.shape[0] != g.outC {
		return nil, fmt.Errorf("Conv2D bias has %d entries for %d output channels", bias.shape[0], g.outC)
	}
	g.outH = (g.inH+2*padH-g.kH)/strideH + 1
	g.outW = (g.inW+2*padW-g.kW)/strideW + 1
	if g.outH <= 0 || g.outW <= 0 {
		return nil, errors.New("invalid output size")
	}

	in, w := input.data, weight.data
	out := Zeros(g.batch, g.outC, g.outH, g.outW)
	parallel.ForGrain(g.batch*g.outC, 1, func(start, end int) {
		for job := start; job < end; job++ {
			n, oc := job/g.outC, job%g.outC
			b := 0.0
			if bias != nil {
				b = bias.data[oc]
			}
			dst := out.data[job*g.outH*g.outW : (job+1)*g.outH*g.outW]
			for i := range dst {
				dst[i] = b
			}
			for ic := 0; ic < g.inC; ic++ {
				src := in[(n*g.inC+ic)*g.inH*g.inW:]
				ker := w[(oc*g.inC+ic)*g.kH*g.kW:]
				for kh := 0; kh < g.kH; kh++ {
					for kw := 0; kw < g.kW; kw++ {
						wv := ker[kh*g.kW+kw]
						for oh := 0; oh < g.outH; oh++ {
							ih := oh*strideH - padH + kh
							if ih < 0 || ih >= g.inH {
								continue
							}
							row := dst[oh*g.outW:]
							for ow := 0; ow < g.outW; ow++ {
								iw := ow*strideW - padW + kw
								if iw < 0 || iw >= g.inW {
									continue
								}
								row[ow] += wv * src[ih*g.inW+iw]
							}
						}
					}
				}
			}
		}
	})

	track(out, []*Tensor{input, weight, bias}, func(grad *Tensor, grads map[*Tensor]*Tensor) {
		gd := grad.data
		if input.requiresGrad {
			gIn := Zeros(input.shape...)
			parallel.ForGrain(g.batch*g.inC, 1, func(start, end int) {
				for job := start; job < end; job++ {
					n, ic := job/g.inC, job%g.inC
					dst := gIn.data[job*g.inH*g.inW:]
					for oc := 0; oc < g.outC; oc++ {
						src := gd[(n*g.outC+oc)*g.outH*g.outW:]
						ker := w[(oc*g.inC+ic)*g.kH*g.kW:]
						for kh := 0; kh < g.kH; kh++ {
							for kw := 0; kw < g.kW; kw++ {
								wv := ker[kh*g.kW+kw]
								for oh := 0; oh < g.outH; oh++ {
									ih := oh*strideH - padH + kh
									if ih < 0 || ih >= g.inH {
										continue
									}
									for ow := 0; ow < g.outW; ow++ {
										iw := ow*strideW - padW + kw
										if iw < 0 || iw >= g.inW {
											continue
										}
										dst[ih*g.inW+iw] += wv * src[oh*g.outW+ow]
									}
								}
							}
						}
					}
				}
			})
			accumulate(grads, input, gIn)
		}
		if weight.requiresGrad {
			gW := Zeros(weight.shape...)
			parallel.ForGrain(g.outC, 1, func(start, end int) {
				for oc := start; oc < end; oc++ {
					for n := 0; n < g.batch; n++ {
						src := gd[(n*g.outC+oc)*g.outH*g.outW:]
						for ic := 0; ic < g.inC; ic++ {
							img := in[(n*g.inC+ic)*g.inH*g.inW:]
							dst := gW.data[(oc*g.inC+ic)*g.kH*g.kW:]
							for kh := 0; kh < g.kH; kh++ {
								for kw := 0; kw < g.kW; kw++ {
									acc := 0.0
									for oh := 0; oh < g.outH; oh++ {
										ih := oh*strideH - padH + kh
										if ih < 0 || ih >= g.inH {
											continue
										}
										for ow := 0; ow < g.outW; ow++ {
											iw := ow*strideW - padW + kw
											if iw < 0 || iw >= g.inW {
												continue
											}
											acc += img[ih*g.inW+iw] * src[oh*g.outW+ow]
										}
									}
									dst[kh*g.kW+kw] += acc
								}
							}
						}
					}
				}
			})
			accumulate(grads, weight, gW)
		}
		if bias != nil && bias.requiresGrad {
			accumulate(grads, bias, channelSums(gd, g.batch, g.outC, g.outH*g.outW))
		}
	})
	return out, nil
}

// channelSums reduces a [batch, channels, plane] buffer to per-channel totals.
func channelSums(data []float64, batch, channels, plane int) *Tensor {
	out := Zeros(channels)
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			base := (n*channels + c) * plane
			for i := 0; i < plane; i++ {
				out.data[c] += data[base+i]
			}
		}
	}
	return out
}
