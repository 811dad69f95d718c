package tensor

import (
	"errors"
	"fmt"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
)

// ConvTranspose2D performs a 2D transposed convolution (deconvolution).
// Input shape: [batch, in_channels, in_h, in_w]
// Weight shape: [in_channels, out_channels, kernel_h, kernel_w]
func ConvTranspose2D(input, weight, bias *Tensor, strideH, strideW, padH, padW int) (*Tensor, error) {
	if err := checkConvArgs("ConvTranspose2D", input, weight, bias, strideH, strideW); err != nil {
		return nil, err
	}
	g := conv2dGeom{
		batch: input.shape[0], inC: input.shape[1], inH: input.shape[2], inW: input.shape[3],
		outC: weight.shape[1], kH: weight.shape[2], kW: weight.shape[3],
		strideH: strideH, strideW: strideW, padH: padH, padW: padW,
	}
	if weight.shape[0] != g.inC {
		return nil, fmt.Errorf("ConvTranspose2D weight expects %d input channels, got %d", weight.shape[0], g.inC)
	}
	g.outH = (g.inH-1)*strideH - 2*padH + g.kH
	g.outW = (g.inW-1)*strideW - 2*padW + g.kW
	if g.outH <= 0 || g.outW <= 0 {
		return nil, errors.New("invalid output size")
	}

	in, w := input.data, weight.data
	out := Zeros(g.batch, g.outC, g.outH, g.outW)
	// Each job owns one output plane, so scattered writes never race.
	parallel.ForGrain(g.batch*g.outC, 1, func(start, end int) {
		for job := start; job < end; job++ {
			n, oc := job/g.outC, job%g.outC
			dst := out.data[job*g.outH*g.outW : (job+1)*g.outH*g.outW]
			if bias != nil {
				for i := range dst {
					dst[i] = bias.data[oc]
				}
			}
			for ic := 0; ic < g.inC; ic++ {
				src := in[(n*g.inC+ic)*g.inH*g.inW:]
				ker := w[(ic*g.outC+oc)*g.kH*g.kW:]
				for ih := 0; ih < g.inH; ih++ {
					for iw := 0; iw < g.inW; iw++ {
						v := src[ih*g.inW+iw]
						if v == 0 {
							continue
						}
						for kh := 0; kh < g.kH; kh++ {
							oh := ih*strideH - padH + kh
							if oh < 0 || oh >= g.outH {
								continue
							}
							for kw := 0; kw < g.kW; kw++ {
								ow := iw*strideW - padW + kw
								if ow < 0 || ow >= g.outW {
									continue
								}
								dst[oh*g.outW+ow] += v * ker[kh*g.kW+kw]
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
						ker := w[(ic*g.outC+oc)*g.kH*g.kW:]
						for ih := 0; ih < g.inH; ih++ {
							for iw := 0; iw < g.inW; iw++ {
								acc := 0.0
								for kh := 0; kh < g.kH; kh++ {
									oh := ih*strideH - padH + kh
									if oh < 0 || oh >= g.outH {
										continue
									}
									for kw := 0; kw < g.kW; kw++ {
										ow := iw*strideW - padW + kw
										if ow < 0 || ow >= g.outW {
											continue
										}
										acc += src[oh*g.outW+ow] * ker[kh*g.kW+kw]
									}
								}
								dst[ih*g.inW+iw] += acc
							}
						}
					}
				}
			})
			accumulate(grads, input, gIn)
		}
		if weight.requiresGrad {
			gW := Zeros(weight.shape...)
			parallel.ForGrain(g.inC, 1, func(start, end int) {
				for ic := start; ic < end; ic++ {
					for n := 0; n < g.batch; n++ {
						src := in[(n*g.inC+ic)*g.inH*g.inW:]
						for oc := 0; oc < g.outC; oc++ {
							gplane := gd[(n*g.outC+oc)*g.outH*g.outW:]
							dst := gW.data[(ic*g.outC+oc)*g.kH*g.kW:]
							for ih := 0; ih < g.inH; ih++ {
								for iw := 0; iw < g.inW; iw++ {
									v := src[ih*g.inW+iw]
									if v == 0 {
										continue
									}
									for kh := 0; kh < g.kH; kh++ {
										oh := ih*strideH - padH + kh
										if oh < 0 || oh >= g.outH {
											continue
										}
										for kw := 0; kw < g.kW; kw++ {
											ow := iw*strideW - padW + kw
											if ow < 0 || ow >= g.outW {
												continue
											}
											dst[kh*g.kW+kw] += v * gplane[oh*g.outW+ow]
										}
									}
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
