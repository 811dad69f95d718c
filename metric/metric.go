// Package metric evaluates depth predictions. Metrics never record
// gradients and report NaN when a batch has nothing to measure.
package metric

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fumitoshi0524/depthnet/calib"
	"github.com/fumitoshi0524/depthnet/tensor"
)

// Func scores a model output against its target.
type Func func(output, target *tensor.Tensor) (float64, error)

// Accuracy is the fraction of rows whose argmax over axis 1 equals the
// integer label in target.
func Accuracy(output, target *tensor.Tensor) (float64, error) {
	return TopKAccuracy(output, target, 1)
}

// TopKAccuracy counts a row as correct when its label is among the k
// largest scores along axis 1.
func TopKAccuracy(output, target *tensor.Tensor, k int) (float64, error) {
	top, err := tensor.TopK(output, 1, k)
	if err != nil {
		return math.NaN(), err
	}
	labels := target.Data()
	if len(top) != len(labels) {
		return math.NaN(), fmt.Errorf("metric: %d predictions for %d labels", len(top), len(labels))
	}
	if len(labels) == 0 {
		return math.NaN(), nil
	}
	correct := 0
	for i, idx := range top {
		for _, c := range idx {
			if c == int(labels[i]) {
				correct++
				break
			}
		}
	}
	return float64(correct) / float64(len(labels)), nil
}

// depthMetric binds a reduction over the shared depth space to proj.
func depthMetric(proj *calib.Projection, f func(ds *depthSpace) (float64, error)) Func {
	return func(output, target *tensor.Tensor) (float64, error) {
		ds, err := newDepthSpace(proj, output, target)
		if err != nil {
			return math.NaN(), err
		}
		return f(ds)
	}
}

func squared(out, tgt float64) float64 { return (out - tgt) * (out - tgt) }

func absolute(out, tgt float64) float64 { return math.Abs(out - tgt) }

func MeanSquareError(proj *calib.Projection) Func {
	return depthMetric(proj, func(ds *depthSpace) (float64, error) {
		return ds.reduce(ds.isValid, squared), nil
	})
}

func MeanAbsoluteError(proj *calib.Projection) Func {
	return depthMetric(proj, func(ds *depthSpace) (float64, error) {
		return ds.reduce(ds.isValid, absolute), nil
	})
}

// MeanAbsoluteErrorWithin restricts MeanAbsoluteError to pixels whose
// clamped metric depth is at most limit metres.
func MeanAbsoluteErrorWithin(proj *calib.Projection, limit float64) Func {
	return depthMetric(proj, func(ds *depthSpace) (float64, error) {
		return ds.reduce(ds.within(limit), absolute), nil
	})
}

func AbsRelError(proj *calib.Projection) Func {
	return depthMetric(proj, func(ds *depthSpace) (float64, error) {
		return ds.reduce(ds.positive, func(out, tgt float64) float64 {
			return math.Abs(out-tgt) / tgt
		}), nil
	})
}

func Lg10Error(proj *calib.Projection) Func {
	return depthMetric(proj, func(ds *depthSpace) (float64, error) {
		return ds.reduce(ds.positive, func(out, tgt float64) float64 {
			return math.Abs(math.Log10(out) - math.Log10(tgt))
		}), nil
	})
}

// DeltaError is the fraction of pixels with max(out/tgt, tgt/out) within
// 1.25^power.
func DeltaError(proj *calib.Projection, power int) Func {
	threshold := math.Pow(1.25, float64(power))
	return depthMetric(proj, func(ds *depthSpace) (float64, error) {
		return ds.reduce(ds.positive, func(out, tgt float64) float64 {
			if math.Max(out/tgt, tgt/out) <= threshold {
				return 1
			}
			return 0
		}), nil
	})
}

// SSIMError is 1 - SSIM between normalised target depth and decoded
// output depth, with the output zeroed at invalid pixels.
func SSIMError(proj *calib.Projection) Func {
	return depthMetric(proj, func(ds *depthSpace) (float64, error) {
		if !ds.hasValid() {
			return math.NaN(), nil
		}
		out := make([]float64, len(ds.output))
		for i, v := range ds.output {
			if ds.valid[i] {
				out[i] = v
			}
		}
		s, err := SSIM(ds.target, out, ds.images, ds.height, ds.width)
		return 1 - s, err
	})
}

// LogSSIMError is 1 - SSIM in log-depth space: the target is encoded with
// ToLogDepth and the raw output is compared directly.
func LogSSIMError(proj *calib.Projection) Func {
	return depthMetric(proj, func(ds *depthSpace) (float64, error) {
		if !ds.hasValid() {
			return math.NaN(), nil
		}
		tgt := make([]float64, len(ds.metricDepth))
		out := make([]float64, len(ds.logOutput))
		for i, ok := range ds.valid {
			if ok {
				tgt[i] = ToLogDepth(ds.metricDepth[i])
				out[i] = ds.logOutput[i]
			}
		}
		s, err := SSIM(tgt, out, ds.images, ds.height, ds.width)
		return 1 - s, err
	})
}

var registry = map[string]func(proj *calib.Projection) Func{
	"accuracy": func(*calib.Projection) Func { return Accuracy },
	"top_k_acc": func(*calib.Projection) Func {
		return func(output, target *tensor.Tensor) (float64, error) {
			return TopKAccuracy(output, target, 3)
		}
	},
	"mean_square_error":      MeanSquareError,
	"mean_absolute_error":    MeanAbsoluteError,
	"abs_rel_error":          AbsRelError,
	"lg10_error":             Lg10Error,
	"delta1_error":           func(p *calib.Projection) Func { return DeltaError(p, 1) },
	"delta2_error":           func(p *calib.Projection) Func { return DeltaError(p, 2) },
	"delta3_error":           func(p *calib.Projection) Func { return DeltaError(p, 3) },
	"mean_absolute_error_10": func(p *calib.Projection) Func { return MeanAbsoluteErrorWithin(p, 10) },
	"mean_absolute_error_20": func(p *calib.Projection) Func { return MeanAbsoluteErrorWithin(p, 20) },
	"mean_absolute_error_30": func(p *calib.Projection) Func { return MeanAbsoluteErrorWithin(p, 30) },
	"ssim_error":             SSIMError,
	"log_ssim_error":         LogSSIMError,
}

var classification = map[string]bool{"accuracy": true, "top_k_acc": true}

// Names lists every registered metric in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the metric registered under name. Depth metrics need proj.
func Lookup(name string, proj *calib.Projection) (Func, error) {
	build, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q (have %s)", name, strings.Join(Names(), ", "))
	}
	if proj == nil && !classification[name] {
		return nil, fmt.Errorf("metric %s needs a projection matrix", name)
	}
	return build(proj), nil
}

// Named pairs a metric with the key it is tracked under.
type Named struct {
	Name string
	Fn   Func
}

// LookupAll resolves names in order.
func LookupAll(names []string, proj *calib.Projection) ([]Named, error) {
	out := make([]Named, 0, len(names))
	for _, n := range names {
		fn, err := Lookup(n, proj)
		if err != nil {
			return nil, err
		}
		out = append(out, Named{Name: n, Fn: fn})
	}
	return out, nil
}
