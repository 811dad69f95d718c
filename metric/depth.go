package metric

import (
	"fmt"
	"math"

	"github.com/fumitoshi0524/depthnet/calib"
	"github.com/fumitoshi0524/depthnet/tensor"
)

const (
	// MaxDepth caps metric depth in metres.
	MaxDepth = 80.0
	// LogAlpha scales the log-depth encoding produced by the network.
	LogAlpha = 3.7
)

// FromLogDepth decodes a network output in [0, 1] to metric depth.
func FromLogDepth(x float64) float64 {
	return MaxDepth * math.Exp(-LogAlpha*(1-x))
}

// ToLogDepth encodes metric depth into [0, 1], the inverse of FromLogDepth
// clamped to its range. Depths that are not positive, NaN included, map to 0.
func ToLogDepth(d float64) float64 {
	if !(d > 0) {
		return 0
	}
	v := 1 + math.Log(d/MaxDepth)/LogAlpha
	return math.Min(math.Max(v, 0), 1)
}

// depthSpace is a batch moved into the space the depth metrics compare in.
type depthSpace struct {
	images, height, width int
	valid                 []bool
	// raw is the clamped metric depth before normalisation, 0 at invalid
	// pixels.
	raw    []float64
	target []float64
	output []float64
	// metricDepth is the unclamped reprojected target.
	metricDepth []float64
	logOutput   []float64
}

// newDepthSpace reprojects target with proj.MetricDepth, clamps it to
// [0, MaxDepth], rescales every image so its farthest valid pixel sits at
// MaxDepth and decodes output with FromLogDepth.
func newDepthSpace(proj *calib.Projection, output, target *tensor.Tensor) (*depthSpace, error) {
	shape := target.Shape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("metric: target must be at least [H, W], got %v", shape)
	}
	if output.Numel() != target.Numel() {
		return nil, fmt.Errorf("metric: output %v does not match target %v", output.Shape(), shape)
	}
	h, w := shape[len(shape)-2], shape[len(shape)-1]
	ds := &depthSpace{
		images: target.Numel() / (h * w),
		height: h,
		width:  w,
	}
	td := target.Data()
	ds.metricDepth = proj.MetricDepth(target).Data()
	ds.valid = make([]bool, len(td))
	ds.raw = make([]float64, len(td))
	for i, v := range td {
		if v == 0 {
			continue
		}
		ds.valid[i] = true
		ds.raw[i] = math.Min(math.Max(ds.metricDepth[i], 0), MaxDepth)
	}

	ds.target = make([]float64, len(td))
	plane := h * w
	for img := 0; img < ds.images; img++ {
		part := ds.raw[img*plane : (img+1)*plane]
		peak := 0.0
		for _, v := range part {
			peak = math.Max(peak, v)
		}
		if peak == 0 {
			continue
		}
		for i, v := range part {
			ds.target[img*plane+i] = v / peak * MaxDepth
		}
	}

	ds.logOutput = output.Data()
	ds.output = make([]float64, len(ds.logOutput))
	for i, v := range ds.logOutput {
		ds.output[i] = FromLogDepth(v)
	}
	return ds, nil
}

// reduce averages f over the pixels accepted by keep. It returns NaN when
// no pixel is accepted.
func (ds *depthSpace) reduce(keep func(i int) bool, f func(out, tgt float64) float64) float64 {
	sum, n := 0.0, 0
	for i := range ds.target {
		if !keep(i) {
			continue
		}
		sum += f(ds.output[i], ds.target[i])
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func (ds *depthSpace) isValid(i int) bool {
	return ds.valid[i]
}

// positive accepts valid pixels whose normalised depth is above zero, so
// ratios and logarithms stay finite.
func (ds *depthSpace) positive(i int) bool {
	return ds.valid[i] && ds.target[i] > 0
}

func (ds *depthSpace) within(limit float64) func(i int) bool {
	return func(i int) bool {
		return ds.valid[i] && ds.raw[i] <= limit
	}
}

func (ds *depthSpace) hasValid() bool {
	for _, v := range ds.valid {
		if v {
			return true
		}
	}
	return false
}
