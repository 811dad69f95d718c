package summary

import "math"

// Histogram is the summary of a value distribution in TensorBoard's
// HistogramProto layout: Bucket[i] counts values in
// (BucketLimit[i-1], BucketLimit[i]].
type Histogram struct {
	Min, Max, Num, Sum, SumSquares float64
	BucketLimit                    []float64
	Bucket                         []float64
}

// NewHistogram bins values into equal-width buckets, using Sturges' rule
// for the bucket count. Non-finite values are skipped.
func NewHistogram(values []float64) Histogram {
	h := Histogram{Min: math.Inf(1), Max: math.Inf(-1)}
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite = append(finite, v)
		h.Min = math.Min(h.Min, v)
		h.Max = math.Max(h.Max, v)
		h.Sum += v
		h.SumSquares += v * v
	}
	h.Num = float64(len(finite))
	if len(finite) == 0 {
		h.Min, h.Max = 0, 0
		return h
	}
	if h.Max == h.Min {
		h.BucketLimit = []float64{h.Max}
		h.Bucket = []float64{h.Num}
		return h
	}
	bins := int(math.Ceil(math.Log2(float64(len(finite))))) + 1
	width := (h.Max - h.Min) / float64(bins)
	h.BucketLimit = make([]float64, bins)
	h.Bucket = make([]float64, bins)
	for i := range h.BucketLimit {
		h.BucketLimit[i] = h.Min + width*float64(i+1)
	}
	h.BucketLimit[bins-1] = h.Max
	for _, v := range finite {
		i := int(math.Ceil((v-h.Min)/width)) - 1
		i = min(max(i, 0), bins-1)
		h.Bucket[i]++
	}
	return h
}
