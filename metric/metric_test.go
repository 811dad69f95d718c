package metric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fumitoshi0524/depthnet/calib"
	"github.com/fumitoshi0524/depthnet/tensor"
)

// inverseProjection maps disparity d to metric depth 80/d.
func inverseProjection(t *testing.T) *calib.Projection {
	t.Helper()
	p, err := calib.FromRows([][]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 0, 80},
		{0, 0, 1, 0},
	})
	require.NoError(t, err)
	return p
}

// Raw depths 40, 20 and 10 m normalise to 80, 40 and 20 m.
var sampleTarget = []float64{0, 2, 4, 8}

func eval(t *testing.T, name string, output, target []float64) float64 {
	t.Helper()
	fn, err := Lookup(name, inverseProjection(t))
	require.NoError(t, err)
	v, err := fn(tensor.MustNew(output, 1, 1, 2, 2), tensor.MustNew(target, 1, 2, 2))
	require.NoError(t, err)
	return v
}

func TestLogDepthRoundTrip(t *testing.T) {
	for _, d := range []float64{5, 20, 80} {
		require.InDelta(t, d, FromLogDepth(ToLogDepth(d)), 1e-9)
	}
	require.Equal(t, 0.0, ToLogDepth(0.01))
	require.Equal(t, 1.0, ToLogDepth(200))
	require.Equal(t, 0.0, ToLogDepth(-5))
	require.Equal(t, 0.0, ToLogDepth(math.NaN()))
}

func TestLogSSIMErrorWithNegativeDepth(t *testing.T) {
	// a negative disparity is valid and reprojects to -80 m
	target := []float64{-1, 2, 4, 8}
	out := []float64{0, ToLogDepth(40), ToLogDepth(20), ToLogDepth(10)}
	v := eval(t, "log_ssim_error", out, target)
	require.False(t, math.IsNaN(v))
	require.InDelta(t, 0, v, 1e-9)
}

func TestDepthMetricsAgainstFarPrediction(t *testing.T) {
	// An output of 1 decodes to 80 m everywhere.
	far := []float64{1, 1, 1, 1}
	cases := map[string]float64{
		"mean_absolute_error":    100.0 / 3,
		"mean_square_error":      5200.0 / 3,
		"abs_rel_error":          4.0 / 3,
		"lg10_error":             math.Log10(8) / 3,
		"delta1_error":           1.0 / 3,
		"delta2_error":           1.0 / 3,
		"delta3_error":           1.0 / 3,
		"mean_absolute_error_10": 60,
		"mean_absolute_error_20": 50,
		"mean_absolute_error_30": 50,
	}
	for name, want := range cases {
		require.InDelta(t, want, eval(t, name, far, sampleTarget), 1e-9, name)
	}
}

func TestDepthMetricsOnPerfectPrediction(t *testing.T) {
	target := []float64{1, 2, 4, 8}
	// Normalised depths are 80, 40, 20, 10.
	perfect := []float64{ToLogDepth(80), ToLogDepth(40), ToLogDepth(20), ToLogDepth(10)}
	require.InDelta(t, 0, eval(t, "mean_absolute_error", perfect, target), 1e-9)
	require.InDelta(t, 1, eval(t, "delta1_error", perfect, target), 1e-12)
	require.InDelta(t, 0, eval(t, "ssim_error", perfect, target), 1e-9)
	require.InDelta(t, 0, eval(t, "log_ssim_error", perfect, target), 1e-9)
}

func TestSSIMErrorGrowsWithDistortion(t *testing.T) {
	target := []float64{1, 2, 4, 8}
	slight := []float64{ToLogDepth(78), ToLogDepth(41), ToLogDepth(20), ToLogDepth(11)}
	far := []float64{ToLogDepth(10), ToLogDepth(80), ToLogDepth(5), ToLogDepth(60)}
	near := eval(t, "ssim_error", slight, target)
	wrong := eval(t, "ssim_error", far, target)
	require.Less(t, near, wrong)
}

func TestDepthMetricsWithoutValidPixels(t *testing.T) {
	for _, name := range Names() {
		if classification[name] {
			continue
		}
		v := eval(t, name, []float64{0.5, 0.5, 0.5, 0.5}, []float64{0, 0, 0, 0})
		require.True(t, math.IsNaN(v), "%s should be NaN, got %v", name, v)
	}
}

func TestDepthMetricShapeMismatch(t *testing.T) {
	fn, err := Lookup("mean_absolute_error", inverseProjection(t))
	require.NoError(t, err)
	_, err = fn(tensor.Ones(1, 3), tensor.Ones(1, 2, 2))
	require.Error(t, err)
}

func TestClassificationAccuracy(t *testing.T) {
	output := tensor.MustNew([]float64{
		0.1, 0.7, 0.2,
		0.9, 0.05, 0.05,
		0.2, 0.3, 0.5,
	}, 3, 3)
	labels := tensor.MustNew([]float64{1, 2, 2}, 3)

	acc, err := Accuracy(output, labels)
	require.NoError(t, err)
	require.InDelta(t, 2.0/3, acc, 1e-12)

	top2, err := TopKAccuracy(output, labels, 2)
	require.NoError(t, err)
	require.InDelta(t, 2.0/3, top2, 1e-12)

	fn, err := Lookup("top_k_acc", nil)
	require.NoError(t, err)
	top3, err := fn(output, labels)
	require.NoError(t, err)
	require.Equal(t, 1.0, top3)

	_, err = Accuracy(output, tensor.Ones(2))
	require.Error(t, err)
}

func TestLookupErrors(t *testing.T) {
	_, err := Lookup("rmse", nil)
	require.Error(t, err)
	_, err = Lookup("ssim_error", nil)
	require.Error(t, err)

	named, err := LookupAll([]string{"accuracy", "mean_absolute_error"}, inverseProjection(t))
	require.NoError(t, err)
	require.Equal(t, "mean_absolute_error", named[1].Name)
}
