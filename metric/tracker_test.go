package metric

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	tags   []string
	values []float64
	err    error
}

func (w *recordingWriter) AddScalar(tag string, value float64) error {
	if w.err != nil {
		return w.err
	}
	w.tags = append(w.tags, tag)
	w.values = append(w.values, value)
	return nil
}

func TestTrackerWeightedAverage(t *testing.T) {
	w := &recordingWriter{}
	tr := NewTracker(w, "loss", "mean_absolute_error")
	require.NoError(t, tr.Update("loss", 2, 1))
	require.NoError(t, tr.Update("loss", 4, 3))
	require.NoError(t, tr.UpdateMetric("mean_absolute_error", math.NaN(), 1))

	require.InDelta(t, 3.5, tr.Avg("loss"), 1e-12)
	require.Equal(t, 4, tr.Count("loss"))
	require.Zero(t, tr.Count("mean_absolute_error"))
	require.True(t, math.IsNaN(tr.Avg("mean_absolute_error")))
	require.Equal(t, map[string]float64{"loss": 3.5}, tr.Result())
	require.Equal(t, []string{"loss", "loss"}, w.tags)

	tr.Reset()
	require.Empty(t, tr.Result())
	require.Equal(t, []string{"loss", "mean_absolute_error"}, tr.Keys())
}

func TestTrackerAddsUnknownKeysAndPropagatesWriterErrors(t *testing.T) {
	tr := NewTracker(nil)
	require.NoError(t, tr.Update("extra", 1, 2))
	require.Equal(t, []string{"extra"}, tr.Keys())

	boom := errors.New("disk full")
	failing := NewTracker(&recordingWriter{err: boom}, "loss")
	require.ErrorIs(t, failing.Update("loss", 1, 1), boom)
}

func TestTrackerRejectsNonFiniteValues(t *testing.T) {
	w := &recordingWriter{}
	tr := NewTracker(w, "loss", "ssim_error")

	require.ErrorIs(t, tr.Update("loss", math.NaN(), 1), ErrNotFinite)
	require.ErrorIs(t, tr.Update("loss", math.Inf(1), 1), ErrNotFinite)
	require.ErrorIs(t, tr.UpdateMetric("ssim_error", math.Inf(-1), 1), ErrNotFinite)
	require.Zero(t, tr.Count("loss"))
	require.Empty(t, w.tags)

	require.NoError(t, tr.UpdateMetric("ssim_error", 0.25, 2))
	require.Equal(t, map[string]float64{"ssim_error": 0.25}, tr.Result())
}
