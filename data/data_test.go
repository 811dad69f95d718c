package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fumitoshi0524/depthnet/tensor"
)

func synthetic(n int) *SyntheticDataset {
	return &SyntheticDataset{N: n, Channels: 2, Height: 4, Width: 6, Seed: 1}
}

func TestSyntheticDatasetIsDeterministic(t *testing.T) {
	ds := synthetic(3)
	a, err := ds.Sample(1)
	require.NoError(t, err)
	b, err := ds.Sample(1)
	require.NoError(t, err)
	require.Equal(t, a.Disparity.Data(), b.Disparity.Data())
	require.Equal(t, []int{2, 4, 6}, a.Left.Shape())
	require.Equal(t, []int{4, 6}, a.Disparity.Shape())

	zeros := 0
	for _, v := range a.Disparity.Data() {
		if v == 0 {
			zeros++
		}
	}
	require.Equal(t, 6, zeros, "one invalid row expected")

	_, err = ds.Sample(3)
	require.Error(t, err)
}

func TestDisparityPNGRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "000000.png")
	disp := tensor.MustNew([]float64{0, 1.5, 12.25, 255.99609375}, 2, 2)
	require.NoError(t, WriteDisparityPNG(path, disp))
	got, err := ReadDisparityPNG(path)
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, got.Shape())
	require.InDeltaSlice(t, disp.Data(), got.Data(), 1e-12)

	require.Error(t, WriteDisparityPNG(path, tensor.Full(300, 1, 1)))
}

func writeFrame(t *testing.T, root, seq, stem string, s Sample) {
	t.Helper()
	for _, dir := range []string{"disparity", "representation"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, seq, dir), 0o755))
	}
	require.NoError(t, WriteDisparityPNG(filepath.Join(root, seq, "disparity", stem+".png"), s.Disparity))
	require.NoError(t, tensor.SaveTensors(filepath.Join(root, seq, "representation", stem+".json"),
		map[string]*tensor.Tensor{RepresentationKey: s.Left}))
}

func TestDirDatasetReadsSequences(t *testing.T) {
	root := t.TempDir()
	src := synthetic(3)
	for i, loc := range [][2]string{{"zurich_city_00_a", "000000"}, {"zurich_city_00_a", "000002"}, {"interlaken_00_c", "000000"}} {
		s, err := src.Sample(i)
		require.NoError(t, err)
		writeFrame(t, root, loc[0], loc[1], s)
	}
	ds, err := NewDirDataset(root)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())

	// Frames are sorted by path, so the interlaken sequence comes first.
	first, err := ds.Sample(0)
	require.NoError(t, err)
	want, err := src.Sample(2)
	require.NoError(t, err)
	require.InDeltaSlice(t, want.Left.Data(), first.Left.Data(), 1e-12)
	require.InDeltaSlice(t, want.Disparity.Data(), first.Disparity.Data(), 1.0/DisparityScale)

	_, err = NewDirDataset(t.TempDir())
	require.Error(t, err)
}

func TestDirDatasetRequiresRepresentation(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "seq", "disparity"), 0o755))
	require.NoError(t, WriteDisparityPNG(filepath.Join(root, "seq", "disparity", "000000.png"), tensor.Ones(2, 2)))
	_, err := NewDirDataset(root)
	require.Error(t, err)
}

func TestLoaderBatchesAndSplit(t *testing.T) {
	l, err := NewLoader(synthetic(10), LoaderConfig{BatchSize: 4, Shuffle: true, Seed: 3})
	require.NoError(t, err)
	require.Equal(t, 3, l.Len())

	val, err := l.SplitValidation(0.2)
	require.NoError(t, err)
	require.Equal(t, 8, l.NSamples())
	require.Equal(t, 2, val.NSamples())
	require.Equal(t, 2, l.Len())
	require.Equal(t, 1, val.Len())

	var sizes []int
	require.NoError(t, l.Each(context.Background(), func(idx int, b Batch) error {
		require.Equal(t, []int{b.Size(), 2, 4, 6}, b.Left.Shape())
		require.Equal(t, []int{b.Size(), 4, 6}, b.DisparityGT.Shape())
		sizes = append(sizes, b.Size())
		return nil
	}))
	require.Equal(t, []int{4, 4}, sizes)

	count, err := l.SplitValidation(3)
	require.NoError(t, err)
	require.Equal(t, 3, count.NSamples())

	none, err := l.SplitValidation(0)
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = l.SplitValidation(1.0 * float64(l.NSamples()))
	require.Error(t, err)
}

func TestLoaderCycleCrossesEpochs(t *testing.T) {
	l, err := NewLoader(synthetic(5), LoaderConfig{BatchSize: 2})
	require.NoError(t, err)
	var seen []int
	require.NoError(t, l.Cycle(context.Background(), 5, func(idx int, b Batch) error {
		seen = append(seen, idx)
		return nil
	}))
	require.Equal(t, []int{0, 1, 2, 3, 4}, seen)

	stop := errors.New("stop")
	err = l.Cycle(context.Background(), 5, func(idx int, b Batch) error {
		if idx == 1 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
}

func TestLoaderHonoursContext(t *testing.T) {
	l, err := NewLoader(synthetic(4), LoaderConfig{BatchSize: 1})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err = l.Each(ctx, func(idx int, b Batch) error {
		calls++
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestStackRejectsMixedShapes(t *testing.T) {
	_, err := Stack([]Sample{
		{Left: tensor.Zeros(1, 2, 2), Disparity: tensor.Zeros(2, 2)},
		{Left: tensor.Zeros(1, 4, 4), Disparity: tensor.Zeros(4, 4)},
	})
	require.Error(t, err)

	_, err = NewLoader(synthetic(2), LoaderConfig{})
	require.Error(t, err)
}
