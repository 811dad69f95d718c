package data

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/fumitoshi0524/depthnet/internal/parallel"
	"github.com/fumitoshi0524/depthnet/tensor"
)

// Batch stacks samples: Left is [N, C, H, W] and DisparityGT is [N, H, W].
type Batch struct {
	Left        *tensor.Tensor
	DisparityGT *tensor.Tensor
}

func (b Batch) Size() int {
	return b.Left.Dim(0)
}

type LoaderConfig struct {
	BatchSize int  `yaml:"batch_size"`
	Shuffle   bool `yaml:"shuffle"`
	// ValidationSplit below 1 is a fraction of the samples; 1 or more is
	// a sample count.
	ValidationSplit float64 `yaml:"validation_split"`
	Seed            int64   `yaml:"seed"`
}

// Loader iterates a Dataset in batches. Samples of a batch are read
// concurrently.
type Loader struct {
	ds        Dataset
	indices   []int
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

func NewLoader(ds Dataset, cfg LoaderConfig) (*Loader, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("data: batch size must be positive, got %d", cfg.BatchSize)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("data: empty dataset")
	}
	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	return &Loader{
		ds:        ds,
		indices:   indices,
		batchSize: cfg.BatchSize,
		shuffle:   cfg.Shuffle,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// SplitValidation moves a held-out part of the samples into a new,
// unshuffled loader. A zero split returns nil. The split is drawn at
// random from the loader's seed.
func (l *Loader) SplitValidation(split float64) (*Loader, error) {
	if split == 0 {
		return nil, nil
	}
	if split < 0 {
		return nil, fmt.Errorf("data: validation split must be non-negative, got %v", split)
	}
	n := len(l.indices)
	nVal := int(split)
	if split < 1 {
		nVal = int(split * float64(n))
	}
	if nVal <= 0 || nVal >= n {
		return nil, fmt.Errorf("data: validation split %v leaves %d of %d samples for validation", split, nVal, n)
	}
	order := slices.Clone(l.indices)
	l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	val := slices.Clone(order[:nVal])
	train := slices.Clone(order[nVal:])
	slices.Sort(val)
	slices.Sort(train)
	l.indices = train
	return &Loader{
		ds:        l.ds,
		indices:   val,
		batchSize: l.batchSize,
		rng:       rand.New(rand.NewSource(l.rng.Int63())),
	}, nil
}

func (l *Loader) BatchSize() int {
	return l.batchSize
}

// NSamples is the number of samples the loader visits per epoch.
func (l *Loader) NSamples() int {
	return len(l.indices)
}

// Len is the number of batches per epoch; the last may be short.
func (l *Loader) Len() int {
	return (len(l.indices) + l.batchSize - 1) / l.batchSize
}

// Each runs fn over one epoch. It stops at the first error from fn, from
// loading, or from ctx.
func (l *Loader) Each(ctx context.Context, fn func(idx int, b Batch) error) error {
	order := slices.Clone(l.indices)
	if l.shuffle {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	for idx := 0; idx*l.batchSize < len(order); idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min((idx+1)*l.batchSize, len(order))
		b, err := l.load(order[idx*l.batchSize : end])
		if err != nil {
			return err
		}
		if err := fn(idx, b); err != nil {
			return err
		}
	}
	return nil
}

var errCycleDone = errors.New("cycle done")

// Cycle runs fn over n batches, starting new epochs as needed.
func (l *Loader) Cycle(ctx context.Context, n int, fn func(idx int, b Batch) error) error {
	done := 0
	for done < n {
		err := l.Each(ctx, func(_ int, b Batch) error {
			if err := fn(done, b); err != nil {
				return err
			}
			done++
			if done >= n {
				return errCycleDone
			}
			return nil
		})
		if errors.Is(err, errCycleDone) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) load(ids []int) (Batch, error) {
	samples := make([]Sample, len(ids))
	errs := make([]error, len(ids))
	parallel.ForGrain(len(ids), 1, func(start, end int) {
		for i := start; i < end; i++ {
			samples[i], errs[i] = l.ds.Sample(ids[i])
		}
	})
	for _, err := range errs {
		if err != nil {
			return Batch{}, err
		}
	}
	return Stack(samples)
}

// Stack combines samples of equal shape into a Batch.
func Stack(samples []Sample) (Batch, error) {
	if len(samples) == 0 {
		return Batch{}, fmt.Errorf("data: no samples to stack")
	}
	ls, ds := samples[0].Left.Shape(), samples[0].Disparity.Shape()
	left := make([]float64, 0, len(samples)*samples[0].Left.Numel())
	disp := make([]float64, 0, len(samples)*samples[0].Disparity.Numel())
	for i, s := range samples {
		if !slices.Equal(s.Left.Shape(), ls) || !slices.Equal(s.Disparity.Shape(), ds) {
			return Batch{}, fmt.Errorf("data: sample %d shape %v/%v differs from %v/%v", i, s.Left.Shape(), s.Disparity.Shape(), ls, ds)
		}
		left = append(left, s.Left.Data()...)
		disp = append(disp, s.Disparity.Data()...)
	}
	lt, err := tensor.New(left, append([]int{len(samples)}, ls...)...)
	if err != nil {
		return Batch{}, err
	}
	dt, err := tensor.New(disp, append([]int{len(samples)}, ds...)...)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Left: lt, DisparityGT: dt}, nil
}
