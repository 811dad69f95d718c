package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/fumitoshi0524/depthnet/data"
	"github.com/fumitoshi0524/depthnet/loss"
	"github.com/fumitoshi0524/depthnet/metric"
	"github.com/fumitoshi0524/depthnet/model"
	"github.com/fumitoshi0524/depthnet/tensor"
)

// LoadModel restores the model weights of a checkpoint into m.
func LoadModel(path string, m model.Model) error {
	state, err := tensor.LoadTensors(path)
	if err != nil {
		return fmt.Errorf("trainer: load %s: %w", path, err)
	}
	if err := m.LoadState(modelPrefix, state); err != nil {
		return fmt.Errorf("trainer: restore model: %w", err)
	}
	return nil
}

// Evaluate runs m in eval mode over one pass of loader and returns the
// loss and every metric averaged per sample. Recurrent models carry
// their state across the pass. Batches without valid pixels are
// skipped, as are NaN metric values.
func Evaluate(ctx context.Context, m model.Model, loader *data.Loader, criterion loss.Criterion, metrics []metric.Named) (map[string]float64, error) {
	m.Eval()
	total := make(map[string]float64)
	count := make(map[string]int)
	add := func(key string, v float64, n int) {
		if !math.IsNaN(v) {
			total[key] += v * float64(n)
			count[key] += n
		}
	}
	rec, recurrent := m.(model.Recurrent)
	var state model.State
	err := tensor.NoGrad(func() error {
		return loader.Each(ctx, func(idx int, b data.Batch) error {
			var out *tensor.Tensor
			var err error
			if recurrent {
				if state.BatchSize() != b.Size() {
					state = nil
				}
				out, state, err = rec.ForwardState(b.Left, state)
			} else {
				out, err = m.Forward(b.Left)
			}
			if err != nil {
				return fmt.Errorf("batch %d: %w", idx, err)
			}
			n := b.Size()
			lossVal, err := criterion(out, b.DisparityGT)
			if errors.Is(err, loss.ErrNoValidPixels) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("batch %d: %w", idx, err)
			}
			if !finite(lossVal.Item()) {
				return fmt.Errorf("batch %d: %w", idx, ErrNonFiniteLoss)
			}
			add("loss", lossVal.Item(), n)
			for _, met := range metrics {
				v, err := met.Fn(out, b.DisparityGT)
				if err != nil {
					return fmt.Errorf("metric %s: %w", met.Name, err)
				}
				add(met.Name, v, n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	result := make(map[string]float64, len(total))
	for k, v := range total {
		result[k] = v / float64(count[k])
	}
	return result, nil
}
