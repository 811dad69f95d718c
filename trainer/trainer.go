package trainer

import (
	"context"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// Trainer is the stateless loop: every batch is an independent forward
// pass.
type Trainer struct {
	*base
}

func New(opts Options) (*Trainer, error) {
	b, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	b.logStep = logStepFor(b.TrainLoader.BatchSize())
	b.gridRows = 8
	return &Trainer{base: b}, nil
}

func (t *Trainer) Train(ctx context.Context) error {
	return t.run(ctx, func(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
		return t.Model.Forward(x)
	})
}
