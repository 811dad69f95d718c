package trainer

import (
	"context"
	"fmt"

	"github.com/fumitoshi0524/depthnet/model"
	"github.com/fumitoshi0524/depthnet/tensor"
)

// RecurrentTrainer carries the model's recurrent state from batch to
// batch. The state is detached after every training step so the graph
// never spans more than one batch. Validation reads the carried state
// but does not advance it.
type RecurrentTrainer struct {
	*base
	model model.Recurrent
	state model.State
}

func NewRecurrent(opts Options) (*RecurrentTrainer, error) {
	rec, ok := opts.Model.(model.Recurrent)
	if !ok {
		return nil, fmt.Errorf("trainer: %T does not carry recurrent state", opts.Model)
	}
	b, err := newBase(opts)
	if err != nil {
		return nil, err
	}
	b.logStep = 10 * b.TrainLoader.BatchSize()
	b.gridRows = 2
	return &RecurrentTrainer{base: b, model: rec}, nil
}

// State is the recurrent state carried into the next batch.
func (t *RecurrentTrainer) State() model.State {
	return t.state
}

// ResetState drops the carried state; the next batch starts from zeros.
func (t *RecurrentTrainer) ResetState() {
	t.state = nil
}

func (t *RecurrentTrainer) Train(ctx context.Context) error {
	return t.run(ctx, t.forward)
}

func (t *RecurrentTrainer) forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	state := t.state
	if n := state.BatchSize(); n != 0 && n != x.Dim(0) {
		t.Logger.Debug("batch size changed, starting from zero state", "from", n, "to", x.Dim(0))
		state = nil
	}
	out, next, err := t.model.ForwardState(x, state)
	if err != nil {
		return nil, err
	}
	if train {
		t.state = next.Detach()
	}
	return out, nil
}
