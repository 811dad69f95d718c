package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"

	"github.com/fumitoshi0524/depthnet/data"
	"github.com/fumitoshi0524/depthnet/loss"
	"github.com/fumitoshi0524/depthnet/metric"
	"github.com/fumitoshi0524/depthnet/model"
	"github.com/fumitoshi0524/depthnet/nn"
	"github.com/fumitoshi0524/depthnet/optim"
	"github.com/fumitoshi0524/depthnet/summary"
	"github.com/fumitoshi0524/depthnet/tensor"
)

// gridMinWidth is the width output grids are enlarged to before logging.
const gridMinWidth = 256

// ErrNonFiniteLoss is returned when every batch of a training or validation
// pass produced a NaN or infinite loss.
var ErrNonFiniteLoss = errors.New("trainer: loss is not finite")

// Uploader copies a written checkpoint file somewhere else.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// Options wires a trainer together. ValidLoader, Scheduler, Writer, Logger and
// Uploader are optional.
type Options struct {
	Model       model.Model
	Criterion   loss.Criterion
	Metrics     []metric.Named
	Optimizer   optim.Optimizer
	Scheduler   *optim.Scheduler
	TrainLoader *data.Loader
	ValidLoader *data.Loader
	Writer      summary.Writer
	Logger      *slog.Logger
	Uploader    Uploader
	// Arch and OptimizerType are recorded in checkpoints and compared on
	// resume.
	Arch          string
	OptimizerType string
	Config        Config
}

// forwardFunc runs the model on one batch. train is false during
// validation.
type forwardFunc func(x *tensor.Tensor, train bool) (*tensor.Tensor, error)

// base holds what both trainers share: the epoch loop, metric trackers,
// monitoring and checkpoints.
type base struct {
	Options
	cfg          Config
	monitor      monitor
	trainMetrics *metric.Tracker
	validMetrics *metric.Tracker
	lenEpoch     int
	logStep      int
	gridRows     int
	startEpoch   int
	history      []map[string]float64
}

func newBase(opts Options) (*base, error) {
	if opts.Model == nil || opts.Criterion == nil || opts.Optimizer == nil || opts.TrainLoader == nil {
		return nil, errors.New("trainer: model, criterion, optimizer and train loader are required")
	}
	cfg := opts.Config.withDefaults()
	mon, err := parseMonitor(cfg.Monitor)
	if err != nil {
		return nil, err
	}
	if opts.Writer == nil {
		opts.Writer = summary.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	keys := []string{"loss"}
	for _, m := range opts.Metrics {
		keys = append(keys, m.Name)
	}
	b := &base{
		Options:      opts,
		cfg:          cfg,
		monitor:      mon,
		trainMetrics: metric.NewTracker(opts.Writer, keys...),
		validMetrics: metric.NewTracker(opts.Writer, keys...),
		lenEpoch:     opts.TrainLoader.Len(),
		startEpoch:   1,
	}
	if cfg.LenEpoch > 0 {
		b.lenEpoch = cfg.LenEpoch
	}
	return b, nil
}

// History returns the log of every finished epoch.
func (b *base) History() []map[string]float64 {
	return b.history
}

// run drives epochs from startEpoch through Epochs.
func (b *base) run(ctx context.Context, forward forwardFunc) error {
	notImproved := 0
	for epoch := b.startEpoch; epoch <= b.cfg.Epochs; epoch++ {
		result, err := b.epoch(ctx, epoch, forward)
		if err != nil {
			return err
		}
		result["epoch"] = float64(epoch)
		b.history = append(b.history, result)
		b.logEpoch(result)

		best := false
		if b.monitor.mode != monitorOff {
			value, ok := result[b.monitor.key]
			if !ok {
				b.Logger.Warn("monitored metric not found, monitoring disabled", "metric", b.monitor.key)
				b.monitor.mode = monitorOff
			} else if b.monitor.improved(value) {
				b.monitor.best = value
				notImproved = 0
				best = true
			} else {
				notImproved++
			}
			if b.cfg.EarlyStop > 0 && notImproved > b.cfg.EarlyStop {
				b.Logger.Info("validation performance did not improve, stopping", "epochs", b.cfg.EarlyStop)
				break
			}
		}
		if epoch%b.cfg.SavePeriod == 0 {
			if err := b.saveCheckpoint(ctx, epoch, best); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *base) logEpoch(result map[string]float64) {
	attrs := []any{"epoch", int(result["epoch"])}
	for _, k := range slices.Sorted(maps.Keys(result)) {
		if k != "epoch" {
			attrs = append(attrs, k, result[k])
		}
	}
	b.Logger.Info("epoch finished", attrs...)
}

// epoch trains over one epoch, validates and steps the scheduler.
func (b *base) epoch(ctx context.Context, epoch int, forward forwardFunc) (map[string]float64, error) {
	b.Model.Train()
	b.trainMetrics.Reset()
	skipped := 0
	step := func(idx int, batch data.Batch) error {
		b.Optimizer.ZeroGrad()
		out, err := forward(batch.Left, true)
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, idx, err)
		}
		lossVal, err := b.Criterion(out, batch.DisparityGT)
		if errors.Is(err, loss.ErrNoValidPixels) {
			b.Logger.Warn("skipping batch without valid pixels", "epoch", epoch, "batch", idx)
			return nil
		}
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, idx, err)
		}
		if !finite(lossVal.Item()) {
			b.Logger.Warn("skipping batch with non-finite loss", "epoch", epoch, "batch", idx, "loss", lossVal.Item())
			skipped++
			return nil
		}
		if err := lossVal.Backward(); err != nil {
			return fmt.Errorf("epoch %d batch %d: backward: %w", epoch, idx, err)
		}
		if err := b.Optimizer.Step(); err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, idx, err)
		}
		b.Writer.SetStep((epoch-1)*b.lenEpoch+idx, "train")
		if err := b.record(b.trainMetrics, lossVal.Item(), out, batch.DisparityGT); err != nil {
			return err
		}
		if idx%b.logStep == 0 {
			b.Logger.Debug("train", "epoch", epoch, "progress", b.progress(idx), "loss", lossVal.Item(),
				"grad_norm", optim.GradNorm(b.Model.Parameters(), 2))
			return b.addGrid("output", out)
		}
		return nil
	}
	var err error
	if b.cfg.LenEpoch > 0 {
		err = b.TrainLoader.Cycle(ctx, b.lenEpoch, step)
	} else {
		err = b.TrainLoader.Each(ctx, step)
	}
	if err != nil {
		return nil, err
	}
	if skipped > 0 && b.trainMetrics.Count("loss") == 0 {
		return nil, fmt.Errorf("epoch %d: %w", epoch, ErrNonFiniteLoss)
	}
	log := b.trainMetrics.Result()

	if b.ValidLoader != nil {
		val, err := b.validate(ctx, epoch, forward)
		if err != nil {
			return nil, err
		}
		for k, v := range val {
			log["val_"+k] = v
		}
	}
	if b.Scheduler != nil {
		b.Scheduler.Step()
	}
	return log, nil
}

func (b *base) validate(ctx context.Context, epoch int, forward forwardFunc) (map[string]float64, error) {
	b.Model.Eval()
	b.validMetrics.Reset()
	skipped := 0
	err := tensor.NoGrad(func() error {
		return b.ValidLoader.Each(ctx, func(idx int, batch data.Batch) error {
			out, err := forward(batch.Left, false)
			if err != nil {
				return fmt.Errorf("validation batch %d: %w", idx, err)
			}
			lossVal, err := b.Criterion(out, batch.DisparityGT)
			if errors.Is(err, loss.ErrNoValidPixels) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("validation batch %d: %w", idx, err)
			}
			if !finite(lossVal.Item()) {
				b.Logger.Warn("skipping validation batch with non-finite loss", "epoch", epoch, "batch", idx, "loss", lossVal.Item())
				skipped++
				return nil
			}
			b.Writer.SetStep((epoch-1)*b.ValidLoader.Len()+idx, "valid")
			if err := b.record(b.validMetrics, lossVal.Item(), out, batch.DisparityGT); err != nil {
				return err
			}
			return b.addGrid("output", out)
		})
	})
	if err != nil {
		return nil, err
	}
	if skipped > 0 && b.validMetrics.Count("loss") == 0 {
		return nil, fmt.Errorf("epoch %d validation: %w", epoch, ErrNonFiniteLoss)
	}
	params := nn.NamedParameters(b.Model)
	for _, name := range slices.Sorted(maps.Keys(params)) {
		if err := b.Writer.AddHistogram(name, params[name].Data()); err != nil {
			return nil, err
		}
	}
	return b.validMetrics.Result(), nil
}

func (b *base) record(tr *metric.Tracker, lossValue float64, out, target *tensor.Tensor) error {
	if err := tr.Update("loss", lossValue, 1); err != nil {
		return err
	}
	return tensor.NoGrad(func() error {
		for _, m := range b.Metrics {
			v, err := m.Fn(out, target)
			if err != nil {
				return fmt.Errorf("metric %s: %w", m.Name, err)
			}
			if err := tr.UpdateMetric(m.Name, v, 1); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *base) addGrid(tag string, out *tensor.Tensor) error {
	grid, err := summary.MakeGrid(out, b.gridRows)
	if err != nil {
		return err
	}
	return b.Writer.AddImage(tag, summary.Enlarge(grid, gridMinWidth))
}

func (b *base) progress(idx int) string {
	current, total := idx, b.lenEpoch
	if b.cfg.LenEpoch <= 0 {
		current, total = idx*b.TrainLoader.BatchSize(), b.TrainLoader.NSamples()
	}
	return fmt.Sprintf("[%d/%d (%.0f%%)]", current, total, 100*float64(current)/float64(total))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// logStepFor is the stateless trainer's debug interval, the integer
// square root of the batch size.
func logStepFor(batchSize int) int {
	return max(int(math.Sqrt(float64(batchSize))), 1)
}
