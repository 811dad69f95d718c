package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fumitoshi0524/depthnet/artifact"
	"github.com/fumitoshi0524/depthnet/calib"
	"github.com/fumitoshi0524/depthnet/config"
	"github.com/fumitoshi0524/depthnet/data"
	"github.com/fumitoshi0524/depthnet/loss"
	"github.com/fumitoshi0524/depthnet/metric"
	"github.com/fumitoshi0524/depthnet/model"
	"github.com/fumitoshi0524/depthnet/optim"
	"github.com/fumitoshi0524/depthnet/summary"
	"github.com/fumitoshi0524/depthnet/tensor"
	"github.com/fumitoshi0524/depthnet/trainer"
)

type runner interface {
	Resume(path string) error
	Train(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", filepath.Join("configs", "unet.yaml"), "training config file")
	resume := flag.String("resume", "", "checkpoint to resume from")
	device := flag.String("device", "cpu", "device to train on; only cpu is available")
	flag.Parse()

	if *device != "cpu" {
		log.Fatalf("device %q is not supported, use cpu", *device)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *resume); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("training interrupted")
			return
		}
		log.Fatalf("train: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, resume string) error {
	logger, err := trainer.NewLogger(os.Stderr, cfg.Trainer.Verbosity)
	if err != nil {
		return err
	}
	runID := time.Now().Format("0102_150405")
	modelsDir, logDir := cfg.RunDirs(runID)
	if err := cfg.Save(filepath.Join(modelsDir, "config.yaml")); err != nil {
		return err
	}
	tensor.Seed(cfg.Seed)

	var proj *calib.Projection
	if cfg.NeedsProjection() {
		if proj, err = calib.LoadPair(cfg.Projection.Path, cfg.Projection.Pair); err != nil {
			return err
		}
	}

	ds, err := dataset(cfg)
	if err != nil {
		return err
	}
	train, err := data.NewLoader(ds, cfg.DataLoader.Args.LoaderConfig)
	if err != nil {
		return err
	}
	valid, err := train.SplitValidation(cfg.DataLoader.Args.ValidationSplit)
	if err != nil {
		return err
	}

	m, err := model.Build(cfg.Arch.Type, cfg.Arch.Args)
	if err != nil {
		return err
	}
	params := 0
	for _, p := range m.Parameters() {
		params += p.Numel()
	}
	logger.Info("model built", "arch", cfg.Arch.Type, "trainable_parameters", params)

	criterion, err := loss.Lookup(cfg.Loss, proj)
	if err != nil {
		return err
	}
	metrics, err := metric.LookupAll(cfg.Metrics, proj)
	if err != nil {
		return err
	}
	opt, err := optim.New(cfg.Optimizer.Type, m.Parameters(), cfg.Optimizer.Args)
	if err != nil {
		return err
	}
	var sched *optim.Scheduler
	if cfg.LRScheduler.Type != "" {
		if sched, err = optim.NewSchedulerByName(cfg.LRScheduler.Type, opt, cfg.LRScheduler.Args); err != nil {
			return err
		}
	}

	writer, err := writers(cfg, logDir, logger)
	if err != nil {
		return err
	}
	defer closeWriter(writer, logger)

	tcfg := cfg.Trainer
	tcfg.SaveDir = modelsDir
	opts := trainer.Options{
		Model:         m,
		Criterion:     criterion,
		Metrics:       metrics,
		Optimizer:     opt,
		Scheduler:     sched,
		TrainLoader:   train,
		ValidLoader:   valid,
		Writer:        writer,
		Logger:        logger,
		Arch:          cfg.Arch.Type,
		OptimizerType: cfg.Optimizer.Type,
		Config:        tcfg,
	}
	if cfg.Upload.Enabled() {
		up := cfg.Upload
		up.Prefix = path.Join(up.Prefix, cfg.Name, runID)
		u, err := artifact.NewS3Uploader(ctx, up)
		if err != nil {
			return err
		}
		opts.Uploader = u
	}

	var r runner
	if cfg.Trainer.Recurrent {
		r, err = trainer.NewRecurrent(opts)
	} else {
		r, err = trainer.New(opts)
	}
	if err != nil {
		return err
	}
	if resume != "" {
		if err := r.Resume(resume); err != nil {
			return err
		}
	}
	return r.Train(ctx)
}

func dataset(cfg *config.Config) (data.Dataset, error) {
	args := cfg.DataLoader.Args
	if cfg.DataLoader.Type == config.DataSynthetic {
		return &data.SyntheticDataset{
			N:        args.Samples,
			Channels: cfg.Arch.Args.InChannels,
			Height:   args.Height,
			Width:    args.Width,
			Seed:     cfg.Seed,
		}, nil
	}
	return data.NewDirDataset(args.DataDir)
}

func closeWriter(w summary.Writer, logger *slog.Logger) {
	if err := w.Close(); err != nil {
		logger.Warn("closing summary writers", "err", err)
	}
}

func writers(cfg *config.Config, logDir string, logger *slog.Logger) (summary.Writer, error) {
	var out summary.Multi
	if cfg.Trainer.TensorBoard {
		ev, err := summary.NewEventWriter(logDir)
		if err != nil {
			return nil, err
		}
		logger.Info("writing tensorboard events", "path", ev.Path())
		out = append(out, ev)
	}
	if cfg.History != "" {
		h, err := summary.OpenHistory(cfg.History, cfg.Name)
		if err != nil {
			closeWriter(out, logger)
			return nil, err
		}
		logger.Info("recording scalar history", "path", cfg.History, "run", h.RunID())
		out = append(out, h)
	}
	return out, nil
}
