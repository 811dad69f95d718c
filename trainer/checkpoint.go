package trainer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fumitoshi0524/depthnet/optim"
	"github.com/fumitoshi0524/depthnet/tensor"
)

const (
	modelPrefix     = "model"
	optimizerPrefix = "optimizer."
	bestName        = "model_best"
)

// Meta is stored next to a checkpoint's tensors as YAML.
type Meta struct {
	Arch           string  `yaml:"arch"`
	Optimizer      string  `yaml:"optimizer"`
	Epoch          int     `yaml:"epoch"`
	MonitorBest    float64 `yaml:"monitor_best"`
	SchedulerEpoch int     `yaml:"scheduler_epoch"`
}

// MetaPath is the metadata file belonging to a checkpoint.
func MetaPath(checkpoint string) string {
	return strings.TrimSuffix(checkpoint, filepath.Ext(checkpoint)) + ".yaml"
}

// CheckpointPath is where the checkpoint for epoch is written in dir.
func CheckpointPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("checkpoint-epoch%d.json", epoch))
}

// BestPath is where the best model so far is written in dir.
func BestPath(dir string) string {
	return filepath.Join(dir, bestName+".json")
}

func (b *base) state() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	b.Model.StateDict(modelPrefix, state)
	if s, ok := b.Optimizer.(optim.Stateful); ok {
		for k, v := range s.StateDict() {
			state[optimizerPrefix+k] = v
		}
	}
	return state
}

func (b *base) meta(epoch int) Meta {
	m := Meta{
		Arch:        b.Arch,
		Optimizer:   b.OptimizerType,
		Epoch:       epoch,
		MonitorBest: b.monitor.best,
	}
	if b.Scheduler != nil {
		m.SchedulerEpoch = b.Scheduler.Epoch()
	}
	return m
}

func (b *base) saveCheckpoint(ctx context.Context, epoch int, best bool) error {
	if err := os.MkdirAll(b.cfg.SaveDir, 0o755); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	state, meta := b.state(), b.meta(epoch)
	path := CheckpointPath(b.cfg.SaveDir, epoch)
	if err := writeCheckpoint(path, state, meta); err != nil {
		return err
	}
	b.Logger.Info("saved checkpoint", "path", path)
	b.upload(ctx, path)
	if best {
		path := BestPath(b.cfg.SaveDir)
		if err := writeCheckpoint(path, state, meta); err != nil {
			return err
		}
		b.Logger.Info("saved current best", "path", path)
		b.upload(ctx, path)
	}
	return nil
}

// upload failures are logged; training goes on with the local copy.
func (b *base) upload(ctx context.Context, path string) {
	if b.Uploader == nil {
		return
	}
	for _, p := range []string{path, MetaPath(path)} {
		if err := b.Uploader.Upload(ctx, p); err != nil {
			b.Logger.Warn("checkpoint upload failed", "path", p, "err", err)
		}
	}
}

func writeCheckpoint(path string, state map[string]*tensor.Tensor, meta Meta) error {
	raw, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("trainer: encode checkpoint meta: %w", err)
	}
	if err := tensor.SaveTensors(path, state); err != nil {
		return fmt.Errorf("trainer: save %s: %w", path, err)
	}
	if err := os.WriteFile(MetaPath(path), raw, 0o644); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	return nil
}

// ReadMeta loads the metadata of a checkpoint.
func ReadMeta(checkpoint string) (Meta, error) {
	var m Meta
	raw, err := os.ReadFile(MetaPath(checkpoint))
	if err != nil {
		return m, fmt.Errorf("trainer: %w", err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("trainer: decode %s: %w", MetaPath(checkpoint), err)
	}
	return m, nil
}

// Resume restores model, optimizer, scheduler and monitor state from a
// checkpoint; training continues with the following epoch. Optimizer
// state is only restored when the optimizer type matches.
func (b *base) Resume(path string) error {
	b.Logger.Info("loading checkpoint", "path", path)
	meta, err := ReadMeta(path)
	if err != nil {
		return err
	}
	state, err := tensor.LoadTensors(path)
	if err != nil {
		return fmt.Errorf("trainer: load %s: %w", path, err)
	}
	if meta.Arch != b.Arch {
		b.Logger.Warn("architecture differs from checkpoint", "checkpoint", meta.Arch, "config", b.Arch)
	}
	if err := b.Model.LoadState(modelPrefix, state); err != nil {
		return fmt.Errorf("trainer: restore model: %w", err)
	}
	if meta.Optimizer != b.OptimizerType {
		b.Logger.Warn("optimizer type differs from checkpoint, optimizer state not resumed",
			"checkpoint", meta.Optimizer, "config", b.OptimizerType)
	} else if s, ok := b.Optimizer.(optim.Stateful); ok {
		opt := make(map[string]*tensor.Tensor)
		for k, v := range state {
			if name, ok := strings.CutPrefix(k, optimizerPrefix); ok {
				opt[name] = v
			}
		}
		if err := s.LoadState(opt); err != nil {
			return fmt.Errorf("trainer: restore optimizer: %w", err)
		}
	}
	if b.Scheduler != nil {
		b.Scheduler.SetEpoch(meta.SchedulerEpoch)
	}
	b.startEpoch = meta.Epoch + 1
	b.monitor.best = meta.MonitorBest
	b.Logger.Info("checkpoint loaded", "resume_epoch", b.startEpoch)
	return nil
}
