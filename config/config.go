// Package config reads the YAML file describing a training run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fumitoshi0524/depthnet/artifact"
	"github.com/fumitoshi0524/depthnet/calib"
	"github.com/fumitoshi0524/depthnet/data"
	"github.com/fumitoshi0524/depthnet/metric"
	"github.com/fumitoshi0524/depthnet/model"
	"github.com/fumitoshi0524/depthnet/optim"
	"github.com/fumitoshi0524/depthnet/trainer"
)

const (
	DataDSEC      = "dsec"
	DataSynthetic = "synthetic"
)

type Config struct {
	Name string `yaml:"name"`
	Seed int64  `yaml:"seed"`
	// NGPU is kept for config compatibility; only 0 is supported.
	NGPU        int             `yaml:"n_gpu"`
	Arch        Arch            `yaml:"arch"`
	DataLoader  DataLoader      `yaml:"data_loader"`
	Optimizer   Component       `yaml:"optimizer"`
	Loss        string          `yaml:"loss"`
	Metrics     []string        `yaml:"metrics"`
	LRScheduler Component       `yaml:"lr_scheduler"`
	Projection  Projection      `yaml:"projection"`
	Trainer     trainer.Config  `yaml:"trainer"`
	Upload      artifact.Config `yaml:"upload"`
	// History is a SQLite file collecting every logged scalar across
	// runs. Empty disables it.
	History string `yaml:"history"`
}

type Arch struct {
	Type string       `yaml:"type"`
	Args model.Config `yaml:"args"`
}

// Component names a registered constructor and its arguments.
type Component struct {
	Type string     `yaml:"type"`
	Args optim.Args `yaml:"args"`
}

type DataLoader struct {
	Type string   `yaml:"type"`
	Args DataArgs `yaml:"args"`
}

type DataArgs struct {
	DataDir           string `yaml:"data_dir"`
	data.LoaderConfig `yaml:",inline"`
	// Synthetic scene size, used by the synthetic loader only.
	Samples int `yaml:"samples"`
	Height  int `yaml:"height"`
	Width   int `yaml:"width"`
}

type Projection struct {
	Path string `yaml:"path"`
	Pair string `yaml:"pair"`
}

// Load reads, defaults and validates the config at path. Unknown keys
// are rejected.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "depthnet"
	}
	if c.Arch.Type == "" {
		c.Arch.Type = "UNet"
	}
	if c.DataLoader.Type == "" {
		c.DataLoader.Type = DataDSEC
	}
	if c.DataLoader.Args.BatchSize == 0 {
		c.DataLoader.Args.BatchSize = 4
	}
	if c.DataLoader.Args.Seed == 0 {
		c.DataLoader.Args.Seed = c.Seed
	}
	if c.Optimizer.Type == "" {
		c.Optimizer.Type = "Adam"
	}
	if c.Loss == "" {
		c.Loss = "disparity_loss"
	}
	if c.Projection.Pair == "" {
		c.Projection.Pair = calib.DefaultPair
	}
	if c.Trainer.Epochs == 0 {
		c.Trainer.Epochs = 100
	}
	if c.Trainer.SaveDir == "" {
		c.Trainer.SaveDir = "saved"
	}
	if c.Trainer.SavePeriod == 0 {
		c.Trainer.SavePeriod = 1
	}
	if c.Trainer.Monitor == "" {
		c.Trainer.Monitor = "off"
	}
}

var classification = []string{"accuracy", "top_k_acc"}

// NeedsProjection reports whether the loss or a metric reprojects
// disparity.
func (c *Config) NeedsProjection() bool {
	if c.Loss == "disparity_loss" {
		return true
	}
	for _, m := range c.Metrics {
		if !slices.Contains(classification, m) {
			return true
		}
	}
	return false
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.NGPU != 0 {
		errs = append(errs, fmt.Errorf("n_gpu is %d but only cpu training is supported", c.NGPU))
	}
	if c.Arch.Args.InChannels <= 0 {
		errs = append(errs, errors.New("arch.args.in_channels must be positive"))
	}
	recurrent := strings.Contains(strings.ToLower(c.Arch.Type), "recurrent")
	if c.Trainer.Recurrent != recurrent {
		errs = append(errs, fmt.Errorf("trainer.recurrent must be %v for arch %s", recurrent, c.Arch.Type))
	}
	args := c.DataLoader.Args
	if args.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("data_loader.args.batch_size must be positive, got %d", args.BatchSize))
	}
	if args.ValidationSplit < 0 {
		errs = append(errs, fmt.Errorf("data_loader.args.validation_split must not be negative, got %v", args.ValidationSplit))
	}
	switch c.DataLoader.Type {
	case DataDSEC:
		if args.DataDir == "" {
			errs = append(errs, errors.New("data_loader.args.data_dir is required"))
		}
	case DataSynthetic:
		if args.Samples <= 0 || args.Height <= 0 || args.Width <= 0 {
			errs = append(errs, errors.New("synthetic data needs positive samples, height and width"))
		}
	default:
		errs = append(errs, fmt.Errorf("data_loader.type %q is not %s or %s", c.DataLoader.Type, DataDSEC, DataSynthetic))
	}
	known := metric.Names()
	for _, m := range c.Metrics {
		if !slices.Contains(known, m) {
			errs = append(errs, fmt.Errorf("unknown metric %q", m))
		}
	}
	if c.NeedsProjection() && c.Projection.Path == "" {
		errs = append(errs, errors.New("projection.path is required by the loss or metrics"))
	}
	if c.Trainer.Verbosity < 0 || c.Trainer.Verbosity > 2 {
		errs = append(errs, fmt.Errorf("trainer.verbosity %d is not one of 0, 1, 2", c.Trainer.Verbosity))
	}
	if c.Trainer.EarlyStop < 0 || c.Trainer.LenEpoch < 0 {
		errs = append(errs, errors.New("trainer.early_stop and trainer.len_epoch must not be negative"))
	}
	return errors.Join(errs...)
}

// RunDirs returns the checkpoint and log directories of a run.
func (c *Config) RunDirs(runID string) (models, logs string) {
	return filepath.Join(c.Trainer.SaveDir, "models", c.Name, runID),
		filepath.Join(c.Trainer.SaveDir, "log", c.Name, runID)
}

// Save writes the effective config, e.g. next to a run's checkpoints.
// The upload secret key is left out.
func (c *Config) Save(path string) error {
	out := *c
	out.Upload.SecretKey = ""
	raw, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.WriteFile(path, raw, 0o644)
}
