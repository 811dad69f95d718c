package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const synthetic = `
name: tiny
seed: 7
arch:
  type: RecurrentUNet
  args:
    in_channels: 2
    base_width: 4
data_loader:
  type: synthetic
  args:
    batch_size: 2
    shuffle: true
    validation_split: 0.25
    samples: 8
    height: 16
    width: 16
optimizer:
  type: Adam
  args:
    lr: 0.001
    amsgrad: true
loss: disparity_loss
metrics: [mean_absolute_error, ssim_error]
lr_scheduler:
  type: StepLR
  args:
    step_size: 50
    gamma: 0.1
projection:
  path: cam_to_cam.yaml
trainer:
  epochs: 3
  save_dir: out
  verbosity: 1
  monitor: min val_loss
  early_stop: 2
  recurrent: true
upload:
  bucket: models
  secret_key: hunter2
`

func TestParseAppliesValuesAndDefaults(t *testing.T) {
	cfg, err := Parse([]byte(synthetic))
	require.NoError(t, err)
	require.Equal(t, "tiny", cfg.Name)
	require.Equal(t, 2, cfg.Arch.Args.InChannels)
	require.Equal(t, DataSynthetic, cfg.DataLoader.Type)
	require.Equal(t, 2, cfg.DataLoader.Args.BatchSize)
	require.Equal(t, 0.25, cfg.DataLoader.Args.ValidationSplit)
	require.Equal(t, int64(7), cfg.DataLoader.Args.Seed)
	require.Equal(t, 0.001, cfg.Optimizer.Args.Float("lr", 0))
	require.True(t, cfg.Optimizer.Args.Bool("amsgrad", false))
	require.Equal(t, 50, cfg.LRScheduler.Args.Int("step_size", 0))
	require.Equal(t, "cams_03", cfg.Projection.Pair)
	require.Equal(t, 1, cfg.Trainer.SavePeriod)
	require.True(t, cfg.NeedsProjection())
}

func TestValidateJoinsErrors(t *testing.T) {
	_, err := Parse([]byte(`
n_gpu: 1
data_loader:
  type: dsec
metrics: [nope]
trainer:
  verbosity: 5
`))
	require.Error(t, err)
	for _, want := range []string{
		"n_gpu",
		"in_channels",
		"data_dir",
		`unknown metric "nope"`,
		"projection.path",
		"verbosity",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestRecurrentFlagMustMatchArch(t *testing.T) {
	_, err := Parse([]byte(`
arch: {type: UNet, args: {in_channels: 1}}
data_loader: {type: synthetic, args: {samples: 2, height: 16, width: 16}}
loss: mse
trainer: {recurrent: true}
`))
	require.ErrorContains(t, err, "trainer.recurrent must be false")
}

func TestUnknownKeysAreRejected(t *testing.T) {
	_, err := Parse([]byte("arch: {type: UNet, args: {in_channels: 1, depth: 9}}\n"))
	require.Error(t, err)
}

func TestSaveRoundTripsWithoutSecret(t *testing.T) {
	cfg, err := Parse([]byte(synthetic))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "run", "config.yaml")
	require.NoError(t, cfg.Save(path))

	again, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, again.Upload.SecretKey)
	require.Equal(t, "hunter2", cfg.Upload.SecretKey)
	again.Upload.SecretKey = cfg.Upload.SecretKey
	require.Equal(t, cfg, again)
}

func TestRunDirs(t *testing.T) {
	cfg := &Config{Name: "unet"}
	cfg.Trainer.SaveDir = "saved"
	models, logs := cfg.RunDirs("0101_120000")
	require.Equal(t, filepath.Join("saved", "models", "unet", "0101_120000"), models)
	require.Equal(t, filepath.Join("saved", "log", "unet", "0101_120000"), logs)
}

func TestShippedConfigsLoad(t *testing.T) {
	for _, name := range []string{"unet.yaml", "recurrent_unet.yaml"} {
		cfg, err := Load(filepath.Join("..", "configs", name))
		require.NoError(t, err, name)
		require.True(t, cfg.NeedsProjection())
		require.Equal(t, "sigmoid", cfg.Arch.Args.Output, name)
	}
}
