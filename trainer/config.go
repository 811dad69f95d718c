// Package trainer runs epoch-based training of depth models.
package trainer

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
)

// Config controls the epoch loop.
type Config struct {
	Epochs int `yaml:"epochs"`
	// SaveDir receives checkpoints; it is created on first save.
	SaveDir    string `yaml:"save_dir"`
	SavePeriod int    `yaml:"save_period"`
	Verbosity  int    `yaml:"verbosity"`
	// Monitor is "off", "min <key>" or "max <key>", e.g. "min val_loss".
	Monitor string `yaml:"monitor"`
	// EarlyStop ends training after this many epochs without improvement
	// of the monitored key. Zero disables it.
	EarlyStop   int  `yaml:"early_stop"`
	TensorBoard bool `yaml:"tensorboard"`
	// LenEpoch switches to iteration-based epochs of this many batches,
	// restarting the loader as often as needed.
	LenEpoch  int  `yaml:"len_epoch"`
	Recurrent bool `yaml:"recurrent"`
}

func (c Config) withDefaults() Config {
	if c.Epochs <= 0 {
		c.Epochs = 1
	}
	if c.SavePeriod <= 0 {
		c.SavePeriod = 1
	}
	if c.Monitor == "" {
		c.Monitor = "off"
	}
	return c
}

type monitorMode int

const (
	monitorOff monitorMode = iota
	monitorMin
	monitorMax
)

// monitor tracks the best value of one logged key.
type monitor struct {
	mode monitorMode
	key  string
	best float64
}

func parseMonitor(s string) (monitor, error) {
	fields := strings.Fields(s)
	if len(fields) == 1 && fields[0] == "off" {
		return monitor{}, nil
	}
	if len(fields) != 2 {
		return monitor{}, fmt.Errorf("trainer: monitor %q is not \"off\" or \"<min|max> <key>\"", s)
	}
	switch fields[0] {
	case "min":
		return monitor{mode: monitorMin, key: fields[1], best: math.Inf(1)}, nil
	case "max":
		return monitor{mode: monitorMax, key: fields[1], best: math.Inf(-1)}, nil
	}
	return monitor{}, fmt.Errorf("trainer: monitor mode %q is not min or max", fields[0])
}

func (m monitor) improved(v float64) bool {
	switch m.mode {
	case monitorMin:
		return v <= m.best
	case monitorMax:
		return v >= m.best
	}
	return false
}

// NewLogger returns a text logger for a verbosity of 0 (warnings),
// 1 (info) or 2 (debug).
func NewLogger(w io.Writer, verbosity int) (*slog.Logger, error) {
	levels := []slog.Level{slog.LevelWarn, slog.LevelInfo, slog.LevelDebug}
	if verbosity < 0 || verbosity >= len(levels) {
		return nil, fmt.Errorf("trainer: verbosity %d is not one of 0, 1, 2", verbosity)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: levels[verbosity]})), nil
}
