// Package calib loads the stereo rectification matrix Q used to turn
// disparity into metric depth.
package calib

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// DefaultPair is the camera pair read from disparity_to_depth when none is
// given: left event camera to left frame camera, as laid out by DSEC.
const DefaultPair = "cams_03"

var ErrMissingMatrix = errors.New("calib: projection matrix not found")

// Projection holds a 4x4 disparity-to-depth matrix.
type Projection struct {
	Q [4][4]float64
}

type file struct {
	DisparityToDepth map[string][][]float64 `yaml:"disparity_to_depth"`
	Q                [][]float64            `yaml:"Q"`
}

// Load reads the default camera pair from a cam_to_cam.yaml file.
func Load(path string) (*Projection, error) {
	return LoadPair(path, DefaultPair)
}

func LoadPair(path, pair string) (*Projection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calib: read %s: %w", path, err)
	}
	p, err := Parse(data, pair)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a calibration document. The matrix is taken from
// disparity_to_depth.<pair>, falling back to a top-level Q.
func Parse(data []byte, pair string) (*Projection, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("calib: decode: %w", err)
	}
	rows, ok := f.DisparityToDepth[pair]
	if !ok {
		rows = f.Q
	}
	if rows == nil {
		return nil, fmt.Errorf("%w: no disparity_to_depth.%s or Q", ErrMissingMatrix, pair)
	}
	return FromRows(rows)
}

func FromRows(rows [][]float64) (*Projection, error) {
	if len(rows) != 4 {
		return nil, fmt.Errorf("calib: Q must have 4 rows, got %d", len(rows))
	}
	p := &Projection{}
	for i, row := range rows {
		if len(row) != 4 {
			return nil, fmt.Errorf("calib: Q row %d must have 4 entries, got %d", i, len(row))
		}
		copy(p.Q[i][:], row)
	}
	if p.Q[2][3] == 0 {
		return nil, errors.New("calib: Q[2][3] is zero, depth would vanish")
	}
	return p, nil
}

// LossDepth maps disparity to depth as Q[2][3] / (d + Q[3][3]). It is
// differentiable and used by the training loss.
func (p *Projection) LossDepth(d *tensor.Tensor) *tensor.Tensor {
	return tensor.MulScalar(tensor.Reciprocal(tensor.AddScalar(d, p.Q[3][3])), p.Q[2][3])
}

// MetricDepth maps disparity to depth as Q[2][3] / ((d - Q[3][3]) * Q[3][2]),
// the form used by the evaluation metrics.
func (p *Projection) MetricDepth(d *tensor.Tensor) *tensor.Tensor {
	shifted := tensor.MulScalar(tensor.AddScalar(d, -p.Q[3][3]), p.Q[3][2])
	return tensor.MulScalar(tensor.Reciprocal(shifted), p.Q[2][3])
}
