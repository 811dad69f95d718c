// Package data loads stereo depth samples and groups them into batches.
package data

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// RepresentationKey is the tensor name of the left-camera input inside a
// representation file.
const RepresentationKey = "left"

// DisparityScale converts stored 16-bit disparity values to pixels.
const DisparityScale = 256.0

// Sample is one training example. Left is [C, H, W]; Disparity is [H, W]
// with zeros where no ground truth exists.
type Sample struct {
	Left      *tensor.Tensor
	Disparity *tensor.Tensor
}

type Dataset interface {
	Len() int
	Sample(i int) (Sample, error)
}

// DirDataset reads sequences laid out as
//
//	<root>/<sequence>/disparity/<frame>.png
//	<root>/<sequence>/representation/<frame>.json
//
// Disparity PNGs are 16-bit and divided by DisparityScale. Representation
// files are tensor sets written by tensor.SaveTensors holding a "left"
// entry.
type DirDataset struct {
	root   string
	frames []frame
}

type frame struct {
	disparity      string
	representation string
}

func NewDirDataset(root string) (*DirDataset, error) {
	matches, err := filepath.Glob(filepath.Join(root, "*", "disparity", "*.png"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("data: no disparity maps under %s", root)
	}
	sort.Strings(matches)
	ds := &DirDataset{root: root, frames: make([]frame, 0, len(matches))}
	for _, m := range matches {
		seqDir := filepath.Dir(filepath.Dir(m))
		stem := strings.TrimSuffix(filepath.Base(m), filepath.Ext(m))
		rep := filepath.Join(seqDir, "representation", stem+".json")
		if _, err := os.Stat(rep); err != nil {
			return nil, fmt.Errorf("data: representation for %s: %w", m, err)
		}
		ds.frames = append(ds.frames, frame{disparity: m, representation: rep})
	}
	return ds, nil
}

func (d *DirDataset) Len() int {
	return len(d.frames)
}

func (d *DirDataset) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(d.frames) {
		return Sample{}, fmt.Errorf("data: index %d out of range [0, %d)", i, len(d.frames))
	}
	f := d.frames[i]
	disp, err := ReadDisparityPNG(f.disparity)
	if err != nil {
		return Sample{}, err
	}
	set, err := tensor.LoadTensors(f.representation)
	if err != nil {
		return Sample{}, fmt.Errorf("data: %s: %w", f.representation, err)
	}
	left, ok := set[RepresentationKey]
	if !ok {
		return Sample{}, fmt.Errorf("data: %s has no %q tensor", f.representation, RepresentationKey)
	}
	ls, ds := left.Shape(), disp.Shape()
	if len(ls) != 3 || ls[1] != ds[0] || ls[2] != ds[1] {
		return Sample{}, fmt.Errorf("data: %s: representation %v does not match disparity %v", f.representation, ls, ds)
	}
	return Sample{Left: left, Disparity: disp}, nil
}

// ReadDisparityPNG decodes a 16-bit disparity map into an [H, W] tensor.
func ReadDisparityPNG(path string) (*tensor.Tensor, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	defer fh.Close()
	img, err := png.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("data: decode %s: %w", path, err)
	}
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	values := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			values[y*w+x] = float64(g.Y) / DisparityScale
		}
	}
	return tensor.New(values, h, w)
}

// WriteDisparityPNG stores an [H, W] disparity tensor as a 16-bit PNG,
// the inverse of ReadDisparityPNG up to 1/DisparityScale.
func WriteDisparityPNG(path string, disp *tensor.Tensor) error {
	shape := disp.Shape()
	if len(shape) != 2 {
		return fmt.Errorf("data: disparity must be [H, W], got %v", shape)
	}
	h, w := shape[0], shape[1]
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for i, v := range disp.Data() {
		q := math.Round(v * DisparityScale)
		if q < 0 || q > math.MaxUint16 {
			return fmt.Errorf("data: disparity %v out of 16-bit range", v)
		}
		img.SetGray16(i%w, i/w, color.Gray16{Y: uint16(q)})
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(fh, img); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// SyntheticDataset generates smooth slanted-plane scenes with a band of
// invalid pixels. Every sample is a pure function of Seed and its index.
type SyntheticDataset struct {
	N        int
	Channels int
	Height   int
	Width    int
	Seed     int64
}

func (s *SyntheticDataset) Len() int {
	return s.N
}

func (s *SyntheticDataset) Sample(i int) (Sample, error) {
	if i < 0 || i >= s.N {
		return Sample{}, fmt.Errorf("data: index %d out of range [0, %d)", i, s.N)
	}
	if s.Channels <= 0 || s.Height <= 0 || s.Width <= 0 {
		return Sample{}, errors.New("data: synthetic dataset needs positive channels, height and width")
	}
	rng := rand.New(rand.NewSource(s.Seed*7919 + int64(i)))
	base := 10 + 30*rng.Float64()
	slopeX := 8 * (rng.Float64() - 0.5)
	slopeY := 8 * (rng.Float64() - 0.5)
	hole := rng.Intn(s.Height)

	h, w := s.Height, s.Width
	disp := make([]float64, h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y == hole {
				continue
			}
			disp[y*w+x] = base + slopeX*float64(x)/float64(w) + slopeY*float64(y)/float64(h)
		}
	}
	left := make([]float64, s.Channels*h*w)
	for c := 0; c < s.Channels; c++ {
		gain := float64(c+1) / float64(s.Channels)
		for p := 0; p < h*w; p++ {
			left[c*h*w+p] = gain*disp[p]/64 + 0.01*rng.NormFloat64()
		}
	}
	return Sample{
		Left:      tensor.MustNew(left, s.Channels, h, w),
		Disparity: tensor.MustNew(disp, h, w),
	}, nil
}
