package summary

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"github.com/fumitoshi0524/depthnet/tensor"
)

// GridPadding is the gap in pixels around every tile of a grid.
const GridPadding = 2

// MakeGrid tiles a batch of [N, H, W] or [N, C, H, W] maps (C is 1 or 3)
// into one image with nrow tiles per row. Values are min-max normalised
// over the whole batch; a constant batch renders black.
func MakeGrid(batch *tensor.Tensor, nrow int) (image.Image, error) {
	shape := batch.Shape()
	var n, c, h, w int
	switch len(shape) {
	case 3:
		n, c, h, w = shape[0], 1, shape[1], shape[2]
	case 4:
		n, c, h, w = shape[0], shape[1], shape[2], shape[3]
	default:
		return nil, fmt.Errorf("summary: grid needs a 3-d or 4-d batch, got shape %v", shape)
	}
	if c != 1 && c != 3 {
		return nil, fmt.Errorf("summary: grid needs 1 or 3 channels, got %d", c)
	}
	if n == 0 {
		return nil, fmt.Errorf("summary: empty batch")
	}
	if nrow <= 0 {
		nrow = 8
	}
	cols := min(nrow, n)
	rows := (n + cols - 1) / cols
	width := cols*(w+GridPadding) + GridPadding
	height := rows*(h+GridPadding) + GridPadding

	data := batch.Data()
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if math.IsNaN(v) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	level := func(v float64) uint8 {
		if math.IsNaN(v) {
			return 0
		}
		return uint8(math.Round(math.Min(math.Max((v-lo)*scale, 0), 255)))
	}

	rect := image.Rect(0, 0, width, height)
	plane := h * w
	if c == 1 {
		img := image.NewGray(rect)
		for k := range n {
			x0, y0 := tileOrigin(k, cols, h, w)
			for y := range h {
				for x := range w {
					img.SetGray(x0+x, y0+y, color.Gray{Y: level(data[k*plane+y*w+x])})
				}
			}
		}
		return img, nil
	}
	img := image.NewRGBA(rect)
	draw.Draw(img, rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
	for k := range n {
		x0, y0 := tileOrigin(k, cols, h, w)
		base := k * c * plane
		for y := range h {
			for x := range w {
				i := y*w + x
				img.SetRGBA(x0+x, y0+y, color.RGBA{
					R: level(data[base+i]),
					G: level(data[base+plane+i]),
					B: level(data[base+2*plane+i]),
					A: 255,
				})
			}
		}
	}
	return img, nil
}

func tileOrigin(k, cols, h, w int) (int, int) {
	return (k%cols)*(w+GridPadding) + GridPadding, (k/cols)*(h+GridPadding) + GridPadding
}

// Enlarge scales img up by an integer factor until it is at least
// minWidth pixels wide. Images that are already wide enough are returned
// unchanged.
func Enlarge(img image.Image, minWidth int) image.Image {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dx() >= minWidth {
		return img
	}
	factor := (minWidth + b.Dx() - 1) / b.Dx()
	r := image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor)
	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(r)
	} else {
		dst = image.NewRGBA(r)
	}
	draw.NearestNeighbor.Scale(dst, r, img, b, draw.Src, nil)
	return dst
}
