// Package summary records training scalars, image grids and histograms.
// Every value is tagged "<tag>/<mode>" where mode is the phase set by the
// last SetStep call, e.g. "loss/train".
package summary

import (
	"errors"
	"image"
)

type Writer interface {
	SetStep(step int, mode string)
	AddScalar(tag string, value float64) error
	AddImage(tag string, img image.Image) error
	AddHistogram(tag string, values []float64) error
	Close() error
}

// Tag joins a tag with the current mode.
func Tag(tag, mode string) string {
	if mode == "" {
		return tag
	}
	return tag + "/" + mode
}

// Nop discards everything.
type Nop struct{}

func (Nop) SetStep(int, string)                  {}
func (Nop) AddScalar(string, float64) error      { return nil }
func (Nop) AddImage(string, image.Image) error   { return nil }
func (Nop) AddHistogram(string, []float64) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans every call out to all writers and joins their errors.
type Multi []Writer

func (m Multi) SetStep(step int, mode string) {
	for _, w := range m {
		w.SetStep(step, mode)
	}
}

func (m Multi) AddScalar(tag string, value float64) error {
	return m.each(func(w Writer) error { return w.AddScalar(tag, value) })
}

func (m Multi) AddImage(tag string, img image.Image) error {
	return m.each(func(w Writer) error { return w.AddImage(tag, img) })
}

func (m Multi) AddHistogram(tag string, values []float64) error {
	return m.each(func(w Writer) error { return w.AddHistogram(tag, values) })
}

func (m Multi) Close() error {
	return m.each(Writer.Close)
}

func (m Multi) each(fn func(Writer) error) error {
	var errs []error
	for _, w := range m {
		if err := fn(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
