package metric

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrNotFinite is returned by Update for NaN and infinite values.
var ErrNotFinite = errors.New("metric: value is not finite")

// ScalarWriter receives every value a Tracker accepts.
type ScalarWriter interface {
	AddScalar(tag string, value float64) error
}

// Tracker keeps running weighted averages per key.
type Tracker struct {
	keys   []string
	total  map[string]float64
	counts map[string]int
	writer ScalarWriter
}

// NewTracker tracks keys in the given order. writer may be nil.
func NewTracker(writer ScalarWriter, keys ...string) *Tracker {
	t := &Tracker{keys: slices.Clone(keys), writer: writer}
	t.Reset()
	return t
}

func (t *Tracker) Reset() {
	t.total = make(map[string]float64, len(t.keys))
	t.counts = make(map[string]int, len(t.keys))
}

// Update adds value observed n times under key. Non-finite values are
// rejected with ErrNotFinite.
func (t *Tracker) Update(key string, value float64, n int) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %s = %v", ErrNotFinite, key, value)
	}
	if !slices.Contains(t.keys, key) {
		t.keys = append(t.keys, key)
	}
	if t.writer != nil {
		if err := t.writer.AddScalar(key, value); err != nil {
			return err
		}
	}
	t.total[key] += value * float64(n)
	t.counts[key] += n
	return nil
}

// UpdateMetric is Update for metric results, which are NaN when the batch
// had no valid pixels. Such values are dropped and never reach the writer.
func (t *Tracker) UpdateMetric(key string, value float64, n int) error {
	if math.IsNaN(value) {
		return nil
	}
	return t.Update(key, value, n)
}

// Count returns how many observations key has received since the last
// Reset.
func (t *Tracker) Count(key string) int {
	return t.counts[key]
}

// Avg returns the running average for key, or NaN before any update.
func (t *Tracker) Avg(key string) float64 {
	n := t.counts[key]
	if n == 0 {
		return math.NaN()
	}
	return t.total[key] / float64(n)
}

func (t *Tracker) Keys() []string {
	return slices.Clone(t.keys)
}

// Result returns the averages of every key that received a value.
func (t *Tracker) Result() map[string]float64 {
	out := make(map[string]float64, len(t.keys))
	for _, k := range t.keys {
		if t.counts[k] > 0 {
			out[k] = t.Avg(k)
		}
	}
	return out
}
