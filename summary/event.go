package summary

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the record checksum used by TensorFlow record files.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// EventWriter appends Event records to a tfevents file that TensorBoard
// can read.
type EventWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer
	step int
	mode string
	now  func() time.Time
	last time.Time
}

// NewEventWriter creates events.out.tfevents.<unix>.<host> inside dir.
func NewEventWriter(dir string) (*EventWriter, error) {
	return newEventWriter(dir, time.Now)
}

func newEventWriter(dir string, now func() time.Time) (*EventWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	start := now()
	path := filepath.Join(dir, fmt.Sprintf("events.out.tfevents.%d.%s", start.Unix(), host))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	w := &EventWriter{path: path, file: f, buf: bufio.NewWriter(f), now: now, last: start}
	header := protowire.AppendTag(nil, 3, protowire.BytesType)
	header = protowire.AppendString(header, "brain.Event:2")
	if err := w.writeEvent(header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *EventWriter) Path() string {
	return w.path
}

// SetStep moves to a new global step. Moving to a non-zero step also
// records steps_per_sec since the previous call.
func (w *EventWriter) SetStep(step int, mode string) {
	w.mu.Lock()
	w.step, w.mode = step, mode
	now := w.now()
	elapsed := now.Sub(w.last)
	w.last = now
	w.mu.Unlock()
	if step != 0 && elapsed > 0 {
		_ = w.AddScalar("steps_per_sec", 1/elapsed.Seconds())
	}
}

func (w *EventWriter) AddScalar(tag string, value float64) error {
	v := w.valueHeader(tag)
	v = protowire.AppendTag(v, 2, protowire.Fixed32Type)
	v = protowire.AppendFixed32(v, math.Float32bits(float32(value)))
	return w.writeSummary(v)
}

func (w *EventWriter) AddImage(tag string, img image.Image) error {
	var encoded bytes.Buffer
	if err := png.Encode(&encoded, img); err != nil {
		return fmt.Errorf("summary: encode image %s: %w", tag, err)
	}
	b := img.Bounds()
	var im []byte
	im = protowire.AppendTag(im, 1, protowire.VarintType)
	im = protowire.AppendVarint(im, uint64(b.Dy()))
	im = protowire.AppendTag(im, 2, protowire.VarintType)
	im = protowire.AppendVarint(im, uint64(b.Dx()))
	im = protowire.AppendTag(im, 3, protowire.VarintType)
	im = protowire.AppendVarint(im, uint64(colorspace(img)))
	im = protowire.AppendTag(im, 4, protowire.BytesType)
	im = protowire.AppendBytes(im, encoded.Bytes())

	v := w.valueHeader(tag)
	v = protowire.AppendTag(v, 4, protowire.BytesType)
	v = protowire.AppendBytes(v, im)
	return w.writeSummary(v)
}

func (w *EventWriter) AddHistogram(tag string, values []float64) error {
	h := NewHistogram(values)
	var hp []byte
	for i, f := range []float64{h.Min, h.Max, h.Num, h.Sum, h.SumSquares} {
		hp = protowire.AppendTag(hp, protowire.Number(i+1), protowire.Fixed64Type)
		hp = protowire.AppendFixed64(hp, math.Float64bits(f))
	}
	hp = appendPackedDoubles(hp, 6, h.BucketLimit)
	hp = appendPackedDoubles(hp, 7, h.Bucket)

	v := w.valueHeader(tag)
	v = protowire.AppendTag(v, 5, protowire.BytesType)
	v = protowire.AppendBytes(v, hp)
	return w.writeSummary(v)
}

func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// Flush pushes buffered records to disk.
func (w *EventWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.buf.Flush()
}

func (w *EventWriter) valueHeader(tag string) []byte {
	w.mu.Lock()
	mode := w.mode
	w.mu.Unlock()
	v := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendString(v, Tag(tag, mode))
}

func (w *EventWriter) writeSummary(value []byte) error {
	s := protowire.AppendTag(nil, 1, protowire.BytesType)
	s = protowire.AppendBytes(s, value)
	ev := protowire.AppendTag(nil, 5, protowire.BytesType)
	ev = protowire.AppendBytes(ev, s)
	return w.writeEvent(ev)
}

// writeEvent prefixes body with wall_time and step and frames it as a
// record.
func (w *EventWriter) writeEvent(body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return fmt.Errorf("summary: %s is closed", w.path)
	}
	now := w.now()
	ev := protowire.AppendTag(nil, 1, protowire.Fixed64Type)
	ev = protowire.AppendFixed64(ev, math.Float64bits(float64(now.UnixNano())/1e9))
	ev = protowire.AppendTag(ev, 2, protowire.VarintType)
	ev = protowire.AppendVarint(ev, uint64(w.step))
	ev = append(ev, body...)

	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(ev)))
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], maskedCRC(header[:]))
	var tail [4]byte
	binary.LittleEndian.PutUint32(tail[:], maskedCRC(ev))
	for _, part := range [][]byte{header[:], crc[:], ev, tail[:]} {
		if _, err := w.buf.Write(part); err != nil {
			return fmt.Errorf("summary: write %s: %w", w.path, err)
		}
	}
	return nil
}

func appendPackedDoubles(b []byte, num protowire.Number, values []float64) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// colorspace reports the channel count TensorBoard expects for the PNG
// that png.Encode writes for img.
func colorspace(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return 3
	}
	return 4
}
