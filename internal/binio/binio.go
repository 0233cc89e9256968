// Package binio provides the big-endian primitives shared by every binary
// format in this module: speech frames, frame sequences and GMM files.
//
// The byte order is frozen. None of the record layouts carry a byte-order
// marker of their own, so a reader and a writer built on this package always
// agree; containers that need a self-check add a magic number on top.
package binio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Encoded sizes of the fixed-width fields.
const (
	Int16Size   = 2
	Int32Size   = 4
	Float32Size = 4
	Float64Size = 8
	BoolSize    = 1
)

// MaxLength bounds any length prefix read from a stream.
const MaxLength = 1 << 26

// maxPrealloc caps the elements allocated up front for a length prefix.
// Longer arrays grow as their data arrives, so a corrupt prefix cannot
// allocate more than the stream actually holds.
const maxPrealloc = 4096

// Error message formats.
const (
	errFmtEndOfStream   = "%w: reading %s: %w"
	errFmtInvalidLength = "%w: %d"
)

var (
	// ErrEndOfStream is returned when a stream ends in the middle of a record.
	ErrEndOfStream = errors.New("end of stream")
	// ErrInvalidLength is returned for a negative or implausibly large length prefix.
	ErrInvalidLength = errors.New("invalid length prefix")
)

var byteOrder = binary.BigEndian

// Writer encodes fixed-width values. The first error is kept and every later
// call becomes a no-op, so callers check Err once after a full record.
type Writer struct {
	w   io.Writer
	buf [8]byte
	n   int64
	err error
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first write error, if any.
func (w *Writer) Err() error {
	return w.err
}

// Written returns the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.n
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}

	n, err := w.w.Write(p)
	w.n += int64(n)

	if err != nil {
		w.err = fmt.Errorf("binio write: %w", err)
	}
}

// Int16 writes v.
func (w *Writer) Int16(v int16) {
	byteOrder.PutUint16(w.buf[:Int16Size], uint16(v))
	w.write(w.buf[:Int16Size])
}

// Int32 writes v.
func (w *Writer) Int32(v int32) {
	byteOrder.PutUint32(w.buf[:Int32Size], uint32(v))
	w.write(w.buf[:Int32Size])
}

// Float32 writes v.
func (w *Writer) Float32(v float32) {
	byteOrder.PutUint32(w.buf[:Float32Size], math.Float32bits(v))
	w.write(w.buf[:Float32Size])
}

// Float64 writes v.
func (w *Writer) Float64(v float64) {
	byteOrder.PutUint64(w.buf[:Float64Size], math.Float64bits(v))
	w.write(w.buf[:Float64Size])
}

// Bool writes v as a single byte.
func (w *Writer) Bool(v bool) {
	w.buf[0] = 0
	if v {
		w.buf[0] = 1
	}

	w.write(w.buf[:BoolSize])
}

// Bytes writes p verbatim.
func (w *Writer) Bytes(p []byte) {
	w.write(p)
}

// Int16s writes the values without a length prefix.
func (w *Writer) Int16s(values []int16) {
	for _, v := range values {
		w.Int16(v)
	}
}

// Float32s writes the values without a length prefix.
func (w *Writer) Float32s(values []float32) {
	for _, v := range values {
		w.Float32(v)
	}
}

// Float64s writes the values without a length prefix.
func (w *Writer) Float64s(values []float64) {
	for _, v := range values {
		w.Float64(v)
	}
}

// String writes an int32 byte length followed by the UTF-8 bytes of s.
func (w *Writer) String(s string) {
	w.Int32(int32(len(s)))
	w.write([]byte(s))
}

// Reader decodes fixed-width values. Any short read surfaces as ErrEndOfStream.
type Reader struct {
	r   io.Reader
	buf [8]byte
	n   int64
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Consumed returns the number of bytes read so far.
func (r *Reader) Consumed() int64 {
	return r.n
}

func (r *Reader) fill(p []byte, what string) error {
	n, err := io.ReadFull(r.r, p)
	r.n += int64(n)

	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf(errFmtEndOfStream, ErrEndOfStream, what, err)
		}

		return fmt.Errorf("binio read %s: %w", what, err)
	}

	return nil
}

// Int16 reads one int16.
func (r *Reader) Int16() (int16, error) {
	err := r.fill(r.buf[:Int16Size], "int16")
	if err != nil {
		return 0, err
	}

	return int16(byteOrder.Uint16(r.buf[:Int16Size])), nil
}

// Int32 reads one int32.
func (r *Reader) Int32() (int32, error) {
	err := r.fill(r.buf[:Int32Size], "int32")
	if err != nil {
		return 0, err
	}

	return int32(byteOrder.Uint32(r.buf[:Int32Size])), nil
}

// Float32 reads one float32.
func (r *Reader) Float32() (float32, error) {
	err := r.fill(r.buf[:Float32Size], "float32")
	if err != nil {
		return 0, err
	}

	return math.Float32frombits(byteOrder.Uint32(r.buf[:Float32Size])), nil
}

// Float64 reads one float64.
func (r *Reader) Float64() (float64, error) {
	err := r.fill(r.buf[:Float64Size], "float64")
	if err != nil {
		return 0, err
	}

	return math.Float64frombits(byteOrder.Uint64(r.buf[:Float64Size])), nil
}

// Bool reads one byte; any non-zero value is true.
func (r *Reader) Bool() (bool, error) {
	err := r.fill(r.buf[:BoolSize], "bool")
	if err != nil {
		return false, err
	}

	return r.buf[0] != 0, nil
}

// Bytes reads exactly len(p) bytes into p.
func (r *Reader) Bytes(p []byte) error {
	return r.fill(p, "bytes")
}

// Length reads an int32 length prefix and checks it against MaxLength.
func (r *Reader) Length() (int, error) {
	n, err := r.Int32()
	if err != nil {
		return 0, err
	}

	if n < 0 || n > MaxLength {
		return 0, fmt.Errorf(errFmtInvalidLength, ErrInvalidLength, n)
	}

	return int(n), nil
}

// Int16s reads n int16 values.
func (r *Reader) Int16s(n int) ([]int16, error) {
	values := make([]int16, 0, InitialCapacity(n))

	for range n {
		v, err := r.Int16()
		if err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	return values, nil
}

// Float32s reads n float32 values.
func (r *Reader) Float32s(n int) ([]float32, error) {
	values := make([]float32, 0, InitialCapacity(n))

	for range n {
		v, err := r.Float32()
		if err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	return values, nil
}

// Float64s reads n float64 values.
func (r *Reader) Float64s(n int) ([]float64, error) {
	values := make([]float64, 0, InitialCapacity(n))

	for range n {
		v, err := r.Float64()
		if err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	return values, nil
}

// String reads a length-prefixed UTF-8 string.
func (r *Reader) String() (string, error) {
	n, err := r.Length()
	if err != nil {
		return "", err
	}

	if n == 0 {
		return "", nil
	}

	p := make([]byte, 0, InitialCapacity(n))

	for len(p) < n {
		chunk := min(n-len(p), maxPrealloc)
		p = append(p, make([]byte, chunk)...)

		err = r.fill(p[len(p)-chunk:], "string")
		if err != nil {
			return "", err
		}
	}

	return string(p), nil
}

// InitialCapacity returns the capacity to allocate for n elements announced
// by a length prefix.
func InitialCapacity(n int) int {
	return max(0, min(n, maxPrealloc))
}
