// Package hntm implements the harmonic-plus-noise speech frame model and its
// binary codec.
//
// A frame is encoded as
//
//	float32 f0 (Hz)
//	float32 maximum voicing frequency (Hz, 0 for unvoiced frames)
//	float32 analysis time delta (s, -1 when unset)
//	harmonic part
//	noise part, in the layout of the externally configured NoiseModel
//
// All values are big-endian (see package binio). The layout carries no
// version or tag; the reader must be given the same NoiseModel the writer used.
package hntm

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/hntm-service/internal/binio"
)

const (
	// frameScalarsLength covers f0, maximum voicing frequency and time delta.
	frameScalarsLength = 3 * binio.Float32Size
	// unsetSecondsOnWire marks an unset time delta in the encoding.
	unsetSecondsOnWire float32 = -1.0
)

var (
	// ErrNegativeSeconds is returned when a set time delta is negative.
	ErrNegativeSeconds = errors.New("analysis time delta must not be negative")
	// ErrNonFinite is returned when a frame scalar is NaN or infinite.
	ErrNonFinite = errors.New("frame value is not finite")
)

// Voicing records the upper frequency bound of the periodic band. A zero
// bound means the frame is unvoiced.
type Voicing struct {
	MaxFrequencyHz float32
}

// Unvoiced returns the voicing of a frame without a periodic band.
func Unvoiced() Voicing {
	return Voicing{}
}

// VoicedUpTo returns the voicing of a frame periodic below hz.
func VoicedUpTo(hz float32) Voicing {
	return Voicing{MaxFrequencyHz: hz}
}

// Voiced reports whether the frame has a periodic band.
func (v Voicing) Voiced() bool {
	return v.MaxFrequencyHz > 0
}

// OptionalSeconds is a duration in seconds that may be unset.
type OptionalSeconds struct {
	Value float32
	Valid bool
}

// Seconds returns a set OptionalSeconds.
func Seconds(value float32) OptionalSeconds {
	return OptionalSeconds{Value: value, Valid: true}
}

func (s OptionalSeconds) wire() float32 {
	if !s.Valid {
		return unsetSecondsOnWire
	}

	return s.Value
}

func secondsFromWire(value float32) OptionalSeconds {
	if value < 0 {
		return OptionalSeconds{}
	}

	return Seconds(value)
}

// SpeechFrame is one analysis frame: a harmonic part that is always present,
// an optional noise part and the pitch/voicing metadata. A frame exclusively
// owns its parts; Clone never shares slices.
type SpeechFrame struct {
	Harmonic      HarmonicPart
	Noise         NoisePart
	F0Hz          float32
	Voicing       Voicing
	AnalysisDelta OptionalSeconds
}

// EncodedLength returns the exact size of the frame's encoding under model,
// allowing offsets into a stream of frames to be computed without decoding.
func (f *SpeechFrame) EncodedLength(model NoiseModel) int {
	noiseLength := EmptyNoiseLength(model)
	if !noiseAbsent(f.Noise) {
		noiseLength = f.Noise.EncodedLength()
	}

	return frameScalarsLength + f.Harmonic.EncodedLength() + noiseLength
}

// Write encodes the frame. The noise part, when present, must be of the
// variant selected by model.
func (f *SpeechFrame) Write(w *binio.Writer, model NoiseModel) error {
	if !model.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownNoiseModel, model)
	}

	if !noiseAbsent(f.Noise) && f.Noise.Model() != model {
		return fmt.Errorf("%w: frame has %s, stream uses %s", ErrNoiseModelMismatch, f.Noise.Model(), model)
	}

	err := f.checkScalars()
	if err != nil {
		return err
	}

	w.Float32(f.F0Hz)
	w.Float32(f.Voicing.MaxFrequencyHz)
	w.Float32(f.AnalysisDelta.wire())

	err = f.Harmonic.Write(w)
	if err != nil {
		return fmt.Errorf("write harmonic part: %w", err)
	}

	if noiseAbsent(f.Noise) {
		err = writeEmptyNoise(w, model)
	} else {
		err = f.Noise.Write(w)
	}

	if err != nil {
		return fmt.Errorf("write noise part: %w", err)
	}

	return nil
}

func (f *SpeechFrame) checkScalars() error {
	switch {
	case !finite(f.F0Hz):
		return fmt.Errorf("%w: f0 %f", ErrNonFinite, f.F0Hz)
	case !finite(f.Voicing.MaxFrequencyHz):
		return fmt.Errorf("%w: maximum voicing frequency %f", ErrNonFinite, f.Voicing.MaxFrequencyHz)
	case f.AnalysisDelta.Valid && !finite(f.AnalysisDelta.Value):
		return fmt.Errorf("%w: time delta %f", ErrNonFinite, f.AnalysisDelta.Value)
	case f.AnalysisDelta.Valid && f.AnalysisDelta.Value < 0:
		return fmt.Errorf("%w: %f", ErrNegativeSeconds, f.AnalysisDelta.Value)
	}

	return nil
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

// MarshalFrame encodes a single frame into a new byte slice.
func MarshalFrame(f *SpeechFrame, model NoiseModel) ([]byte, error) {
	var buf bytes.Buffer

	buf.Grow(f.EncodedLength(model))

	err := f.Write(binio.NewWriter(&buf), model)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// ReadSpeechFrame decodes one frame. A stream that ends inside the frame
// yields binio.ErrEndOfStream and no frame.
func ReadSpeechFrame(r *binio.Reader, model NoiseModel) (*SpeechFrame, error) {
	if !model.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNoiseModel, model)
	}

	scalars, err := r.Float32s(3)
	if err != nil {
		return nil, fmt.Errorf("frame scalars: %w", err)
	}

	harmonic, err := ReadHarmonicPart(r)
	if err != nil {
		return nil, err
	}

	noise, err := ReadNoisePart(r, model)
	if err != nil {
		return nil, err
	}

	voicing := Unvoiced()
	if scalars[1] > 0 {
		voicing = VoicedUpTo(scalars[1])
	}

	return &SpeechFrame{
		Harmonic:      harmonic,
		Noise:         noise,
		F0Hz:          scalars[0],
		Voicing:       voicing,
		AnalysisDelta: secondsFromWire(scalars[2]),
	}, nil
}

// Clone returns a deep copy of the frame.
func (f *SpeechFrame) Clone() *SpeechFrame {
	clone := &SpeechFrame{
		Harmonic:      f.Harmonic.Clone(),
		F0Hz:          f.F0Hz,
		Voicing:       f.Voicing,
		AnalysisDelta: f.AnalysisDelta,
	}

	if !noiseAbsent(f.Noise) {
		clone.Noise = f.Noise.Clone()
	}

	return clone
}

// Equal compares two frames field by field within tol. An absent noise part
// equals an empty one.
func (f *SpeechFrame) Equal(other *SpeechFrame, tol float32) bool {
	if other == nil {
		return false
	}

	if !closeTo(f.F0Hz, other.F0Hz, tol) ||
		!closeTo(f.Voicing.MaxFrequencyHz, other.Voicing.MaxFrequencyHz, tol) ||
		f.AnalysisDelta.Valid != other.AnalysisDelta.Valid ||
		(f.AnalysisDelta.Valid && !closeTo(f.AnalysisDelta.Value, other.AnalysisDelta.Value, tol)) {
		return false
	}

	if !f.Harmonic.Equal(&other.Harmonic, tol) {
		return false
	}

	if noiseAbsent(f.Noise) || noiseAbsent(other.Noise) {
		return noiseAbsent(f.Noise) && noiseAbsent(other.Noise)
	}

	return f.Noise.Equal(other.Noise, tol)
}
