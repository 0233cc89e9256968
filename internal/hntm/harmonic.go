package hntm

import (
	"fmt"

	"github.com/book-expert/hntm-service/internal/binio"
)

// harmonicRecordSize is the encoded size of one amplitude/phase/frequency triplet.
const harmonicRecordSize = 3 * binio.Float32Size

// Harmonic is one sinusoidal component of a frame.
type Harmonic struct {
	Amplitude   float32 `json:"amplitude"   yaml:"amplitude"`
	Phase       float32 `json:"phase"       yaml:"phase"`
	FrequencyHz float32 `json:"frequencyHz" yaml:"frequency_hz"`
}

// HarmonicPart holds the periodic component of a frame. The number of
// harmonics varies from frame to frame and may be zero.
type HarmonicPart struct {
	Harmonics []Harmonic
}

// Len returns the number of harmonics.
func (h *HarmonicPart) Len() int {
	return len(h.Harmonics)
}

// EncodedLength returns the exact number of bytes Write produces.
func (h *HarmonicPart) EncodedLength() int {
	return binio.Int32Size + harmonicRecordSize*len(h.Harmonics)
}

// Energy returns the sum of squared amplitudes.
func (h *HarmonicPart) Energy() float64 {
	energy := 0.0
	for _, harmonic := range h.Harmonics {
		energy += float64(harmonic.Amplitude) * float64(harmonic.Amplitude)
	}

	return energy
}

// Clone returns a deep copy.
func (h *HarmonicPart) Clone() HarmonicPart {
	if h.Harmonics == nil {
		return HarmonicPart{}
	}

	harmonics := make([]Harmonic, len(h.Harmonics))
	copy(harmonics, h.Harmonics)

	return HarmonicPart{Harmonics: harmonics}
}

// Equal reports whether both parts hold the same harmonics within tol.
func (h *HarmonicPart) Equal(other *HarmonicPart, tol float32) bool {
	if len(h.Harmonics) != len(other.Harmonics) {
		return false
	}

	for i, a := range h.Harmonics {
		b := other.Harmonics[i]
		if !closeTo(a.Amplitude, b.Amplitude, tol) ||
			!closeTo(a.Phase, b.Phase, tol) ||
			!closeTo(a.FrequencyHz, b.FrequencyHz, tol) {
			return false
		}
	}

	return true
}

// Write encodes the part as an int32 count followed by the triplets.
func (h *HarmonicPart) Write(w *binio.Writer) error {
	w.Int32(int32(len(h.Harmonics)))

	for _, harmonic := range h.Harmonics {
		w.Float32(harmonic.Amplitude)
		w.Float32(harmonic.Phase)
		w.Float32(harmonic.FrequencyHz)
	}

	return w.Err()
}

// ReadHarmonicPart decodes a part written by HarmonicPart.Write.
func ReadHarmonicPart(r *binio.Reader) (HarmonicPart, error) {
	count, err := r.Length()
	if err != nil {
		return HarmonicPart{}, fmt.Errorf("harmonic count: %w", err)
	}

	harmonics := make([]Harmonic, 0, binio.InitialCapacity(count))

	for i := range count {
		values, readErr := r.Float32s(3)
		if readErr != nil {
			return HarmonicPart{}, fmt.Errorf("harmonic %d: %w", i, readErr)
		}

		harmonics = append(harmonics, Harmonic{Amplitude: values[0], Phase: values[1], FrequencyHz: values[2]})
	}

	return HarmonicPart{Harmonics: harmonics}, nil
}

func closeTo(a, b, tol float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}

	return d <= tol
}

func closeToSlice(a, b []float32, tol float32) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if !closeTo(a[i], b[i], tol) {
			return false
		}
	}

	return true
}
