package hntm

import (
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/hntm-service/internal/binio"
)

// ErrInvalidPseudoF0 is returned when pseudo-harmonics are requested with a non-positive spacing.
var ErrInvalidPseudoF0 = errors.New("pseudo f0 must be positive")

// PseudoHarmonicNoisePart describes the noise by the real cepstrum of its
// log-amplitude envelope. Synthesis places harmonic-like components at a
// fixed pseudo f0 and reads their amplitudes from the envelope.
type PseudoHarmonicNoisePart struct {
	Ceps []float32
}

// Model implements NoisePart.
func (p *PseudoHarmonicNoisePart) Model() NoiseModel {
	return NoisePseudoHarmonic
}

// EncodedLength implements NoisePart.
func (p *PseudoHarmonicNoisePart) EncodedLength() int {
	return binio.Int32Size + binio.Float32Size*len(p.Ceps)
}

// Write implements NoisePart.
func (p *PseudoHarmonicNoisePart) Write(w *binio.Writer) error {
	w.Int32(int32(len(p.Ceps)))
	w.Float32s(p.Ceps)

	return w.Err()
}

func readPseudoHarmonicNoisePart(r *binio.Reader) (*PseudoHarmonicNoisePart, error) {
	n, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("cepstrum length: %w", err)
	}

	ceps, err := r.Float32s(n)
	if err != nil {
		return nil, fmt.Errorf("cepstrum: %w", err)
	}

	return &PseudoHarmonicNoisePart{Ceps: ceps}, nil
}

// Clone implements NoisePart.
func (p *PseudoHarmonicNoisePart) Clone() NoisePart {
	return &PseudoHarmonicNoisePart{Ceps: append([]float32(nil), p.Ceps...)}
}

// Equal implements NoisePart.
func (p *PseudoHarmonicNoisePart) Equal(other NoisePart, tol float32) bool {
	o, ok := other.(*PseudoHarmonicNoisePart)

	return ok && closeToSlice(p.Ceps, o.Ceps, tol)
}

func (p *PseudoHarmonicNoisePart) empty() bool {
	return len(p.Ceps) == 0
}

// AmplitudeAt evaluates the cepstral envelope at freqHz.
func (p *PseudoHarmonicNoisePart) AmplitudeAt(freqHz float64, sampleRate int) float64 {
	if len(p.Ceps) == 0 {
		return 0
	}

	w := 2 * math.Pi * freqHz / float64(sampleRate)
	logAmp := float64(p.Ceps[0])

	for k := 1; k < len(p.Ceps); k++ {
		logAmp += 2 * float64(p.Ceps[k]) * math.Cos(float64(k)*w)
	}

	return math.Exp(logAmp)
}

// Harmonics lays out pseudo-harmonics at multiples of pseudoF0Hz from the
// first multiple at or above fromHz up to the Nyquist frequency. Phases are
// left at zero for the synthesizer to randomise.
func (p *PseudoHarmonicNoisePart) Harmonics(pseudoF0Hz, fromHz float64, sampleRate int) ([]Harmonic, error) {
	if pseudoF0Hz <= 0 {
		return nil, fmt.Errorf("%w: %f", ErrInvalidPseudoF0, pseudoF0Hz)
	}

	nyquist := 0.5 * float64(sampleRate)
	first := math.Max(1, math.Ceil(fromHz/pseudoF0Hz))

	var harmonics []Harmonic

	for k := first; k*pseudoF0Hz < nyquist; k++ {
		freq := k * pseudoF0Hz
		harmonics = append(harmonics, Harmonic{
			Amplitude:   float32(p.AmplitudeAt(freq, sampleRate)),
			FrequencyHz: float32(freq),
		})
	}

	return harmonics, nil
}
