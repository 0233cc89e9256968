package hntm

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// DefaultPseudoF0Hz spaces the pseudo-harmonics of unvoiced frames.
const DefaultPseudoF0Hz = 100.0

// int16Scale maps waveform samples onto [-1, 1).
const int16Scale = 1 << 15

var (
	// ErrInvalidSampleRate is returned for a non-positive sample rate.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidFFTSize is returned for an FFT size below two.
	ErrInvalidFFTSize = errors.New("FFT size must be at least 2")
)

// NoiseEnvelope samples the amplitude envelope of part at fftSize/2+1 bins
// spaced evenly from 0 Hz to sampleRate/2. LPC parts use the all-pole
// response, pseudo-harmonic parts their cepstral envelope and waveform parts
// the magnitude spectrum of the samples. An absent part has no envelope.
func NoiseEnvelope(part NoisePart, fftSize, sampleRate int) ([]float64, error) {
	if fftSize < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFFTSize, fftSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}

	if noiseAbsent(part) {
		return nil, nil
	}

	switch p := part.(type) {
	case *LPCNoisePart:
		return p.Envelope(fftSize)
	case *PseudoHarmonicNoisePart:
		env := make([]float64, fftSize/2+1)
		for k := range env {
			env[k] = p.AmplitudeAt(float64(k)*float64(sampleRate)/float64(fftSize), sampleRate)
		}

		return env, nil
	case *WaveformNoisePart:
		return p.Spectrum(fftSize), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownNoiseModel, part)
	}
}

// Spectrum returns the magnitude spectrum of the first fftSize samples,
// zero-padded when shorter, at fftSize/2+1 bins.
func (p *WaveformNoisePart) Spectrum(fftSize int) []float64 {
	frame := make([]float64, fftSize)
	for i := range min(fftSize, len(p.Samples)) {
		frame[i] = float64(p.Samples[i]) / int16Scale
	}

	spectrum := fft.FFTReal(frame)
	magnitudes := make([]float64, fftSize/2+1)

	for k := range magnitudes {
		magnitudes[k] = math.Hypot(real(spectrum[k]), imag(spectrum[k]))
	}

	return magnitudes
}

// PseudoHarmonics lays out the pseudo-harmonics of the frame's noise band,
// from the maximum voicing frequency up to Nyquist, spaced at the frame's f0
// or DefaultPseudoF0Hz when the frame has none. Frames without a
// pseudo-harmonic noise part yield nil.
func (f *SpeechFrame) PseudoHarmonics(sampleRate int) ([]Harmonic, error) {
	part, ok := f.Noise.(*PseudoHarmonicNoisePart)
	if !ok || noiseAbsent(part) {
		return nil, nil
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}

	pseudoF0 := float64(f.F0Hz)
	if pseudoF0 <= 0 {
		pseudoF0 = DefaultPseudoF0Hz
	}

	return part.Harmonics(pseudoF0, float64(f.Voicing.MaxFrequencyHz), sampleRate)
}
