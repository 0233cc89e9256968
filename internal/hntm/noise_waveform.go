package hntm

import (
	"fmt"
	"math"

	"github.com/book-expert/hntm-service/internal/binio"
	"github.com/book-expert/hntm-service/internal/lpc"
)

// WaveformNoisePart keeps the noise as raw 16-bit samples.
type WaveformNoisePart struct {
	Samples []int16
}

// Model implements NoisePart.
func (p *WaveformNoisePart) Model() NoiseModel {
	return NoiseWaveform
}

// EncodedLength implements NoisePart.
func (p *WaveformNoisePart) EncodedLength() int {
	return binio.Int32Size + binio.Int16Size*len(p.Samples)
}

// Write implements NoisePart.
func (p *WaveformNoisePart) Write(w *binio.Writer) error {
	w.Int32(int32(len(p.Samples)))
	w.Int16s(p.Samples)

	return w.Err()
}

func readWaveformNoisePart(r *binio.Reader) (*WaveformNoisePart, error) {
	n, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("sample count: %w", err)
	}

	samples, err := r.Int16s(n)
	if err != nil {
		return nil, fmt.Errorf("samples: %w", err)
	}

	return &WaveformNoisePart{Samples: samples}, nil
}

// Clone implements NoisePart.
func (p *WaveformNoisePart) Clone() NoisePart {
	return &WaveformNoisePart{Samples: append([]int16(nil), p.Samples...)}
}

// Equal implements NoisePart. Samples are integers and compare exactly.
func (p *WaveformNoisePart) Equal(other NoisePart, _ float32) bool {
	o, ok := other.(*WaveformNoisePart)
	if !ok || len(p.Samples) != len(o.Samples) {
		return false
	}

	for i := range p.Samples {
		if p.Samples[i] != o.Samples[i] {
			return false
		}
	}

	return true
}

func (p *WaveformNoisePart) empty() bool {
	return len(p.Samples) == 0
}

// ToLPC fits an all-pole model of the given order to the samples and keeps
// the waveform's energy and standard deviation as residual descriptors.
func (p *WaveformNoisePart) ToLPC(order int) (*LPCNoisePart, error) {
	samples := make([]float64, len(p.Samples))
	mean := 0.0

	for i, s := range p.Samples {
		samples[i] = float64(s)
		mean += samples[i]
	}

	coeffs, gain, err := lpc.Analyze(samples, order)
	if err != nil {
		return nil, fmt.Errorf("waveform LPC analysis: %w", err)
	}

	n := float64(len(samples))
	mean /= n
	energy, variance := 0.0, 0.0

	for _, s := range samples {
		energy += s * s
		variance += (s - mean) * (s - mean)
	}

	part := &LPCNoisePart{
		Coeffs:                  make([]float32, order),
		Gain:                    float32(gain),
		OrigAverageSampleEnergy: float32(energy / n),
		OrigNoiseStd:            float32(math.Sqrt(variance / n)),
	}

	for i, c := range coeffs {
		part.Coeffs[i] = float32(c)
	}

	return part, nil
}
