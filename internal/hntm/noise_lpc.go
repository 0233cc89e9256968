package hntm

import (
	"errors"
	"fmt"

	"github.com/book-expert/hntm-service/internal/binio"
	"github.com/book-expert/hntm-service/internal/lpc"
)

// lpcFixedLength covers the order prefix and the three residual scalars.
const lpcFixedLength = binio.Int32Size + 3*binio.Float32Size

// ErrOrderMismatch is returned when LPC parts of different orders are combined.
var ErrOrderMismatch = errors.New("LPC order mismatch")

// LPCNoisePart models the noise as an all-pole filter driven by a residual
// of the given gain.
type LPCNoisePart struct {
	Coeffs                  []float32
	Gain                    float32
	OrigAverageSampleEnergy float32
	OrigNoiseStd            float32
}

// Model implements NoisePart.
func (p *LPCNoisePart) Model() NoiseModel {
	return NoiseLPC
}

// Order returns the prediction order.
func (p *LPCNoisePart) Order() int {
	return len(p.Coeffs)
}

// EncodedLength implements NoisePart.
func (p *LPCNoisePart) EncodedLength() int {
	return lpcFixedLength + binio.Float32Size*len(p.Coeffs)
}

// Write implements NoisePart.
func (p *LPCNoisePart) Write(w *binio.Writer) error {
	w.Int32(int32(len(p.Coeffs)))
	w.Float32s(p.Coeffs)
	w.Float32(p.Gain)
	w.Float32(p.OrigAverageSampleEnergy)
	w.Float32(p.OrigNoiseStd)

	return w.Err()
}

func readLPCNoisePart(r *binio.Reader) (*LPCNoisePart, error) {
	order, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("order: %w", err)
	}

	coeffs, err := r.Float32s(order)
	if err != nil {
		return nil, fmt.Errorf("coefficients: %w", err)
	}

	scalars, err := r.Float32s(3)
	if err != nil {
		return nil, fmt.Errorf("residual: %w", err)
	}

	return &LPCNoisePart{
		Coeffs:                  coeffs,
		Gain:                    scalars[0],
		OrigAverageSampleEnergy: scalars[1],
		OrigNoiseStd:            scalars[2],
	}, nil
}

// Clone implements NoisePart.
func (p *LPCNoisePart) Clone() NoisePart {
	clone := *p
	clone.Coeffs = append([]float32(nil), p.Coeffs...)

	return &clone
}

// Equal implements NoisePart.
func (p *LPCNoisePart) Equal(other NoisePart, tol float32) bool {
	o, ok := other.(*LPCNoisePart)
	if !ok {
		return false
	}

	return closeToSlice(p.Coeffs, o.Coeffs, tol) &&
		closeTo(p.Gain, o.Gain, tol) &&
		closeTo(p.OrigAverageSampleEnergy, o.OrigAverageSampleEnergy, tol) &&
		closeTo(p.OrigNoiseStd, o.OrigNoiseStd, tol)
}

func (p *LPCNoisePart) empty() bool {
	return len(p.Coeffs) == 0 && p.Gain == 0 && p.OrigAverageSampleEnergy == 0 && p.OrigNoiseStd == 0
}

// LSF returns the line spectral frequencies of the coefficients.
func (p *LPCNoisePart) LSF() ([]float64, error) {
	lsf, err := lpc.ToLSF(toFloat64s(p.Coeffs))
	if err != nil {
		return nil, fmt.Errorf("LPC to LSF: %w", err)
	}

	return lsf, nil
}

// InterpolateLSF replaces the coefficients and gain of p with the
// interpolation between prev and next at weight, computed in the LSF domain.
// All three parts must share one order. p is the only part modified and no
// reference to prev or next is kept.
func (p *LPCNoisePart) InterpolateLSF(prev, next *LPCNoisePart, weight float64) error {
	if prev.Order() != p.Order() || next.Order() != p.Order() {
		return fmt.Errorf("%w: %d, %d and %d", ErrOrderMismatch, prev.Order(), p.Order(), next.Order())
	}

	prevLSF, err := prev.LSF()
	if err != nil {
		return err
	}

	nextLSF, err := next.LSF()
	if err != nil {
		return err
	}

	lsf := make([]float64, len(prevLSF))

	err = lpc.InterpolateLSF(lsf, prevLSF, nextLSF, weight)
	if err != nil {
		return fmt.Errorf("interpolate LSF: %w", err)
	}

	coeffs, err := lpc.FromLSF(lsf)
	if err != nil {
		return fmt.Errorf("LSF to LPC: %w", err)
	}

	for i, c := range coeffs {
		p.Coeffs[i] = float32(c)
	}

	p.Gain = float32((1-weight)*float64(prev.Gain) + weight*float64(next.Gain))

	return nil
}

// Envelope returns the amplitude envelope of the noise filter at fftSize/2+1 bins.
func (p *LPCNoisePart) Envelope(fftSize int) ([]float64, error) {
	env, err := lpc.Envelope(toFloat64s(p.Coeffs), float64(p.Gain), fftSize)
	if err != nil {
		return nil, fmt.Errorf("LPC envelope: %w", err)
	}

	return env, nil
}

func toFloat64s(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}

	return out
}
