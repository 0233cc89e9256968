// Package lpc implements the linear-prediction toolkit used by the LPC noise
// model: autocorrelation analysis, conversion between prediction coefficients
// and line spectral frequencies, LSF interpolation and spectral envelopes.
//
// Coefficients follow the convention A(z) = 1 + a1·z^-1 + ... + ap·z^-p and
// are stored without the leading 1. Line spectral frequencies are in radians,
// strictly increasing in (0, π).
package lpc

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mjibson/go-dsp/fft"
)

const (
	// rootGridPoints is the number of intervals scanned on (0, π) when
	// searching for polynomial roots.
	rootGridPoints = 1024
	// bisectionSteps refines each bracketed root to well below float32 precision.
	bisectionSteps = 48
	// minEnvelopeMagnitude keeps Envelope finite when |A(e^jw)| vanishes.
	minEnvelopeMagnitude = 1e-12
)

// Error message formats.
const (
	errFmtInvalidOrder    = "%w: order %d for %d samples"
	errFmtOddOrder        = "%w: %d"
	errFmtRootsNotFound   = "%w: found %d of %d"
	errFmtLengthMismatch  = "%w: %d, %d and %d"
	errFmtInvalidFFTSize  = "%w: %d for order %d"
	errFmtWeightOutOfSpan = "%w: %f"
)

var (
	// ErrInvalidOrder is returned when the prediction order does not fit the input.
	ErrInvalidOrder = errors.New("invalid prediction order")
	// ErrOddOrder is returned by the LSF conversions, which support even orders only.
	ErrOddOrder = errors.New("LSF conversion requires an even order")
	// ErrRootsNotFound is returned when the LSF root search does not isolate every root.
	ErrRootsNotFound = errors.New("could not isolate all line spectral frequencies")
	// ErrLengthMismatch is returned when coefficient vectors that must agree in length do not.
	ErrLengthMismatch = errors.New("coefficient length mismatch")
	// ErrInvalidFFTSize is returned when the FFT cannot hold the coefficient vector.
	ErrInvalidFFTSize = errors.New("invalid FFT size")
	// ErrWeightOutOfRange is returned for interpolation weights outside [0, 1].
	ErrWeightOutOfRange = errors.New("interpolation weight must be within [0, 1]")
)

// Analyze estimates order prediction coefficients of samples with the
// autocorrelation method and returns them with the residual gain (the square
// root of the final prediction error power). Silent input yields zero
// coefficients and zero gain.
func Analyze(samples []float64, order int) ([]float64, float64, error) {
	if order <= 0 || order >= len(samples) {
		return nil, 0, fmt.Errorf(errFmtInvalidOrder, ErrInvalidOrder, order, len(samples))
	}

	r := autocorrelate(samples, order)
	if r[0] == 0 {
		return make([]float64, order), 0, nil
	}

	coeffs, predErr := levinsonDurbin(r, order)

	return coeffs, math.Sqrt(math.Max(predErr, 0)), nil
}

// autocorrelate returns the biased autocorrelation r[0..order].
func autocorrelate(samples []float64, order int) []float64 {
	n := len(samples)
	r := make([]float64, order+1)

	for lag := 0; lag <= order; lag++ {
		sum := 0.0
		for i := 0; i < n-lag; i++ {
			sum += samples[i] * samples[i+lag]
		}

		r[lag] = sum / float64(n)
	}

	return r
}

// levinsonDurbin solves the normal equations for r and returns a[1..order]
// together with the final prediction error power.
func levinsonDurbin(r []float64, order int) ([]float64, float64) {
	a := make([]float64, order+1)
	prev := make([]float64, order+1)
	a[0] = 1
	predErr := r[0]

	for i := 1; i <= order; i++ {
		acc := r[i]
		for j := 1; j < i; j++ {
			acc += a[j] * r[i-j]
		}

		k := -acc / predErr

		copy(prev, a)

		for j := 1; j < i; j++ {
			a[j] = prev[j] + k*prev[i-j]
		}

		a[i] = k
		predErr *= 1 - k*k

		if predErr <= 0 {
			// Perfectly predictable input; higher orders add nothing.
			predErr = 0

			break
		}
	}

	return a[1:], predErr
}

// ToLSF converts prediction coefficients to line spectral frequencies.
func ToLSF(coeffs []float64) ([]float64, error) {
	order := len(coeffs)
	if order == 0 {
		return []float64{}, nil
	}

	if order%2 != 0 {
		return nil, fmt.Errorf(errFmtOddOrder, ErrOddOrder, order)
	}

	a := make([]float64, order+2)
	a[0] = 1
	copy(a[1:], coeffs)

	sum := make([]float64, order+2)
	diff := make([]float64, order+2)

	for k := 0; k <= order+1; k++ {
		sum[k] = a[k] + a[order+1-k]
		diff[k] = a[k] - a[order+1-k]
	}

	// Remove the trivial roots at z = -1 and z = 1.
	symSum := make([]float64, order+1)
	symDiff := make([]float64, order+1)
	symSum[0] = sum[0]
	symDiff[0] = diff[0]

	for k := 1; k <= order; k++ {
		symSum[k] = sum[k] - symSum[k-1]
		symDiff[k] = diff[k] + symDiff[k-1]
	}

	sumRoots := unitCircleRoots(symSum)
	diffRoots := unitCircleRoots(symDiff)

	found := len(sumRoots) + len(diffRoots)
	if len(sumRoots) != order/2 || len(diffRoots) != order/2 {
		return nil, fmt.Errorf(errFmtRootsNotFound, ErrRootsNotFound, found, order)
	}

	lsf := append(sumRoots, diffRoots...)
	sort.Float64s(lsf)

	return lsf, nil
}

// unitCircleRoots finds the angles in (0, π) where the symmetric polynomial
// c vanishes on the unit circle.
func unitCircleRoots(c []float64) []float64 {
	half := float64(len(c)-1) / 2
	eval := func(w float64) float64 {
		acc := 0.0
		for k, ck := range c {
			acc += ck * math.Cos(w*(half-float64(k)))
		}

		return acc
	}

	var roots []float64

	step := math.Pi / rootGridPoints
	lo := 0.0
	flo := eval(lo)

	for i := 1; i <= rootGridPoints; i++ {
		hi := float64(i) * step
		fhi := eval(hi)

		switch {
		case flo*fhi < 0:
			roots = append(roots, bisect(eval, lo, hi, flo))
		case fhi == 0 && i < rootGridPoints:
			roots = append(roots, hi)
		}

		lo, flo = hi, fhi
	}

	return roots
}

func bisect(eval func(float64) float64, lo, hi, flo float64) float64 {
	for range bisectionSteps {
		mid := 0.5 * (lo + hi)
		fmid := eval(mid)

		if fmid == 0 {
			return mid
		}

		if flo*fmid < 0 {
			hi = mid
		} else {
			lo, flo = mid, fmid
		}
	}

	return 0.5 * (lo + hi)
}

// FromLSF converts line spectral frequencies back to prediction coefficients.
func FromLSF(lsf []float64) ([]float64, error) {
	order := len(lsf)
	if order == 0 {
		return []float64{}, nil
	}

	if order%2 != 0 {
		return nil, fmt.Errorf(errFmtOddOrder, ErrOddOrder, order)
	}

	sum := []float64{1, 1}
	diff := []float64{1, -1}

	for i, w := range lsf {
		section := []float64{1, -2 * math.Cos(w), 1}
		if i%2 == 0 {
			sum = polyMul(sum, section)
		} else {
			diff = polyMul(diff, section)
		}
	}

	coeffs := make([]float64, order)
	for k := 1; k <= order; k++ {
		coeffs[k-1] = 0.5 * (sum[k] + diff[k])
	}

	return coeffs, nil
}

func polyMul(x, y []float64) []float64 {
	out := make([]float64, len(x)+len(y)-1)

	for i, xi := range x {
		for j, yj := range y {
			out[i+j] += xi * yj
		}
	}

	return out
}

// InterpolateLSF writes (1-weight)·prev + weight·next into dst.
func InterpolateLSF(dst, prev, next []float64, weight float64) error {
	if len(dst) != len(prev) || len(prev) != len(next) {
		return fmt.Errorf(errFmtLengthMismatch, ErrLengthMismatch, len(dst), len(prev), len(next))
	}

	if weight < 0 || weight > 1 {
		return fmt.Errorf(errFmtWeightOutOfSpan, ErrWeightOutOfRange, weight)
	}

	for i := range dst {
		dst[i] = (1-weight)*prev[i] + weight*next[i]
	}

	return nil
}

// Envelope returns the amplitude response gain/|A(e^jw)| at the fftSize/2+1
// non-negative frequency bins.
func Envelope(coeffs []float64, gain float64, fftSize int) ([]float64, error) {
	if fftSize < 2 || fftSize <= len(coeffs) {
		return nil, fmt.Errorf(errFmtInvalidFFTSize, ErrInvalidFFTSize, fftSize, len(coeffs))
	}

	frame := make([]float64, fftSize)
	frame[0] = 1
	copy(frame[1:], coeffs)

	spectrum := fft.FFTReal(frame)
	env := make([]float64, fftSize/2+1)

	for k := range env {
		re, im := real(spectrum[k]), imag(spectrum[k])
		env[k] = gain / math.Max(math.Hypot(re, im), minEnvelopeMagnitude)
	}

	return env, nil
}
