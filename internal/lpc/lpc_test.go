package lpc_test

import (
	"math"
	"testing"

	"github.com/book-expert/hntm-service/internal/lpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evenlySpacedLSF(order int) []float64 {
	lsf := make([]float64, order)
	for i := range lsf {
		lsf[i] = float64(i+1) * math.Pi / float64(order+1)
	}

	return lsf
}

func TestToLSF_FlatFilter(t *testing.T) {
	t.Parallel()

	lsf, err := lpc.ToLSF(make([]float64, 10))
	require.NoError(t, err)
	require.Len(t, lsf, 10)

	for i, want := range evenlySpacedLSF(10) {
		assert.InDelta(t, want, lsf[i], 1e-9, "lsf[%d]", i)
	}
}

func TestFromLSF_FlatFilter(t *testing.T) {
	t.Parallel()

	coeffs, err := lpc.FromLSF(evenlySpacedLSF(8))
	require.NoError(t, err)
	require.Len(t, coeffs, 8)

	for i, c := range coeffs {
		assert.InDelta(t, 0.0, c, 1e-9, "coeff[%d]", i)
	}
}

func TestLSF_RoundTrip(t *testing.T) {
	t.Parallel()

	want := []float64{0.2, 0.5, 0.9, 1.2, 1.6, 1.9, 2.3, 2.6, 2.8, 3.0}

	coeffs, err := lpc.FromLSF(want)
	require.NoError(t, err)

	got, err := lpc.ToLSF(coeffs)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-6, "lsf[%d]", i)
	}
}

func TestToLSF_OddOrder(t *testing.T) {
	t.Parallel()

	_, err := lpc.ToLSF([]float64{0.1, 0.2, 0.3})
	require.ErrorIs(t, err, lpc.ErrOddOrder)

	_, err = lpc.FromLSF([]float64{0.1})
	require.ErrorIs(t, err, lpc.ErrOddOrder)
}

func TestAnalyze_FirstOrderDecay(t *testing.T) {
	t.Parallel()

	samples := make([]float64, 400)
	for n := range samples {
		samples[n] = math.Pow(0.9, float64(n))
	}

	coeffs, gain, err := lpc.Analyze(samples, 2)
	require.NoError(t, err)
	require.Len(t, coeffs, 2)
	assert.InDelta(t, -0.9, coeffs[0], 1e-3)
	assert.InDelta(t, 0.0, coeffs[1], 1e-3)
	assert.Greater(t, gain, 0.0)
}

func TestAnalyze_Silence(t *testing.T) {
	t.Parallel()

	coeffs, gain, err := lpc.Analyze(make([]float64, 64), 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0, 0}, coeffs)
	assert.InDelta(t, 0.0, gain, 0)
}

func TestAnalyze_InvalidOrder(t *testing.T) {
	t.Parallel()

	_, _, err := lpc.Analyze([]float64{1, 2, 3}, 3)
	require.ErrorIs(t, err, lpc.ErrInvalidOrder)

	_, _, err = lpc.Analyze([]float64{1, 2, 3}, 0)
	require.ErrorIs(t, err, lpc.ErrInvalidOrder)
}

func TestInterpolateLSF(t *testing.T) {
	t.Parallel()

	dst := make([]float64, 2)

	err := lpc.InterpolateLSF(dst, []float64{0.2, 1.0}, []float64{0.4, 2.0}, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, dst[0], 1e-12)
	assert.InDelta(t, 1.25, dst[1], 1e-12)

	err = lpc.InterpolateLSF(dst, []float64{0.2}, []float64{0.4, 2.0}, 0.5)
	require.ErrorIs(t, err, lpc.ErrLengthMismatch)

	err = lpc.InterpolateLSF(dst, []float64{0.2, 1.0}, []float64{0.4, 2.0}, 1.5)
	require.ErrorIs(t, err, lpc.ErrWeightOutOfRange)
}

func TestEnvelope(t *testing.T) {
	t.Parallel()

	flat, err := lpc.Envelope([]float64{0, 0}, 2, 16)
	require.NoError(t, err)
	require.Len(t, flat, 9)

	for _, v := range flat {
		assert.InDelta(t, 2.0, v, 1e-9)
	}

	lowpass, err := lpc.Envelope([]float64{-0.9}, 1, 16)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, lowpass[0], 1e-9)
	assert.InDelta(t, 1/1.9, lowpass[8], 1e-9)

	_, err = lpc.Envelope([]float64{0, 0, 0}, 1, 3)
	require.ErrorIs(t, err, lpc.ErrInvalidFFTSize)
}
