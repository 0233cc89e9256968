package hntm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/hntm-service/internal/binio"
)

// NoiseModel selects the representation of the aperiodic part. It is an
// analysis-wide setting supplied by the caller on every read; frames do not
// store it.
type NoiseModel int32

// Supported noise models. The numeric values appear in sequence headers.
const (
	NoiseLPC            NoiseModel = 1
	NoisePseudoHarmonic NoiseModel = 2
	NoiseWaveform       NoiseModel = 3
)

const (
	noiseNameLPC            = "lpc"
	noiseNamePseudoHarmonic = "pseudo_harmonic"
	noiseNameWaveform       = "waveform"
)

var (
	// ErrUnknownNoiseModel is returned for a noise model outside the supported set.
	ErrUnknownNoiseModel = errors.New("unknown noise model")
	// ErrNoiseModelMismatch is returned when a frame's noise part does not match the configured model.
	ErrNoiseModelMismatch = errors.New("noise part does not match noise model")
)

// String returns the configuration name of the model.
func (m NoiseModel) String() string {
	switch m {
	case NoiseLPC:
		return noiseNameLPC
	case NoisePseudoHarmonic:
		return noiseNamePseudoHarmonic
	case NoiseWaveform:
		return noiseNameWaveform
	default:
		return fmt.Sprintf("noise_model(%d)", int32(m))
	}
}

// Valid reports whether m is one of the supported models.
func (m NoiseModel) Valid() bool {
	return m == NoiseLPC || m == NoisePseudoHarmonic || m == NoiseWaveform
}

// ParseNoiseModel maps a configuration name to a NoiseModel.
func ParseNoiseModel(name string) (NoiseModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case noiseNameLPC:
		return NoiseLPC, nil
	case noiseNamePseudoHarmonic, "pseudoharmonic":
		return NoisePseudoHarmonic, nil
	case noiseNameWaveform:
		return NoiseWaveform, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownNoiseModel, name)
	}
}

// NoisePart is the aperiodic component of a frame. The set of
// implementations is closed: LPCNoisePart, PseudoHarmonicNoisePart and
// WaveformNoisePart.
type NoisePart interface {
	Model() NoiseModel
	EncodedLength() int
	Write(w *binio.Writer) error
	Clone() NoisePart
	Equal(other NoisePart, tol float32) bool

	// empty reports whether the part encodes identically to an absent part.
	empty() bool
}

// EmptyNoiseLength is the encoded size of an absent noise part under model.
func EmptyNoiseLength(model NoiseModel) int {
	switch model {
	case NoiseLPC:
		return lpcFixedLength
	case NoisePseudoHarmonic, NoiseWaveform:
		return binio.Int32Size
	default:
		return 0
	}
}

// writeEmptyNoise encodes an absent noise part.
func writeEmptyNoise(w *binio.Writer, model NoiseModel) error {
	switch model {
	case NoiseLPC:
		return (&LPCNoisePart{}).Write(w)
	case NoisePseudoHarmonic, NoiseWaveform:
		w.Int32(0)

		return w.Err()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownNoiseModel, model)
	}
}

// ReadNoisePart decodes the noise part selected by model. An empty encoding
// decodes to nil, meaning the frame has no noise part.
func ReadNoisePart(r *binio.Reader, model NoiseModel) (NoisePart, error) {
	var (
		part NoisePart
		err  error
	)

	switch model {
	case NoiseLPC:
		part, err = readLPCNoisePart(r)
	case NoisePseudoHarmonic:
		part, err = readPseudoHarmonicNoisePart(r)
	case NoiseWaveform:
		part, err = readWaveformNoisePart(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNoiseModel, model)
	}

	if err != nil {
		return nil, fmt.Errorf("%s noise part: %w", model, err)
	}

	if part.empty() {
		return nil, nil
	}

	return part, nil
}

// noiseAbsent treats nil and empty parts alike.
func noiseAbsent(part NoisePart) bool {
	return part == nil || part.empty()
}
