package hntm

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/book-expert/hntm-service/internal/binio"
)

// Sequence container layout: magic, int32 noise model, int32 frame count,
// then the frames back to back. The magic doubles as a byte-order check.
const (
	sequenceMagic        = "HNTS"
	SequenceHeaderLength = len(sequenceMagic) + 2*binio.Int32Size
)

var (
	// ErrBadMagic is returned when a stream does not start with the sequence magic.
	ErrBadMagic = errors.New("not an HNTM frame sequence")
	// ErrFrameIndex is returned for a frame index outside the sequence.
	ErrFrameIndex = errors.New("frame index out of range")
	// ErrNotLPC is returned when LSF interpolation is applied to a non-LPC frame.
	ErrNotLPC = errors.New("frame has no LPC noise part")
)

// Sequence is the ordered output of one analysis pass.
type Sequence struct {
	NoiseModel NoiseModel
	Frames     []*SpeechFrame
}

// Summary condenses a sequence for reports.
type Summary struct {
	NoiseModel      string  `json:"noiseModel"      yaml:"noise_model"`
	FrameCount      int     `json:"frameCount"      yaml:"frame_count"`
	VoicedCount     int     `json:"voicedCount"     yaml:"voiced_count"`
	EncodedBytes    int64   `json:"encodedBytes"    yaml:"encoded_bytes"`
	DurationSeconds float64 `json:"durationSeconds" yaml:"duration_seconds"`
	MeanVoicedF0Hz  float64 `json:"meanVoicedF0Hz"  yaml:"mean_voiced_f0_hz"`
	MaxHarmonics    int     `json:"maxHarmonics"    yaml:"max_harmonics"`
}

// EncodedLength returns the size of the whole container.
func (s *Sequence) EncodedLength() int64 {
	total := int64(SequenceHeaderLength)
	for _, frame := range s.Frames {
		total += int64(frame.EncodedLength(s.NoiseModel))
	}

	return total
}

// Offsets returns the byte offset of every frame within the container.
func (s *Sequence) Offsets() []int64 {
	offsets := make([]int64, len(s.Frames))
	offset := int64(SequenceHeaderLength)

	for i, frame := range s.Frames {
		offsets[i] = offset
		offset += int64(frame.EncodedLength(s.NoiseModel))
	}

	return offsets
}

// WriteTo encodes the container; it implements io.WriterTo.
func (s *Sequence) WriteTo(w io.Writer) (int64, error) {
	bw := binio.NewWriter(w)
	bw.Bytes([]byte(sequenceMagic))
	bw.Int32(int32(s.NoiseModel))
	bw.Int32(int32(len(s.Frames)))

	for i, frame := range s.Frames {
		err := frame.Write(bw, s.NoiseModel)
		if err != nil {
			return bw.Written(), fmt.Errorf("frame %d: %w", i, err)
		}
	}

	return bw.Written(), bw.Err()
}

// ReadSequence decodes a container written by Sequence.WriteTo.
func ReadSequence(r io.Reader) (*Sequence, error) {
	br := binio.NewReader(r)

	magic := make([]byte, len(sequenceMagic))

	err := br.Bytes(magic)
	if err != nil {
		return nil, fmt.Errorf("sequence magic: %w", err)
	}

	if string(magic) != sequenceMagic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, magic)
	}

	rawModel, err := br.Int32()
	if err != nil {
		return nil, fmt.Errorf("sequence noise model: %w", err)
	}

	model := NoiseModel(rawModel)
	if !model.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNoiseModel, rawModel)
	}

	count, err := br.Length()
	if err != nil {
		return nil, fmt.Errorf("sequence frame count: %w", err)
	}

	seq := &Sequence{NoiseModel: model, Frames: make([]*SpeechFrame, 0, binio.InitialCapacity(count))}

	for i := range count {
		frame, readErr := ReadSpeechFrame(br, model)
		if readErr != nil {
			return nil, fmt.Errorf("frame %d: %w", i, readErr)
		}

		seq.Frames = append(seq.Frames, frame)
	}

	return seq, nil
}

// ReadFrameAt decodes the single frame starting at offset, typically taken
// from Offsets.
func ReadFrameAt(ra io.ReaderAt, offset int64, model NoiseModel) (*SpeechFrame, error) {
	section := io.NewSectionReader(ra, offset, math.MaxInt64-offset)

	return ReadSpeechFrame(binio.NewReader(section), model)
}

// Clone returns a deep copy of the sequence.
func (s *Sequence) Clone() *Sequence {
	clone := &Sequence{NoiseModel: s.NoiseModel, Frames: make([]*SpeechFrame, len(s.Frames))}
	for i, frame := range s.Frames {
		clone.Frames[i] = frame.Clone()
	}

	return clone
}

// InterpolateLSF rewrites the LPC noise part of frame i from its two
// neighbours, weight being the position between frame i-1 (0) and frame
// i+1 (1).
func (s *Sequence) InterpolateLSF(i int, weight float64) error {
	if i <= 0 || i >= len(s.Frames)-1 {
		return fmt.Errorf("%w: %d of %d (needs two neighbours)", ErrFrameIndex, i, len(s.Frames))
	}

	target, ok := s.Frames[i].Noise.(*LPCNoisePart)
	prev, prevOK := s.Frames[i-1].Noise.(*LPCNoisePart)
	next, nextOK := s.Frames[i+1].Noise.(*LPCNoisePart)

	if !ok || !prevOK || !nextOK {
		return fmt.Errorf("%w: frames %d..%d", ErrNotLPC, i-1, i+1)
	}

	return target.InterpolateLSF(prev, next, weight)
}

// Summary reports counts, size and duration of the sequence.
func (s *Sequence) Summary() Summary {
	summary := Summary{
		NoiseModel:   s.NoiseModel.String(),
		FrameCount:   len(s.Frames),
		EncodedBytes: s.EncodedLength(),
	}

	f0Sum := 0.0

	for _, frame := range s.Frames {
		if frame.Voicing.Voiced() {
			summary.VoicedCount++
			f0Sum += float64(frame.F0Hz)
		}

		if frame.AnalysisDelta.Valid {
			summary.DurationSeconds += float64(frame.AnalysisDelta.Value)
		}

		summary.MaxHarmonics = max(summary.MaxHarmonics, frame.Harmonic.Len())
	}

	if summary.VoicedCount > 0 {
		summary.MeanVoicedF0Hz = f0Sum / float64(summary.VoicedCount)
	}

	return summary
}
