package worker

import (
	"github.com/book-expert/events"
	"github.com/book-expert/hntm-service/internal/hntm"
)

// ScoreRequest asks for the mixture density and component posteriors of
// each vector under the model stored at ModelKey.
type ScoreRequest struct {
	Header   events.EventHeader `json:"header"`
	ModelKey string             `json:"modelKey"`
	Vectors  [][]float64        `json:"vectors"`
}

// ScoreReply answers a ScoreRequest. Densities and Posteriors are indexed
// like the request vectors. A vector whose posteriors could not be computed
// gets an empty row and an entry in Warnings.
type ScoreReply struct {
	Header     events.EventHeader `json:"header"`
	Densities  []float64          `json:"densities,omitempty"`
	Posteriors [][]float64        `json:"posteriors,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// FramesRequest asks for a summary of the frame sequence stored at
// SequenceKey. A positive FFTSize also requests the noise envelope of every
// frame at FFTSize/2+1 bins.
type FramesRequest struct {
	Header      events.EventHeader `json:"header"`
	SequenceKey string             `json:"sequenceKey"`
	FFTSize     int                `json:"fftSize,omitempty"`
}

// FramesReply answers a FramesRequest. Envelopes is indexed like the frames;
// a frame without a noise part gets an empty row. Envelope bins span 0 Hz to
// SampleRate/2.
type FramesReply struct {
	Header     events.EventHeader `json:"header"`
	Summary    *hntm.Summary      `json:"summary,omitempty"`
	Offsets    []int64            `json:"offsets,omitempty"`
	SampleRate int                `json:"sampleRate,omitempty"`
	Envelopes  [][]float64        `json:"envelopes,omitempty"`
	Error      string             `json:"error,omitempty"`
}
