// Package worker provides a NATS worker that scores feature vectors against
// stored Gaussian mixture models and summarizes stored frame sequences.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/hntm-service/internal/core"
	"github.com/book-expert/hntm-service/internal/gmm"
	"github.com/book-expert/hntm-service/internal/hntm"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const handleMessageTimeout = 30 * time.Second

var (
	// ErrModelKeyEmpty indicates that a score request names no model.
	ErrModelKeyEmpty = errors.New("model key cannot be empty")
	// ErrNoVectors indicates that a score request carries no vectors.
	ErrNoVectors = errors.New("score request has no vectors")
	// ErrSequenceKeyEmpty indicates that a frames request names no sequence.
	ErrSequenceKeyEmpty = errors.New("sequence key cannot be empty")
	// ErrNonFiniteDensity indicates a density that cannot be represented in a reply.
	ErrNonFiniteDensity = errors.New("density is not finite")
	// ErrFFTSizeOutOfRange indicates a negative FFT size or one beyond MaxFFTSize.
	ErrFFTSizeOutOfRange = errors.New("FFT size out of range")
)

// MaxFFTSize bounds the envelope resolution a frames request may ask for.
const MaxFFTSize = 8192

// Subjects names the request subjects the worker answers on.
type Subjects struct {
	Scoring string
	Frames  string
}

// Analysis describes the frame sequences this worker serves. A zero
// NoiseModel accepts sequences of any model.
type Analysis struct {
	NoiseModel hntm.NoiseModel
	SampleRate int
}

// NatsWorker answers score and frames requests on NATS subjects.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	analysis       Analysis
	models         core.ModelRepository
	sequences      core.SequenceRepository
	log            *logger.Logger

	mu            sync.Mutex
	modelCache    map[string]*gmm.GMM
	subscriptions []*nats.Subscription
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	analysis Analysis,
	models core.ModelRepository,
	sequences core.SequenceRepository,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		analysis:       analysis,
		models:         models,
		sequences:      sequences,
		log:            log,
		modelCache:     make(map[string]*gmm.GMM),
	}, nil
}

// Start subscribes to both subjects and returns once the server has
// registered the subscriptions.
func (w *NatsWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	handlers := map[string]nats.MsgHandler{
		w.subjects.Scoring: w.handleScore,
		w.subjects.Frames:  w.handleFrames,
	}

	for subject, handler := range handlers {
		sub, err := w.natsConnection.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}

		w.subscriptions = append(w.subscriptions, sub)
	}

	err := w.natsConnection.Flush()
	if err != nil {
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	return nil
}

// Stop drains every subscription.
func (w *NatsWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error

	for _, sub := range w.subscriptions {
		drainErr := sub.Drain()
		if drainErr != nil {
			errs = append(errs, fmt.Errorf("failed to drain subscription %s: %w", sub.Subject, drainErr))
		}
	}

	w.subscriptions = nil

	return errors.Join(errs...)
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	err := w.Start()
	if err != nil {
		return err
	}

	w.log.Info("Listening for score requests on %s and frames requests on %s", w.subjects.Scoring, w.subjects.Frames)

	<-ctx.Done()

	return w.Stop()
}

func (w *NatsWorker) handleScore(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var request ScoreRequest

	reply := &ScoreReply{}

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		reply.Error = fmt.Sprintf("failed to unmarshal score request: %v", err)
	} else {
		reply = w.score(ctx, &request)
	}

	if reply.Error != "" {
		w.log.Error("Score request for workflow %s failed: %s", request.Header.WorkflowID, reply.Error)
	}

	reply.Header = replyHeader(request.Header)

	err = w.respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish score reply for workflow %s: %v", request.Header.WorkflowID, err)
	}
}

// score evaluates the request against the stored model.
func (w *NatsWorker) score(ctx context.Context, request *ScoreRequest) *ScoreReply {
	reply := &ScoreReply{}

	validationErr := validateScoreRequest(request)
	if validationErr != nil {
		reply.Error = validationErr.Error()

		return reply
	}

	model, err := w.loadModel(ctx, request.ModelKey)
	if err != nil {
		reply.Error = err.Error()

		return reply
	}

	reply.Densities = make([]float64, len(request.Vectors))
	reply.Posteriors = make([][]float64, len(request.Vectors))

	for i, x := range request.Vectors {
		density, densityErr := model.Probability(x)
		if densityErr == nil && (math.IsInf(density, 0) || math.IsNaN(density)) {
			densityErr = ErrNonFiniteDensity
		}

		if densityErr != nil {
			reply.Densities = nil
			reply.Posteriors = nil
			reply.Error = fmt.Sprintf("vector %d: %v", i, densityErr)

			return reply
		}

		reply.Densities[i] = density

		posteriors, postErr := model.ComponentProbabilities(x)
		if postErr != nil {
			reply.Posteriors[i] = []float64{}
			reply.Warnings = append(reply.Warnings, fmt.Sprintf("vector %d: %v", i, postErr))

			continue
		}

		reply.Posteriors[i] = posteriors
	}

	return reply
}

// loadModel returns a cached model or fetches it from the repository. Stored
// models are never rewritten under the same key.
func (w *NatsWorker) loadModel(ctx context.Context, key string) (*gmm.GMM, error) {
	w.mu.Lock()
	model, ok := w.modelCache[key]
	w.mu.Unlock()

	if ok {
		return model, nil
	}

	model, err := w.models.LoadModel(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load model '%s': %w", key, err)
	}

	w.mu.Lock()
	w.modelCache[key] = model
	w.mu.Unlock()

	return model, nil
}

func (w *NatsWorker) handleFrames(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var request FramesRequest

	reply := &FramesReply{}

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		reply.Error = fmt.Sprintf("failed to unmarshal frames request: %v", err)
	} else {
		reply = w.frames(ctx, &request)
	}

	if reply.Error != "" {
		w.log.Error("Frames request for workflow %s failed: %s", request.Header.WorkflowID, reply.Error)
	}

	reply.Header = replyHeader(request.Header)

	err = w.respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish frames reply for workflow %s: %v", request.Header.WorkflowID, err)
	}
}

// frames summarizes the stored sequence and, when asked, samples the noise
// envelope of every frame.
func (w *NatsWorker) frames(ctx context.Context, request *FramesRequest) *FramesReply {
	reply := &FramesReply{}

	validationErr := validateFramesRequest(request)
	if validationErr != nil {
		reply.Error = validationErr.Error()

		return reply
	}

	seq, err := w.sequences.LoadSequence(ctx, request.SequenceKey)
	if err != nil {
		reply.Error = fmt.Sprintf("failed to load sequence '%s': %v", request.SequenceKey, err)

		return reply
	}

	if w.analysis.NoiseModel != 0 && seq.NoiseModel != w.analysis.NoiseModel {
		reply.Error = fmt.Sprintf("%v: sequence uses %s, worker serves %s",
			hntm.ErrNoiseModelMismatch, seq.NoiseModel, w.analysis.NoiseModel)

		return reply
	}

	summary := seq.Summary()
	reply.Summary = &summary
	reply.Offsets = seq.Offsets()

	if request.FFTSize == 0 {
		return reply
	}

	reply.SampleRate = w.analysis.SampleRate
	reply.Envelopes = make([][]float64, len(seq.Frames))

	for i, frame := range seq.Frames {
		env, envErr := hntm.NoiseEnvelope(frame.Noise, request.FFTSize, w.analysis.SampleRate)
		if envErr != nil {
			return &FramesReply{Error: fmt.Sprintf("frame %d: %v", i, envErr)}
		}

		if env == nil {
			env = []float64{}
		}

		reply.Envelopes[i] = env
	}

	return reply
}

func validateFramesRequest(request *FramesRequest) error {
	if request.SequenceKey == "" {
		return ErrSequenceKeyEmpty
	}

	if request.FFTSize < 0 || request.FFTSize > MaxFFTSize {
		return fmt.Errorf("%w: %d (max %d)", ErrFFTSizeOutOfRange, request.FFTSize, MaxFFTSize)
	}

	return nil
}

func validateScoreRequest(request *ScoreRequest) error {
	if request.ModelKey == "" {
		return ErrModelKeyEmpty
	}

	if len(request.Vectors) == 0 {
		return ErrNoVectors
	}

	return nil
}

// replyHeader keeps the workflow identity of the request and stamps a new event.
func replyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}

// respond marshals and sends a reply when the sender asked for one.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}

	return nil
}
