// Package worker_test tests the NATS worker for the hntm-service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/hntm-service/internal/gmm"
	"github.com/book-expert/hntm-service/internal/hntm"
	"github.com/book-expert/hntm-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scoringSubject = "test.gmm.score"
	framesSubject  = "test.frames.summary"
	requestTimeout = 5 * time.Second
	testSampleRate = 8000
)

var errMockNotFound = errors.New("mock key not found")

// mockRepository is a mock implementation of the model and sequence repositories.
type mockRepository struct {
	mu         sync.Mutex
	models     map[string]*gmm.GMM
	sequences  map[string]*hntm.Sequence
	modelLoads int
}

func (m *mockRepository) SaveModel(_ context.Context, model *gmm.GMM) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := uuid.NewString() + ".gmm"
	m.models[key] = model

	return key, nil
}

func (m *mockRepository) LoadModel(_ context.Context, key string) (*gmm.GMM, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.modelLoads++

	model, ok := m.models[key]
	if !ok {
		return nil, errMockNotFound
	}

	return model, nil
}

func (m *mockRepository) SaveSequence(_ context.Context, seq *hntm.Sequence) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := uuid.NewString() + ".hntm"
	m.sequences[key] = seq

	return key, nil
}

func (m *mockRepository) LoadSequence(_ context.Context, key string) (*hntm.Sequence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.sequences[key]
	if !ok {
		return nil, errMockNotFound
	}

	return seq, nil
}

func (m *mockRepository) loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.modelLoads
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func setupTest(t *testing.T) (*mockRepository, *nats.Conn) {
	t.Helper()

	repo := &mockRepository{
		models:    make(map[string]*gmm.GMM),
		sequences: make(map[string]*hntm.Sequence),
	}

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{Scoring: scoringSubject, Frames: framesSubject},
		worker.Analysis{NoiseModel: hntm.NoisePseudoHarmonic, SampleRate: testSampleRate},
		repo, repo, testLogger,
	)
	require.NoError(t, err)
	require.NoError(t, workerInstance.Start())

	t.Cleanup(func() {
		assert.NoError(t, workerInstance.Stop())
		assert.NoError(t, testLogger.Close())
	})

	return repo, natsConnection
}

func testHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "user-1",
		TenantID:   "",
	}
}

func twoComponentModel(t *testing.T) *gmm.GMM {
	t.Helper()

	first, err := gmm.NewComponentFromCluster([]float64{0, 0}, []float64{1, 1}, true)
	require.NoError(t, err)

	second, err := gmm.NewComponentFromCluster([]float64{10, 10}, []float64{1, 1}, true)
	require.NoError(t, err)

	return &gmm.GMM{
		Weights:          []float64{0.5, 0.5},
		Components:       []*gmm.Component{first, second},
		FeatureDimension: 2,
		Diagonal:         true,
	}
}

func request[T any](t *testing.T, natsConnection *nats.Conn, subject string, payload any) T {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request(subject, data, requestTimeout)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply T

	err = json.Unmarshal(replyMsg.Data, &reply)
	require.NoError(t, err)

	return reply
}

func TestScore_Success(t *testing.T) {
	t.Parallel()

	repo, natsConnection := setupTest(t)

	key, err := repo.SaveModel(context.Background(), twoComponentModel(t))
	require.NoError(t, err)

	header := testHeader()
	reply := request[worker.ScoreReply](t, natsConnection, scoringSubject, worker.ScoreRequest{
		Header:   header,
		ModelKey: key,
		Vectors:  [][]float64{{0, 0}, {10, 10}},
	})

	require.Empty(t, reply.Error)
	require.Len(t, reply.Densities, 2)
	require.Len(t, reply.Posteriors, 2)

	// Half the standard normal peak; the far component contributes nothing measurable.
	assert.InDelta(t, 0.5/(2*math.Pi), reply.Densities[0], 1e-12)
	assert.InDelta(t, 1.0, reply.Posteriors[0][0], 1e-12)
	assert.InDelta(t, 1.0, reply.Posteriors[1][1], 1e-12)

	assert.Equal(t, header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, header.UserID, reply.Header.UserID)
	assert.NotEqual(t, header.EventID, reply.Header.EventID)
}

func TestScore_CachesModels(t *testing.T) {
	t.Parallel()

	repo, natsConnection := setupTest(t)

	key, err := repo.SaveModel(context.Background(), twoComponentModel(t))
	require.NoError(t, err)

	for range 3 {
		reply := request[worker.ScoreReply](t, natsConnection, scoringSubject, worker.ScoreRequest{
			Header:   testHeader(),
			ModelKey: key,
			Vectors:  [][]float64{{1, 1}},
		})
		require.Empty(t, reply.Error)
	}

	assert.Equal(t, 1, repo.loads())
}

func TestScore_FarVectorStillGetsPosteriors(t *testing.T) {
	t.Parallel()

	repo, natsConnection := setupTest(t)

	key, err := repo.SaveModel(context.Background(), twoComponentModel(t))
	require.NoError(t, err)

	reply := request[worker.ScoreReply](t, natsConnection, scoringSubject, worker.ScoreRequest{
		Header:   testHeader(),
		ModelKey: key,
		Vectors:  [][]float64{{5, 5}, {1e6, 1e6}},
	})

	require.Empty(t, reply.Error)
	require.Len(t, reply.Posteriors, 2)
	assert.InDelta(t, 0.5, reply.Posteriors[0][0], 1e-12)
	assert.InDelta(t, 1.0, reply.Posteriors[1][1], 1e-12)
	assert.Empty(t, reply.Warnings)
	assert.InDelta(t, 0.0, reply.Densities[1], 0)
}

func TestScore_DegeneratePosteriors(t *testing.T) {
	t.Parallel()

	repo, natsConnection := setupTest(t)

	model := twoComponentModel(t)
	model.Weights = []float64{0, 0}

	key, err := repo.SaveModel(context.Background(), model)
	require.NoError(t, err)

	reply := request[worker.ScoreReply](t, natsConnection, scoringSubject, worker.ScoreRequest{
		Header:   testHeader(),
		ModelKey: key,
		Vectors:  [][]float64{{0, 0}},
	})

	require.Empty(t, reply.Error)
	require.Len(t, reply.Posteriors, 1)
	assert.Empty(t, reply.Posteriors[0])
	require.Len(t, reply.Warnings, 1)
	assert.Contains(t, reply.Warnings[0], "vector 0")
	assert.InDelta(t, 0.0, reply.Densities[0], 0)
}

func TestScore_Errors(t *testing.T) {
	t.Parallel()

	repo, natsConnection := setupTest(t)

	key, err := repo.SaveModel(context.Background(), twoComponentModel(t))
	require.NoError(t, err)

	testCases := []struct {
		name    string
		request worker.ScoreRequest
		want    string
	}{
		{"empty key", worker.ScoreRequest{Vectors: [][]float64{{1, 1}}}, worker.ErrModelKeyEmpty.Error()},
		{"no vectors", worker.ScoreRequest{ModelKey: key}, worker.ErrNoVectors.Error()},
		{"unknown model", worker.ScoreRequest{ModelKey: "missing.gmm", Vectors: [][]float64{{1, 1}}}, errMockNotFound.Error()},
		{"wrong dimension", worker.ScoreRequest{ModelKey: key, Vectors: [][]float64{{1, 1, 1}}}, gmm.ErrInvalidDimension.Error()},
	}

	for _, tc := range testCases {
		tc.request.Header = testHeader()
		reply := request[worker.ScoreReply](t, natsConnection, scoringSubject, tc.request)

		assert.Contains(t, reply.Error, tc.want, tc.name)
		assert.Empty(t, reply.Densities, tc.name)
		assert.Equal(t, tc.request.Header.WorkflowID, reply.Header.WorkflowID, tc.name)
	}
}

func TestScore_MalformedPayload(t *testing.T) {
	t.Parallel()

	_, natsConnection := setupTest(t)

	replyMsg, err := natsConnection.Request(scoringSubject, []byte("{not json"), requestTimeout)
	require.NoError(t, err)

	var reply worker.ScoreReply

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))
	assert.Contains(t, reply.Error, "failed to unmarshal score request")
}

func pseudoHarmonicSequence() *hntm.Sequence {
	return &hntm.Sequence{
		NoiseModel: hntm.NoisePseudoHarmonic,
		Frames: []*hntm.SpeechFrame{
			{
				Harmonic: hntm.HarmonicPart{Harmonics: []hntm.Harmonic{{Amplitude: 1, FrequencyHz: 100}}},
				Noise:    &hntm.PseudoHarmonicNoisePart{Ceps: []float32{0.1, -0.2}},
				F0Hz:     100,
				Voicing:  hntm.VoicedUpTo(3000),
			},
			{Voicing: hntm.Unvoiced(), AnalysisDelta: hntm.Seconds(0.01)},
		},
	}
}

func TestFrames_Summary(t *testing.T) {
	t.Parallel()

	repo, natsConnection := setupTest(t)

	seq := pseudoHarmonicSequence()

	key, err := repo.SaveSequence(context.Background(), seq)
	require.NoError(t, err)

	reply := request[worker.FramesReply](t, natsConnection, framesSubject, worker.FramesRequest{
		Header:      testHeader(),
		SequenceKey: key,
	})

	require.Empty(t, reply.Error)
	require.NotNil(t, reply.Summary)
	assert.Equal(t, seq.Summary(), *reply.Summary)
	assert.Equal(t, seq.Offsets(), reply.Offsets)
	assert.Nil(t, reply.Envelopes)
}

func TestFrames_Envelopes(t *testing.T) {
	t.Parallel()

	repo, natsConnection := setupTest(t)

	seq := pseudoHarmonicSequence()

	key, err := repo.SaveSequence(context.Background(), seq)
	require.NoError(t, err)

	reply := request[worker.FramesReply](t, natsConnection, framesSubject, worker.FramesRequest{
		Header:      testHeader(),
		SequenceKey: key,
		FFTSize:     32,
	})

	require.Empty(t, reply.Error)
	assert.Equal(t, testSampleRate, reply.SampleRate)
	require.Len(t, reply.Envelopes, 2)

	want, err := hntm.NoiseEnvelope(seq.Frames[0].Noise, 32, testSampleRate)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, reply.Envelopes[0], 1e-12)
	assert.Len(t, reply.Envelopes[0], 17)
	assert.Empty(t, reply.Envelopes[1])
}

func TestFrames_RejectsOtherNoiseModel(t *testing.T) {
	t.Parallel()

	repo, natsConnection := setupTest(t)

	key, err := repo.SaveSequence(context.Background(), &hntm.Sequence{
		NoiseModel: hntm.NoiseLPC,
		Frames:     []*hntm.SpeechFrame{{Voicing: hntm.Unvoiced()}},
	})
	require.NoError(t, err)

	reply := request[worker.FramesReply](t, natsConnection, framesSubject, worker.FramesRequest{
		Header:      testHeader(),
		SequenceKey: key,
	})

	assert.Contains(t, reply.Error, hntm.ErrNoiseModelMismatch.Error())
	assert.Nil(t, reply.Summary)
}

func TestFrames_Errors(t *testing.T) {
	t.Parallel()

	_, natsConnection := setupTest(t)

	reply := request[worker.FramesReply](t, natsConnection, framesSubject, worker.FramesRequest{Header: testHeader()})
	assert.Equal(t, worker.ErrSequenceKeyEmpty.Error(), reply.Error)
	assert.Nil(t, reply.Summary)

	reply = request[worker.FramesReply](t, natsConnection, framesSubject, worker.FramesRequest{
		Header:      testHeader(),
		SequenceKey: "missing.hntm",
	})
	assert.Contains(t, reply.Error, errMockNotFound.Error())

	for _, size := range []int{-1, worker.MaxFFTSize + 1} {
		reply = request[worker.FramesReply](t, natsConnection, framesSubject, worker.FramesRequest{
			Header:      testHeader(),
			SequenceKey: "any.hntm",
			FFTSize:     size,
		})
		assert.Contains(t, reply.Error, worker.ErrFFTSizeOutOfRange.Error(), size)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-run.log")
	require.NoError(t, err)

	repo := &mockRepository{models: map[string]*gmm.GMM{}, sequences: map[string]*hntm.Sequence{}}

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, worker.Subjects{Scoring: "run.score", Frames: "run.frames"}, worker.Analysis{}, repo, repo, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	cancel()

	select {
	case runErr := <-errChan:
		assert.NoError(t, runErr, "worker.Run should not error on graceful shutdown")
	case <-time.After(requestTimeout):
		t.Fatal("worker.Run did not return after cancellation")
	}
}
