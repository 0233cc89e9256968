package repository_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/hntm-service/internal/binio"
	"github.com/book-expert/hntm-service/internal/gmm"
	"github.com/book-expert/hntm-service/internal/hntm"
	"github.com/book-expert/hntm-service/internal/objectstore"
	"github.com/book-expert/hntm-service/internal/repository"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockNotFound = errors.New("mock object not found")

// memoryStore is an in-memory core.ObjectStore.
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, errMockNotFound
	}

	return data, nil
}

func (m *memoryStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = append([]byte(nil), data...)

	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; !ok {
		return errMockNotFound
	}

	delete(m.objects, key)

	return nil
}

func sampleSequence() *hntm.Sequence {
	voiced := &hntm.SpeechFrame{
		Harmonic: hntm.HarmonicPart{Harmonics: []hntm.Harmonic{
			{Amplitude: 0.8, Phase: 0.1, FrequencyHz: 120},
			{Amplitude: 0.4, Phase: -1.2, FrequencyHz: 240},
		}},
		Noise:         &hntm.LPCNoisePart{Coeffs: []float32{-0.9, 0.2}, Gain: 0.05, OrigAverageSampleEnergy: 12, OrigNoiseStd: 3},
		F0Hz:          120,
		Voicing:       hntm.VoicedUpTo(4000),
		AnalysisDelta: hntm.Seconds(0.01),
	}

	unvoiced := &hntm.SpeechFrame{
		Voicing:       hntm.Unvoiced(),
		AnalysisDelta: hntm.Seconds(0.01),
	}

	return &hntm.Sequence{NoiseModel: hntm.NoiseLPC, Frames: []*hntm.SpeechFrame{voiced, unvoiced}}
}

func TestRepository_ModelRoundTrip(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	repo := repository.New(store)
	ctx := context.Background()

	model, err := gmm.NewUniform(2, 3, true)
	require.NoError(t, err)

	model.Info = "unit test"

	key, err := repo.SaveModel(ctx, model)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, repository.ModelSuffix))

	loaded, err := repo.LoadModel(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "unit test", loaded.Info)
	assert.Equal(t, 2, loaded.TotalComponents())
	assert.Equal(t, model.Weights, loaded.Weights)

	require.NoError(t, repo.Delete(ctx, key))

	_, err = repo.LoadModel(ctx, key)
	require.ErrorIs(t, err, errMockNotFound)
}

func TestRepository_SequenceRoundTrip(t *testing.T) {
	t.Parallel()

	repo := repository.New(newMemoryStore())
	ctx := context.Background()
	seq := sampleSequence()

	key, err := repo.SaveSequence(ctx, seq)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, repository.SequenceSuffix))

	loaded, err := repo.LoadSequence(ctx, key)
	require.NoError(t, err)
	require.Len(t, loaded.Frames, 2)
	assert.True(t, seq.Frames[0].Equal(loaded.Frames[0], 1e-6))
	assert.Nil(t, loaded.Frames[1].Noise)
	assert.Equal(t, seq.Summary(), loaded.Summary())
}

func TestRepository_KeyChecks(t *testing.T) {
	t.Parallel()

	repo := repository.New(newMemoryStore())
	ctx := context.Background()

	_, err := repo.LoadModel(ctx, "")
	require.ErrorIs(t, err, repository.ErrEmptyKey)

	_, err = repo.LoadModel(ctx, "frames.hntm")
	require.ErrorIs(t, err, repository.ErrWrongKind)

	_, err = repo.LoadSequence(ctx, "voice.gmm")
	require.ErrorIs(t, err, repository.ErrWrongKind)

	_, err = repo.SaveModel(ctx, nil)
	require.ErrorIs(t, err, repository.ErrNilValue)

	_, err = repo.SaveSequence(ctx, nil)
	require.ErrorIs(t, err, repository.ErrNilValue)

	require.ErrorIs(t, repo.Delete(ctx, ""), repository.ErrEmptyKey)
}

func TestRepository_CorruptObject(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	repo := repository.New(store)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "broken.gmm", []byte{0, 0, 0, 2}))

	_, err := repo.LoadModel(ctx, "broken.gmm")
	require.ErrorIs(t, err, binio.ErrEndOfStream)

	require.NoError(t, store.Upload(ctx, "broken.hntm", []byte("NOPE0000")))

	_, err = repo.LoadSequence(ctx, "broken.hntm")
	require.ErrorIs(t, err, hntm.ErrBadMagic)
}

func TestRepository_NatsObjectStore(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "HNTM_FRAMES")
	require.NoError(t, err)

	repo := repository.New(store)
	ctx := context.Background()

	key, err := repo.SaveSequence(ctx, sampleSequence())
	require.NoError(t, err)

	loaded, err := repo.LoadSequence(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Summary().VoicedCount)
}
