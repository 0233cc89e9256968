// Package repository persists Gaussian mixture models and speech frame
// sequences as binary objects in an object store.
package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/hntm-service/internal/core"
	"github.com/book-expert/hntm-service/internal/gmm"
	"github.com/book-expert/hntm-service/internal/hntm"
	"github.com/google/uuid"
)

// Object key suffixes.
const (
	ModelSuffix    = ".gmm"
	SequenceSuffix = ".hntm"
)

const (
	errFmtDownload = "failed to download '%s': %w"
	errFmtUpload   = "failed to upload '%s': %w"
	errFmtDecode   = "failed to decode '%s': %w"
)

var (
	// ErrEmptyKey is returned for an empty object key.
	ErrEmptyKey = errors.New("object key cannot be empty")
	// ErrWrongKind is returned when a key does not carry the expected suffix.
	ErrWrongKind = errors.New("object key has the wrong suffix")
	// ErrNilValue is returned when asked to save a nil model or sequence.
	ErrNilValue = errors.New("nothing to save")
)

// Repository implements core.ModelRepository and core.SequenceRepository on
// top of a core.ObjectStore. Keys are generated as a UUID plus a suffix.
type Repository struct {
	store core.ObjectStore
}

var (
	_ core.ModelRepository    = (*Repository)(nil)
	_ core.SequenceRepository = (*Repository)(nil)
)

// New returns a Repository backed by store.
func New(store core.ObjectStore) *Repository {
	return &Repository{store: store}
}

// SaveModel encodes model and uploads it under a fresh key.
func (r *Repository) SaveModel(ctx context.Context, model *gmm.GMM) (string, error) {
	if model == nil {
		return "", ErrNilValue
	}

	data, err := model.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to encode model: %w", err)
	}

	key := uuid.NewString() + ModelSuffix

	err = r.store.Upload(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf(errFmtUpload, key, err)
	}

	return key, nil
}

// LoadModel downloads and decodes the model stored under key.
func (r *Repository) LoadModel(ctx context.Context, key string) (*gmm.GMM, error) {
	err := checkKey(key, ModelSuffix)
	if err != nil {
		return nil, err
	}

	data, err := r.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf(errFmtDownload, key, err)
	}

	model, err := gmm.ReadGMM(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf(errFmtDecode, key, err)
	}

	return model, nil
}

// SaveSequence encodes seq and uploads it under a fresh key.
func (r *Repository) SaveSequence(ctx context.Context, seq *hntm.Sequence) (string, error) {
	if seq == nil {
		return "", ErrNilValue
	}

	var buf bytes.Buffer

	_, err := seq.WriteTo(&buf)
	if err != nil {
		return "", fmt.Errorf("failed to encode sequence: %w", err)
	}

	key := uuid.NewString() + SequenceSuffix

	err = r.store.Upload(ctx, key, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf(errFmtUpload, key, err)
	}

	return key, nil
}

// LoadSequence downloads and decodes the sequence stored under key.
func (r *Repository) LoadSequence(ctx context.Context, key string) (*hntm.Sequence, error) {
	err := checkKey(key, SequenceSuffix)
	if err != nil {
		return nil, err
	}

	data, err := r.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf(errFmtDownload, key, err)
	}

	seq, err := hntm.ReadSequence(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf(errFmtDecode, key, err)
	}

	return seq, nil
}

// Delete removes a stored model or sequence.
func (r *Repository) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	err := r.store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to delete '%s': %w", key, err)
	}

	return nil
}

func checkKey(key, suffix string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if !strings.HasSuffix(key, suffix) {
		return fmt.Errorf("%w: '%s' (want %s)", ErrWrongKind, key, suffix)
	}

	return nil
}
