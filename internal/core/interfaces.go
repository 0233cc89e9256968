// Package core defines the interfaces shared by the hntm-service components.
package core

import (
	"context"

	"github.com/book-expert/hntm-service/internal/gmm"
	"github.com/book-expert/hntm-service/internal/hntm"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// ModelRepository stores and retrieves encoded Gaussian mixture models.
type ModelRepository interface {
	SaveModel(ctx context.Context, model *gmm.GMM) (string, error)
	LoadModel(ctx context.Context, key string) (*gmm.GMM, error)
}

// SequenceRepository stores and retrieves encoded speech frame sequences.
type SequenceRepository interface {
	SaveSequence(ctx context.Context, seq *hntm.Sequence) (string, error)
	LoadSequence(ctx context.Context, key string) (*hntm.Sequence, error)
}
