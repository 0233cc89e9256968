package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/hntm-service/internal/core"
	"github.com/book-expert/hntm-service/internal/gmm"
	"github.com/book-expert/hntm-service/internal/hntm"
	"github.com/book-expert/hntm-service/internal/modelpath"
	"github.com/book-expert/hntm-service/internal/objectstore"
	"github.com/book-expert/hntm-service/internal/repository"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

const flagNATSURL = "nats-url"

// Buckets used when the config names none.
const (
	defaultModelBucket  = "hntm-models"
	defaultFramesBucket = "hntm-frames"
)

// ErrWrongExtension is returned when a key or file does not carry the
// extension of the command's object kind.
var ErrWrongExtension = errors.New("wrong file extension")

type storeReport struct {
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
	Path   string `yaml:"path,omitempty"`
}

// bucketHandle is an open connection to one object store bucket.
type bucketHandle struct {
	conn  *nats.Conn
	store *objectstore.NatsObjectStore
	repo  *repository.Repository
}

func (h *bucketHandle) Close() {
	h.conn.Close()
}

// natsURL picks the server from the flag, then [nats].url, then the client default.
func (a *app) natsURL() string {
	if a.natsServer != "" {
		return a.natsServer
	}

	if a.cfg.NATS.URL != "" {
		return a.cfg.NATS.URL
	}

	return nats.DefaultURL
}

func (a *app) openBucket(bucket string) (*bucketHandle, error) {
	url := a.natsURL()

	natsConnection, err := nats.Connect(url, nats.Name("hntmctl"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	a.log.Info("Connected to %s, bucket %s", url, store.Bucket())

	return &bucketHandle{conn: natsConnection, store: store, repo: repository.New(store)}, nil
}

func (a *app) modelBucket() string {
	if a.cfg.NATS.ModelBucket != "" {
		return a.cfg.NATS.ModelBucket
	}

	return defaultModelBucket
}

func (a *app) framesBucket() string {
	if a.cfg.NATS.FramesBucket != "" {
		return a.cfg.NATS.FramesBucket
	}

	return defaultFramesBucket
}

func pushModel(ctx context.Context, repo core.ModelRepository, model *gmm.GMM) (string, error) {
	key, err := repo.SaveModel(ctx, model)
	if err != nil {
		return "", fmt.Errorf("failed to push model: %w", err)
	}

	return key, nil
}

func pushSequence(ctx context.Context, repo core.SequenceRepository, seq *hntm.Sequence) (string, error) {
	key, err := repo.SaveSequence(ctx, seq)
	if err != nil {
		return "", fmt.Errorf("failed to push sequence: %w", err)
	}

	return key, nil
}

func newGMMPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push <model>",
		Short: "Upload a mixture model to the model bucket",
		Long: `Upload a mixture model to the object store bucket the hntm-service
scores against, and print the key to put in score requests.

Examples:
  hntmctl --config project.toml gmm push speaker.gmm`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, path, err := a.loadModel(args[0])
			if err != nil {
				return err
			}

			handle, err := a.openBucket(a.modelBucket())
			if err != nil {
				return err
			}
			defer handle.Close()

			key, err := pushModel(cmd.Context(), handle.repo, model)
			if err != nil {
				return err
			}

			a.log.Info("Pushed %s as %s", path, key)

			return writeYAML(cmd.OutOrStdout(), storeReport{Bucket: handle.store.Bucket(), Key: key, Path: path})
		},
	}
}

func newFramesPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push <file.hntm>",
		Short: "Upload a frame sequence to the frames bucket",
		Long: `Upload a frame sequence to the object store bucket the hntm-service
summarizes from, and print the key to put in frames requests.

Examples:
  hntmctl --config project.toml frames push analysis.hntm`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, path, err := a.loadSequence(args[0])
			if err != nil {
				return err
			}

			err = a.checkNoiseModel(seq)
			if err != nil {
				return err
			}

			handle, err := a.openBucket(a.framesBucket())
			if err != nil {
				return err
			}
			defer handle.Close()

			key, err := pushSequence(cmd.Context(), handle.repo, seq)
			if err != nil {
				return err
			}

			a.log.Info("Pushed %s as %s", path, key)

			return writeYAML(cmd.OutOrStdout(), storeReport{Bucket: handle.store.Bucket(), Key: key, Path: path})
		},
	}
}

// newRemoveCmd deletes keys of one kind from a bucket.
func newRemoveCmd(a *app, short, ext string, bucket func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !hasExtension(key, ext) {
				return fmt.Errorf("%w: '%s' (want %s)", ErrWrongExtension, key, ext)
			}

			handle, err := a.openBucket(bucket())
			if err != nil {
				return err
			}
			defer handle.Close()

			err = handle.repo.Delete(cmd.Context(), key)
			if err != nil {
				return err
			}

			a.log.Info("Removed %s from %s", key, handle.store.Bucket())

			return writeYAML(cmd.OutOrStdout(), storeReport{Bucket: handle.store.Bucket(), Key: key})
		},
	}
}

func hasExtension(name, ext string) bool {
	switch ext {
	case modelpath.ExtModel:
		return modelpath.IsModelFile(name)
	case modelpath.ExtSequence:
		return modelpath.IsSequenceFile(name)
	default:
		return false
	}
}
