// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/hntm-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	return natsServer, natsConnection
}

func newStore(t *testing.T, bucket string) (*objectstore.NatsObjectStore, nats.JetStreamContext) {
	t.Helper()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, bucket)
	require.NoError(t, err)

	return store, jetstreamContext
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, "test-bucket")
	ctx := context.Background()
	key := "voice.gmm"
	uploadData := []byte{0, 0, 0, 2, 0, 0, 0, 1, 1}

	err := store.Upload(ctx, key, uploadData)
	require.NoError(t, err)

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)

	// A second upload replaces the object.
	err = store.Upload(ctx, key, []byte("replaced"))
	require.NoError(t, err)

	downloadData, err = store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), downloadData)
}

func TestNatsObjectStore_Delete(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, "delete-bucket")
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "frames.hntm", []byte("HNTS")))
	require.NoError(t, store.Delete(ctx, "frames.hntm"))

	_, err := store.Download(ctx, "frames.hntm")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}

func TestNatsObjectStore_MissingKey(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, "missing-bucket")

	_, err := store.Download(context.Background(), "nope")
	require.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}

func TestNew_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	first, jetstreamContext := newStore(t, "shared-bucket")
	require.NoError(t, first.Upload(context.Background(), "k", []byte("v")))

	second, err := objectstore.New(jetstreamContext, "shared-bucket")
	require.NoError(t, err)
	assert.Equal(t, "shared-bucket", second.Bucket())

	data, err := second.Download(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
}
