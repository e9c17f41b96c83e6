package gcs

import (
	"bytes"
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newOfflineClient(t *testing.T) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(context.Background(),
		option.WithoutAuthentication(),
		option.WithEndpoint("http://127.0.0.1:0/storage/v1/"),
	)
	require.NoError(t, err)
	return client
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, Config{Bucket: "reports"})
	require.Error(t, err)

	client := newOfflineClient(t)
	_, err = New(client, Config{Bucket: "  "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "reports"})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestObjectName(t *testing.T) {
	name, err := objectName("/reports/b1.ndjson")
	require.NoError(t, err)
	assert.Equal(t, "reports/b1.ndjson", name)

	_, err = objectName(" / ")
	require.Error(t, err)
}

func TestEmptyPathFailsBeforeNetwork(t *testing.T) {
	client := newOfflineClient(t)
	store, err := New(client, Config{Bucket: "reports"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.PutObject(context.Background(), "", "application/x-ndjson", bytes.NewReader([]byte("x")))
	require.Error(t, err)
	_, err = store.GetObject(context.Background(), "/")
	require.Error(t, err)
}
