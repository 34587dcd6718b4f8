package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	plain, err := New(client, Config{Bucket: "pages"})
	require.NoError(t, err)
	assert.Equal(t, "serp/a.html", plain.ObjectName("/serp/a.html"))

	prefixed, err := New(client, Config{Bucket: "pages", Prefix: "/snapshots/"})
	require.NoError(t, err)
	assert.Equal(t, "snapshots/serp/a.html", prefixed.ObjectName("serp/a.html"))
}
