package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "serp/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://serp/page.html", uri)

	payload[0] = 'C'
	stored, ok := store.Get("serp/page.html")
	require.True(t, ok)
	assert.Equal(t, "content", string(stored))

	stored[0] = 'X'
	again, _ := store.Get("serp/page.html")
	assert.Equal(t, "content", string(again))
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "text/html", bytes.NewReader(nil))
	require.Error(t, err)

	_, ok := NewBlobStore().Get("missing")
	assert.False(t, ok)
}
