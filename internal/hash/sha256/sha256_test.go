package sha256

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloWorld = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloWorld, got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestHasherDigestMatchesHash(t *testing.T) {
	t.Parallel()

	got, err := New().Digest(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloWorld, got)
}

func TestHasherDigestReadError(t *testing.T) {
	t.Parallel()

	_, err := New().Digest(errReader{})
	require.Error(t, err)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
