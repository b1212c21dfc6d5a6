package custody

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsStable(t *testing.T) {
	content := []byte("cctv frame 0001")

	first := Hash(content)
	second := Hash(content)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestHashChangesWithOneByte(t *testing.T) {
	original := []byte("cctv frame 0001")
	tampered := bytes.Clone(original)
	tampered[len(tampered)-1] = '2'

	assert.NotEqual(t, Hash(original), Hash(tampered))
	assert.False(t, Verify(tampered, Hash(original)))
	assert.True(t, Verify(original, Hash(original)))
}

func TestHashKnownDigest(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(nil))
}

func TestHashReaderMatchesHash(t *testing.T) {
	content := bytes.Repeat([]byte("evidence"), 4096)

	digest, err := HashReader(bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, Hash(content), digest)
}
