package diskcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Get(42, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(42, 0, []byte("decompressed-bytes")))

	data, ok, err := c.Get(42, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "decompressed-bytes", string(data))
}

func TestEvictRemovesKeys(t *testing.T) {
	c, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(1, 0, []byte("a")))
	require.NoError(t, c.Put(1, 1, []byte("b")))
	require.NoError(t, c.Evict(1, []uint32{0, 1}))

	_, ok, err := c.Get(1, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}
