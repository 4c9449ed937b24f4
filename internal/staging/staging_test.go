package staging

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestWriteReadRoundtrip(t *testing.T) {
	store := newTestStore(t)

	payload := []byte("hello chunk zero")
	require.NoError(t, store.WriteChunk("sess-1", 0, payload, false))

	got, err := store.ReadChunk("sess-1", 0, false)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteReadCompressed(t *testing.T) {
	store := newTestStore(t)

	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i % 7)
	}
	require.NoError(t, store.WriteChunk("sess-1", 3, payload, true))

	got, err := store.ReadChunk("sess-1", 3, true)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOverwriteIsLastWriteWins(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.WriteChunk("sess-1", 0, []byte("first"), false))
	require.NoError(t, store.WriteChunk("sess-1", 0, []byte("second"), false))

	got, err := store.ReadChunk("sess-1", 0, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestConcurrentSameIndexWrites(t *testing.T) {
	store := newTestStore(t)

	payload := []byte("identical retry payload")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.WriteChunk("sess-1", 0, payload, false))
		}()
	}
	wg.Wait()

	got, err := store.ReadChunk("sess-1", 0, false)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadMissingChunk(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Provision("sess-1"))

	_, err := store.ReadChunk("sess-1", 5, false)
	assert.ErrorIs(t, err, ErrChunkMissing)
}

func TestRemoveChunkAndSession(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.WriteChunk("sess-1", 0, []byte("a"), false))
	require.NoError(t, store.WriteChunk("sess-1", 1, []byte("b"), false))

	require.NoError(t, store.RemoveChunk("sess-1", 0))
	_, err := store.ReadChunk("sess-1", 0, false)
	assert.ErrorIs(t, err, ErrChunkMissing)

	// Removing an absent chunk is a no-op.
	require.NoError(t, store.RemoveChunk("sess-1", 0))

	require.NoError(t, store.RemoveSession("sess-1"))
	_, err = os.Stat(store.sessionDir("sess-1"))
	assert.True(t, os.IsNotExist(err), "staging dir should be gone")
}
