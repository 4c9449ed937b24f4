package merge

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedrop-labs/codedrop/internal/staging"
)

func stageChunks(t *testing.T, compressed bool, chunks [][]byte) (*staging.Store, string) {
	t.Helper()
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)

	// Stage out of order on purpose; merge must not care.
	for i := len(chunks) - 1; i >= 0; i-- {
		require.NoError(t, store.WriteChunk("sess-1", i, chunks[i], compressed))
	}
	return store, filepath.Join(t.TempDir(), "artifact")
}

func TestMergeConcatenatesInIndexOrder(t *testing.T) {
	chunks := [][]byte{
		[]byte("alpha-"),
		[]byte("bravo-"),
		[]byte("charlie"),
	}
	store, out := stageChunks(t, false, chunks)

	require.NoError(t, Merge(store, "sess-1", len(chunks), false, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha-bravo-charlie"), got)

	// Staging is gone after a successful merge.
	_, err = store.ReadChunk("sess-1", 0, false)
	assert.ErrorIs(t, err, staging.ErrChunkMissing)
}

func TestMergeCompressedStaging(t *testing.T) {
	chunks := [][]byte{
		bytes.Repeat([]byte("x"), 4096),
		bytes.Repeat([]byte("y"), 4096),
	}
	store, out := stageChunks(t, true, chunks)

	require.NoError(t, Merge(store, "sess-1", len(chunks), true, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, chunks[0]...), chunks[1]...), got)
}

func TestMergeMissingChunk(t *testing.T) {
	store, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk("sess-1", 0, []byte("only"), false))
	out := filepath.Join(t.TempDir(), "artifact")

	err = Merge(store, "sess-1", 3, false, out)
	require.Error(t, err)

	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index)

	// No partial artifact may survive a failed merge.
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMergeSingleChunk(t *testing.T) {
	chunks := [][]byte{[]byte("whole file in one chunk")}
	store, out := stageChunks(t, false, chunks)

	require.NoError(t, Merge(store, "sess-1", 1, false, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, chunks[0], got)
}
