package merge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codedrop-labs/codedrop/internal/staging"
)

// MissingChunkError reports a staged chunk that was absent during a merge.
// Completion checks the uploaded set first, so hitting this means the
// staging area and the session record disagree.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing staged chunk %d", e.Index)
}

// Merge concatenates the staged chunks of a session into the artifact at
// outputPath, in strict ascending index order 0..totalChunks-1. Each
// chunk's staging data is discarded once appended. On any failure the
// partial artifact is removed and the session must stay incomplete; on
// success the whole staging area is gone.
func Merge(stage *staging.Store, sessionID string, totalChunks int, compressed bool, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}

	discard := func(cause error) error {
		out.Close()
		os.Remove(outputPath)
		return cause
	}

	for i := 0; i < totalChunks; i++ {
		data, err := stage.ReadChunk(sessionID, i, compressed)
		if err != nil {
			if errors.Is(err, staging.ErrChunkMissing) {
				return discard(&MissingChunkError{Index: i})
			}
			return discard(err)
		}
		if _, err := out.Write(data); err != nil {
			return discard(fmt.Errorf("failed to append chunk %d: %w", i, err))
		}
		if err := stage.RemoveChunk(sessionID, i); err != nil {
			return discard(err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(outputPath)
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}
	return stage.RemoveSession(sessionID)
}
