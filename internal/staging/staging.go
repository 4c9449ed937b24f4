package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/codedrop-labs/codedrop/internal/compressor"
)

// ErrChunkMissing is returned when a staged chunk does not exist.
var ErrChunkMissing = errors.New("staged chunk missing")

// Store persists chunk bytes in a per-session staging directory, one file
// per chunk index. Writes go through a temp file and an atomic rename, so
// concurrent writes to the same (session, index) pair interleave safely
// with last-write-wins, and re-uploading an index simply replaces it.
type Store struct {
	basePath string
}

// NewStore creates the staging root if needed.
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.basePath, sessionID)
}

func (s *Store) chunkPath(sessionID string, index int) string {
	return filepath.Join(s.sessionDir(sessionID), strconv.Itoa(index)+".chunk")
}

// Provision creates an empty staging area for a session.
func (s *Store) Provision(sessionID string) error {
	if err := os.MkdirAll(s.sessionDir(sessionID), 0755); err != nil {
		return fmt.Errorf("failed to provision staging area: %w", err)
	}
	return nil
}

// WriteChunk stages the bytes for one chunk index, optionally compressed
// at rest. An existing chunk at the same index is replaced.
func (s *Store) WriteChunk(sessionID string, index int, data []byte, compress bool) error {
	if compress {
		compressed, err := compressor.Compress(data)
		if err != nil {
			return err
		}
		data = compressed
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to open staging area: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".chunk-*")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.chunkPath(sessionID, index)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to commit staging file: %w", err)
	}
	return nil
}

// ReadChunk returns the original bytes for a staged chunk index.
func (s *Store) ReadChunk(sessionID string, index int, compressed bool) ([]byte, error) {
	data, err := os.ReadFile(s.chunkPath(sessionID, index))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: session %s index %d", ErrChunkMissing, sessionID, index)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read staged chunk: %w", err)
	}
	if compressed {
		return compressor.Decompress(data)
	}
	return data, nil
}

// RemoveChunk discards one staged chunk. Removing an absent chunk is not
// an error.
func (s *Store) RemoveChunk(sessionID string, index int) error {
	if err := os.Remove(s.chunkPath(sessionID, index)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staged chunk: %w", err)
	}
	return nil
}

// RemoveSession discards a session's entire staging area.
func (s *Store) RemoveSession(sessionID string) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("failed to remove staging area: %w", err)
	}
	return nil
}
