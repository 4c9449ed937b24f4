package upload

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/codedrop-labs/codedrop/internal/code"
	"github.com/codedrop-labs/codedrop/internal/compressor"
	"github.com/codedrop-labs/codedrop/internal/merge"
	"github.com/codedrop-labs/codedrop/internal/session"
	"github.com/codedrop-labs/codedrop/internal/staging"
	"github.com/codedrop-labs/codedrop/pkg/logging"
)

var (
	// ErrInvalidRequest is returned when init parameters are missing or
	// non-positive, or when a chunk targets a finished session.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrIndexOutOfRange is returned for chunk indices outside
	// [0, totalChunks).
	ErrIndexOutOfRange = errors.New("chunk index out of range")
	// ErrIncompleteUpload is returned when completion is requested before
	// every chunk has been accepted.
	ErrIncompleteUpload = errors.New("upload incomplete")
)

// InitParams carries the upload initiation request.
type InitParams struct {
	FileName     string
	FileSize     int64
	MimeType     string
	TotalChunks  int
	ChunkSize    int64
	Fingerprint  string
	MaxDownloads int
	// ResumeID optionally names a previously issued session to re-attach
	// to. A live incomplete match is returned unchanged; anything else
	// falls through to a fresh session.
	ResumeID string
}

// InitResult is the state a client needs to start (or resume) uploading.
type InitResult struct {
	SessionID      string
	Code           string
	UploadedChunks []int
}

// Coordinator orchestrates upload sessions against the session store, the
// staging area, and the merger.
type Coordinator struct {
	store         *session.Store
	stage         *staging.Store
	artifactsPath string
	codeLength    int
	compress      bool
}

// NewCoordinator wires a coordinator. compress enables lz4 staging at
// rest for files whose extension is not known-incompressible.
func NewCoordinator(store *session.Store, stage *staging.Store, artifactsPath string, codeLength int, compress bool) *Coordinator {
	return &Coordinator{
		store:         store,
		stage:         stage,
		artifactsPath: artifactsPath,
		codeLength:    codeLength,
		compress:      compress,
	}
}

// Init creates a new upload session, or returns the current state of a
// live incomplete session when ResumeID matches one (idempotent resume:
// no new code, no new session, no state change).
func (c *Coordinator) Init(p InitParams) (*InitResult, error) {
	if p.ResumeID != "" {
		sess, err := c.store.Get(p.ResumeID)
		if err == nil && !sess.Complete {
			logging.Log.WithFields(map[string]interface{}{
				"session_id": sess.ID,
				"code":       sess.Code,
				"uploaded":   sess.ChunkCount(),
			}).Info("Resuming upload session")
			return &InitResult{
				SessionID:      sess.ID,
				Code:           sess.Code,
				UploadedChunks: sess.ChunkList(),
			}, nil
		}
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	}

	if p.FileName == "" {
		return nil, fmt.Errorf("%w: fileName is required", ErrInvalidRequest)
	}
	if p.FileSize <= 0 {
		return nil, fmt.Errorf("%w: fileSize must be positive", ErrInvalidRequest)
	}
	if p.TotalChunks <= 0 {
		return nil, fmt.Errorf("%w: totalChunks must be positive", ErrInvalidRequest)
	}
	if p.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunkSize must be positive", ErrInvalidRequest)
	}

	remaining := -1
	if p.MaxDownloads > 0 {
		remaining = p.MaxDownloads
	}

	sess := &session.Session{
		ID:                 uuid.New().String(),
		Fingerprint:        p.Fingerprint,
		FileName:           p.FileName,
		FileSize:           p.FileSize,
		MimeType:           p.MimeType,
		ChunkSize:          p.ChunkSize,
		TotalChunks:        p.TotalChunks,
		UploadedChunks:     make(map[int]bool),
		Compressed:         c.compress && !compressor.ShouldSkipCompression(p.FileName),
		RemainingDownloads: remaining,
		CreatedAt:          time.Now(),
	}

	// Claim a code: the store checks the code index and writes in one
	// transaction, so a racing draw of the same code loses cleanly and we
	// draw again.
	for {
		shareCode, err := code.Generate(c.codeLength)
		if err != nil {
			return nil, err
		}
		sess.Code = shareCode
		err = c.store.Create(sess)
		if errors.Is(err, session.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	if err := c.stage.Provision(sess.ID); err != nil {
		return nil, err
	}

	logging.Log.WithFields(map[string]interface{}{
		"session_id":   sess.ID,
		"code":         sess.Code,
		"file_name":    sess.FileName,
		"file_size":    sess.FileSize,
		"total_chunks": sess.TotalChunks,
	}).Info("Upload session created")

	return &InitResult{
		SessionID:      sess.ID,
		Code:           sess.Code,
		UploadedChunks: []int{},
	}, nil
}

// AcceptChunk stages the bytes for one chunk index and records the index
// as uploaded. Re-uploading an index is idempotent: the staged content is
// replaced and the uploaded set is unchanged. Chunks may arrive in any
// order and from concurrent requests.
func (c *Coordinator) AcceptChunk(sessionID string, index int, data []byte) error {
	sess, err := c.store.Get(sessionID)
	if err != nil {
		return err
	}
	if index < 0 || index >= sess.TotalChunks {
		return fmt.Errorf("%w: index %d, total %d", ErrIndexOutOfRange, index, sess.TotalChunks)
	}
	if sess.Complete {
		return fmt.Errorf("%w: upload already complete", ErrInvalidRequest)
	}

	if err := c.stage.WriteChunk(sessionID, index, data, sess.Compressed); err != nil {
		return err
	}

	_, err = c.store.Update(sessionID, func(s *session.Session) error {
		if s.Complete {
			return fmt.Errorf("%w: upload already complete", ErrInvalidRequest)
		}
		s.MarkChunk(index)
		return nil
	})
	if err != nil {
		// A merge that finished between the staging write and this update
		// has already torn down the staging area; don't leave the chunk
		// behind.
		if errors.Is(err, ErrInvalidRequest) {
			_ = c.stage.RemoveChunk(sessionID, index)
		}
		return err
	}

	logging.Log.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"index":      index,
		"size":       len(data),
	}).Debug("Chunk accepted")
	return nil
}

// Complete merges the staged chunks into the artifact and marks the
// session complete. Calling it on an already-complete session returns the
// existing code with no side effect. The merge runs inside the session's
// serialized update, so it executes at most once; any merge error leaves
// the session incomplete.
func (c *Coordinator) Complete(sessionID string) (string, error) {
	var shareCode string
	_, err := c.store.Update(sessionID, func(s *session.Session) error {
		if s.Complete {
			shareCode = s.Code
			return nil
		}
		if s.ChunkCount() < s.TotalChunks {
			return fmt.Errorf("%w: have %d of %d chunks", ErrIncompleteUpload, s.ChunkCount(), s.TotalChunks)
		}

		artifactPath := filepath.Join(c.artifactsPath, s.Code)
		if err := merge.Merge(c.stage, s.ID, s.TotalChunks, s.Compressed, artifactPath); err != nil {
			return err
		}

		s.Complete = true
		s.ArtifactPath = artifactPath
		s.CompletedAt = time.Now()
		shareCode = s.Code
		return nil
	})
	if err != nil {
		return "", err
	}

	logging.Log.WithFields(map[string]interface{}{
		"session_id": sessionID,
		"code":       shareCode,
	}).Info("Upload complete")
	return shareCode, nil
}

// Status returns the current session state for progress display and
// resume decisions.
func (c *Coordinator) Status(sessionID string) (*session.Session, error) {
	return c.store.Get(sessionID)
}

// FindByFingerprint locates the newest incomplete session for a client
// fingerprint so a restarted browser can recover its session id.
func (c *Coordinator) FindByFingerprint(fingerprint string) (*session.Session, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", ErrInvalidRequest)
	}
	return c.store.FindByFingerprint(fingerprint)
}
