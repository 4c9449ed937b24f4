package session

import (
	"sort"
	"time"
)

// Session represents one upload attempt from initiation through completion.
type Session struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Fingerprint string `json:"fingerprint,omitempty"`

	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	MimeType    string `json:"mime_type"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`

	// UploadedChunks is the set of chunk indices accepted so far.
	UploadedChunks map[int]bool `json:"uploaded_chunks"`

	// Compressed records whether staged chunks for this session are
	// lz4-compressed at rest. Fixed at init.
	Compressed bool `json:"compressed"`

	Complete     bool   `json:"complete"`
	ArtifactPath string `json:"artifact_path,omitempty"`

	// RemainingDownloads counts download slots left; -1 means unlimited.
	RemainingDownloads int `json:"remaining_downloads"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// HasChunk reports whether the chunk at index has been accepted.
func (s *Session) HasChunk(index int) bool {
	return s.UploadedChunks[index]
}

// MarkChunk records an accepted chunk index. Re-marking is a no-op.
func (s *Session) MarkChunk(index int) {
	if s.UploadedChunks == nil {
		s.UploadedChunks = make(map[int]bool)
	}
	s.UploadedChunks[index] = true
}

// ChunkCount returns the number of distinct accepted chunk indices.
func (s *Session) ChunkCount() int {
	return len(s.UploadedChunks)
}

// ChunkList returns the accepted chunk indices in ascending order.
func (s *Session) ChunkList() []int {
	list := make([]int, 0, len(s.UploadedChunks))
	for idx := range s.UploadedChunks {
		list = append(list, idx)
	}
	sort.Ints(list)
	return list
}
