package upload

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedrop-labs/codedrop/internal/code"
	"github.com/codedrop-labs/codedrop/internal/session"
	"github.com/codedrop-labs/codedrop/internal/staging"
	"github.com/codedrop-labs/codedrop/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitLogger(true)
	os.Exit(m.Run())
}

type fixture struct {
	coordinator *Coordinator
	store       *session.Store
	artifacts   string
}

func newFixture(t *testing.T, compress bool) *fixture {
	t.Helper()
	store, err := session.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stage, err := staging.NewStore(t.TempDir())
	require.NoError(t, err)

	artifacts := t.TempDir()
	return &fixture{
		coordinator: NewCoordinator(store, stage, artifacts, code.DefaultLength, compress),
		store:       store,
		artifacts:   artifacts,
	}
}

func validParams() InitParams {
	return InitParams{
		FileName:    "notes.txt",
		FileSize:    100,
		MimeType:    "text/plain",
		TotalChunks: 4,
		ChunkSize:   25,
		Fingerprint: "notes.txt:100:1700000000",
	}
}

func TestInitValidation(t *testing.T) {
	f := newFixture(t, false)

	cases := []struct {
		name   string
		mutate func(*InitParams)
	}{
		{"missing file name", func(p *InitParams) { p.FileName = "" }},
		{"zero file size", func(p *InitParams) { p.FileSize = 0 }},
		{"negative file size", func(p *InitParams) { p.FileSize = -1 }},
		{"zero total chunks", func(p *InitParams) { p.TotalChunks = 0 }},
		{"zero chunk size", func(p *InitParams) { p.ChunkSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := f.coordinator.Init(p)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestInitIssuesUniqueCodes(t *testing.T) {
	f := newFixture(t, false)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		res, err := f.coordinator.Init(validParams())
		require.NoError(t, err)
		require.Len(t, res.Code, code.DefaultLength)
		assert.False(t, seen[res.Code], "code %q issued twice", res.Code)
		seen[res.Code] = true
		assert.Empty(t, res.UploadedChunks)
	}
}

func TestInitResumeIsIdempotent(t *testing.T) {
	f := newFixture(t, false)

	first, err := f.coordinator.Init(validParams())
	require.NoError(t, err)
	require.NoError(t, f.coordinator.AcceptChunk(first.SessionID, 1, []byte("chunk one")))

	p := validParams()
	p.ResumeID = first.SessionID
	resumed, err := f.coordinator.Init(p)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, resumed.SessionID, "resume must not allocate a new session")
	assert.Equal(t, first.Code, resumed.Code, "resume must not issue a new code")
	assert.Equal(t, []int{1}, resumed.UploadedChunks)
}

func TestInitUnknownResumeIDCreatesFresh(t *testing.T) {
	f := newFixture(t, false)

	p := validParams()
	p.ResumeID = "no-such-session"
	res, err := f.coordinator.Init(p)
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
	assert.NotEqual(t, "no-such-session", res.SessionID)
}

func TestAcceptChunkErrors(t *testing.T) {
	f := newFixture(t, false)

	err := f.coordinator.AcceptChunk("unknown", 0, []byte("x"))
	assert.ErrorIs(t, err, session.ErrNotFound)

	res, err := f.coordinator.Init(validParams())
	require.NoError(t, err)

	assert.ErrorIs(t, f.coordinator.AcceptChunk(res.SessionID, -1, []byte("x")), ErrIndexOutOfRange)
	assert.ErrorIs(t, f.coordinator.AcceptChunk(res.SessionID, 4, []byte("x")), ErrIndexOutOfRange)
}

func TestAcceptChunkIdempotent(t *testing.T) {
	f := newFixture(t, false)
	res, err := f.coordinator.Init(validParams())
	require.NoError(t, err)

	require.NoError(t, f.coordinator.AcceptChunk(res.SessionID, 2, []byte("old bytes")))
	require.NoError(t, f.coordinator.AcceptChunk(res.SessionID, 2, []byte("new bytes")))

	sess, err := f.coordinator.Status(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.ChunkCount(), "re-upload must not grow the uploaded set")
	assert.Equal(t, []int{2}, sess.ChunkList())
}

func TestCompleteRequiresAllChunks(t *testing.T) {
	f := newFixture(t, false)
	res, err := f.coordinator.Init(validParams())
	require.NoError(t, err)

	for uploaded := 0; uploaded < 4; uploaded++ {
		_, err := f.coordinator.Complete(res.SessionID)
		assert.ErrorIs(t, err, ErrIncompleteUpload, "complete with %d of 4 chunks", uploaded)
		require.NoError(t, f.coordinator.AcceptChunk(res.SessionID, uploaded, []byte{byte(uploaded)}))
	}

	shareCode, err := f.coordinator.Complete(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.Code, shareCode)
}

func TestCompleteMergesOutOfOrderUploads(t *testing.T) {
	f := newFixture(t, false)

	source := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	chunkSize := 10
	total := (len(source) + chunkSize - 1) / chunkSize

	p := validParams()
	p.FileSize = int64(len(source))
	p.ChunkSize = int64(chunkSize)
	p.TotalChunks = total
	res, err := f.coordinator.Init(p)
	require.NoError(t, err)

	// Reverse arrival order.
	for i := total - 1; i >= 0; i-- {
		end := (i + 1) * chunkSize
		if end > len(source) {
			end = len(source)
		}
		require.NoError(t, f.coordinator.AcceptChunk(res.SessionID, i, source[i*chunkSize:end]))
	}

	_, err = f.coordinator.Complete(res.SessionID)
	require.NoError(t, err)

	sess, err := f.coordinator.Status(res.SessionID)
	require.NoError(t, err)
	require.True(t, sess.Complete)
	assert.Equal(t, filepath.Join(f.artifacts, sess.Code), sess.ArtifactPath)

	got, err := os.ReadFile(sess.ArtifactPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(source, got), "artifact must equal the source byte-for-byte")
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t, false)

	p := validParams()
	p.TotalChunks = 1
	res, err := f.coordinator.Init(p)
	require.NoError(t, err)
	require.NoError(t, f.coordinator.AcceptChunk(res.SessionID, 0, []byte("payload")))

	first, err := f.coordinator.Complete(res.SessionID)
	require.NoError(t, err)
	second, err := f.coordinator.Complete(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The artifact is untouched by the second call.
	sess, err := f.coordinator.Status(res.SessionID)
	require.NoError(t, err)
	got, err := os.ReadFile(sess.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestChunksAfterCompleteRejected(t *testing.T) {
	f := newFixture(t, false)

	p := validParams()
	p.TotalChunks = 1
	res, err := f.coordinator.Init(p)
	require.NoError(t, err)
	require.NoError(t, f.coordinator.AcceptChunk(res.SessionID, 0, []byte("payload")))
	_, err = f.coordinator.Complete(res.SessionID)
	require.NoError(t, err)

	err = f.coordinator.AcceptChunk(res.SessionID, 0, []byte("late"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestConcurrentChunkUploads(t *testing.T) {
	f := newFixture(t, false)

	total := 32
	p := validParams()
	p.TotalChunks = total
	p.FileSize = int64(total * 8)
	p.ChunkSize = 8
	res, err := f.coordinator.Init(p)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("chunk-%02d", idx))
			assert.NoError(t, f.coordinator.AcceptChunk(res.SessionID, idx, payload))
		}(i)
	}
	wg.Wait()

	sess, err := f.coordinator.Status(res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, total, sess.ChunkCount(), "no concurrent chunk acknowledgement may be lost")

	_, err = f.coordinator.Complete(res.SessionID)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(f.artifacts, res.Code))
	require.NoError(t, err)
	var want bytes.Buffer
	for i := 0; i < total; i++ {
		fmt.Fprintf(&want, "chunk-%02d", i)
	}
	assert.Equal(t, want.Bytes(), got)
}

func TestCompressedSessionRoundtrip(t *testing.T) {
	f := newFixture(t, true)

	source := bytes.Repeat([]byte("compressible text "), 1024)
	p := validParams()
	p.FileName = "notes.txt" // compressible extension
	p.FileSize = int64(len(source))
	p.ChunkSize = 4096
	p.TotalChunks = (len(source) + 4095) / 4096
	res, err := f.coordinator.Init(p)
	require.NoError(t, err)

	for i := 0; i < p.TotalChunks; i++ {
		end := (i + 1) * 4096
		if end > len(source) {
			end = len(source)
		}
		require.NoError(t, f.coordinator.AcceptChunk(res.SessionID, i, source[i*4096:end]))
	}

	_, err = f.coordinator.Complete(res.SessionID)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(f.artifacts, res.Code))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(source, got))
}

func TestFindByFingerprint(t *testing.T) {
	f := newFixture(t, false)

	res, err := f.coordinator.Init(validParams())
	require.NoError(t, err)

	sess, err := f.coordinator.FindByFingerprint("notes.txt:100:1700000000")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sess.ID)

	_, err = f.coordinator.FindByFingerprint("")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.coordinator.FindByFingerprint("other")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
