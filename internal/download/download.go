package download

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/codedrop-labs/codedrop/internal/session"
	"github.com/codedrop-labs/codedrop/pkg/logging"
)

// ErrCodeNotFound is returned when a code maps to no completed session,
// or when its download limit is exhausted.
var ErrCodeNotFound = errors.New("code not found")

// Meta describes a downloadable artifact.
type Meta struct {
	Code               string
	FileName           string
	FileSize           int64
	MimeType           string
	RemainingDownloads int
}

// Server resolves share codes to completed sessions and streams their
// artifacts.
type Server struct {
	store *session.Store
}

// NewServer wires a download server against the session store.
func NewServer(store *session.Store) *Server {
	return &Server{store: store}
}

// resolve maps a code to a completed, still-downloadable session.
func (s *Server) resolve(shareCode string) (*session.Session, error) {
	sess, err := s.store.GetByCode(shareCode)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	if !sess.Complete {
		return nil, ErrCodeNotFound
	}
	if sess.RemainingDownloads == 0 {
		return nil, ErrCodeNotFound
	}
	return sess, nil
}

// Meta returns artifact metadata for a code. RemainingDownloads is -1 for
// unlimited codes.
func (s *Server) Meta(shareCode string) (*Meta, error) {
	sess, err := s.resolve(shareCode)
	if err != nil {
		return nil, err
	}
	return &Meta{
		Code:               sess.Code,
		FileName:           sess.FileName,
		FileSize:           sess.FileSize,
		MimeType:           sess.MimeType,
		RemainingDownloads: sess.RemainingDownloads,
	}, nil
}

// Fetch streams the artifact for a code, honoring a single byte-range.
// Full (200) downloads claim a download slot atomically before streaming;
// range (206) requests never consume a slot, so a resuming downloader
// cannot burn the limit. The error return is non-nil only before any
// bytes are written, so callers can still render an error response.
func (s *Server) Fetch(w http.ResponseWriter, r *http.Request, shareCode string) error {
	sess, err := s.resolve(shareCode)
	if err != nil {
		return err
	}

	f, err := os.Open(sess.ArtifactPath)
	if err != nil {
		return fmt.Errorf("failed to open artifact for code %s: %w", shareCode, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact for code %s: %w", shareCode, err)
	}
	size := st.Size()

	setHeaders := func() {
		contentType := sess.MimeType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": sess.FileName,
		}))
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		if err := s.claimDownload(sess.ID); err != nil {
			return err
		}
		setHeaders()
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, f); err != nil {
			logging.Log.WithField("code", shareCode).Warnf("Download stream aborted: %v", err)
		}
		return nil
	}

	start, end, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek artifact for code %s: %w", shareCode, err)
	}
	length := end - start + 1
	setHeaders()
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if _, err := io.CopyN(w, f, length); err != nil {
		logging.Log.WithField("code", shareCode).Warnf("Range stream aborted: %v", err)
	}
	return nil
}

// claimDownload atomically decrements the remaining-download counter.
// Unlimited sessions (-1) pass through untouched; a counter already at
// zero means another request claimed the last slot first.
func (s *Server) claimDownload(sessionID string) error {
	_, err := s.store.Update(sessionID, func(sess *session.Session) error {
		if sess.RemainingDownloads < 0 {
			return nil
		}
		if sess.RemainingDownloads == 0 {
			return ErrCodeNotFound
		}
		sess.RemainingDownloads--
		return nil
	})
	return err
}

// parseRange interprets a single-range "bytes=" header against the
// artifact size. Supported forms: "bytes=a-b", "bytes=a-", "bytes=-n".
func parseRange(header string, size int64) (start, end int64, err error) {
	const prefix = "bytes="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return 0, 0, fmt.Errorf("invalid range header %q", header)
	}
	spec := header[len(prefix):]

	dash := -1
	for i := 0; i < len(spec); i++ {
		if spec[i] == '-' {
			dash = i
			break
		}
	}
	if dash < 0 {
		return 0, 0, fmt.Errorf("invalid range spec %q", spec)
	}

	startStr, endStr := spec[:dash], spec[dash+1:]
	switch {
	case startStr == "" && endStr != "":
		// Suffix form: last n bytes.
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, fmt.Errorf("invalid range spec %q", spec)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	case startStr != "":
		start, perr := strconv.ParseInt(startStr, 10, 64)
		if perr != nil || start < 0 || start >= size {
			return 0, 0, fmt.Errorf("invalid range spec %q", spec)
		}
		end := size - 1
		if endStr != "" {
			e, perr := strconv.ParseInt(endStr, 10, 64)
			if perr != nil || e < start {
				return 0, 0, fmt.Errorf("invalid range spec %q", spec)
			}
			if e < end {
				end = e
			}
		}
		return start, end, nil
	default:
		return 0, 0, fmt.Errorf("invalid range spec %q", spec)
	}
}
