package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/codedrop-labs/codedrop/internal/download"
	"github.com/codedrop-labs/codedrop/internal/session"
	"github.com/codedrop-labs/codedrop/internal/upload"
)

// API base paths
const (
	UploadBasePath   = "/api/upload"
	DownloadBasePath = "/api/download"
)

// InitRequest represents a request to start (or resume) an upload session
type InitRequest struct {
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	MimeType     string `json:"mimeType"`
	TotalChunks  int    `json:"totalChunks"`
	ChunkSize    int64  `json:"chunkSize"`
	Fingerprint  string `json:"fingerprint"`
	MaxDownloads int    `json:"maxDownloads"`
	UploadID     string `json:"uploadId,omitempty"`
}

// InitResponse carries the session id, share code and already-accepted
// chunk indices (non-empty on resume)
type InitResponse struct {
	UploadID       string `json:"uploadId"`
	Code           string `json:"code"`
	UploadedChunks []int  `json:"uploadedChunks"`
}

// StatusResponse represents the current state of an upload session
type StatusResponse struct {
	UploadID       string `json:"uploadId"`
	Code           string `json:"code"`
	Complete       bool   `json:"complete"`
	UploadedChunks []int  `json:"uploadedChunks"`
	TotalChunks    int    `json:"totalChunks"`
}

// ChunkResponse acknowledges one accepted chunk
type ChunkResponse struct {
	OK bool `json:"ok"`
}

// CompleteResponse carries the share code after a successful merge
type CompleteResponse struct {
	OK   bool   `json:"ok"`
	Code string `json:"code"`
}

// MetaResponse describes a downloadable artifact
type MetaResponse struct {
	Code               string `json:"code"`
	FileName           string `json:"fileName"`
	FileSize           int64  `json:"fileSize"`
	MimeType           string `json:"mimeType"`
	RemainingDownloads int    `json:"remainingDownloads"`
}

// FindResponse names the incomplete session matching a fingerprint
type FindResponse struct {
	UploadID string `json:"uploadId"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// Response helpers
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

func WriteErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: errorMsg,
		Code:    statusCode,
	}
	WriteJSONResponse(w, statusCode, response)
}

// writeError maps domain errors onto the HTTP status taxonomy.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrInvalidRequest),
		errors.Is(err, upload.ErrIndexOutOfRange),
		errors.Is(err, upload.ErrIncompleteUpload):
		WriteErrorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, download.ErrCodeNotFound):
		WriteErrorResponse(w, http.StatusNotFound, err.Error())
	default:
		WriteErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
