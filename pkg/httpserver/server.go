package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/codedrop-labs/codedrop/internal/download"
	"github.com/codedrop-labs/codedrop/internal/upload"
	"github.com/codedrop-labs/codedrop/pkg/logging"
)

// Server exposes the upload-session protocol and code-based downloads
// over HTTP.
type Server struct {
	coordinator *upload.Coordinator
	downloads   *download.Server
	port        int
}

// NewServer creates a new API server.
func NewServer(coordinator *upload.Coordinator, downloads *download.Server, port int) *Server {
	return &Server{
		coordinator: coordinator,
		downloads:   downloads,
		port:        port,
	}
}

// Handler builds the route table. Exposed for httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(UploadBasePath+"/init", s.handleInit)
	mux.HandleFunc(UploadBasePath+"/find", s.handleFind)
	mux.HandleFunc(UploadBasePath+"/status/", s.handleStatus)
	mux.HandleFunc(UploadBasePath+"/", s.handleUploadRoutes)
	mux.HandleFunc(DownloadBasePath+"/", s.handleDownloadRoutes)
	mux.HandleFunc("/healthz", s.handleHealth)

	return mux
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	logging.Log.Infof("API server starting on port %d", s.port)
	return server.ListenAndServe()
}

// handleInit handles POST /api/upload/init
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	result, err := s.coordinator.Init(upload.InitParams{
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		MimeType:     req.MimeType,
		TotalChunks:  req.TotalChunks,
		ChunkSize:    req.ChunkSize,
		Fingerprint:  req.Fingerprint,
		MaxDownloads: req.MaxDownloads,
		ResumeID:     req.UploadID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusOK, InitResponse{
		UploadID:       result.SessionID,
		Code:           result.Code,
		UploadedChunks: result.UploadedChunks,
	})
}

// handleFind handles GET /api/upload/find?fingerprint=F
func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sess, err := s.coordinator.FindByFingerprint(r.URL.Query().Get("fingerprint"))
	if err != nil {
		writeError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusOK, FindResponse{UploadID: sess.ID})
}

// handleStatus handles GET /api/upload/status/{upload_id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	uploadID := strings.TrimPrefix(r.URL.Path, UploadBasePath+"/status/")
	if uploadID == "" || strings.Contains(uploadID, "/") {
		WriteErrorResponse(w, http.StatusNotFound, "Invalid status route")
		return
	}

	sess, err := s.coordinator.Status(uploadID)
	if err != nil {
		writeError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusOK, StatusResponse{
		UploadID:       sess.ID,
		Code:           sess.Code,
		Complete:       sess.Complete,
		UploadedChunks: sess.ChunkList(),
		TotalChunks:    sess.TotalChunks,
	})
}

// handleUploadRoutes dispatches /api/upload/{upload_id}/{action}
func (s *Server) handleUploadRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, UploadBasePath+"/")
	parts := strings.Split(path, "/")

	if len(parts) != 2 || parts[0] == "" {
		WriteErrorResponse(w, http.StatusNotFound, "Invalid upload route")
		return
	}

	uploadID := parts[0]
	action := parts[1]

	switch action {
	case "chunk":
		s.handleChunk(w, r, uploadID)
	case "complete":
		s.handleComplete(w, r, uploadID)
	default:
		WriteErrorResponse(w, http.StatusNotFound, "Invalid action")
	}
}

// handleChunk handles POST /api/upload/{upload_id}/chunk?index=N with the
// raw chunk bytes as the request body
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request, uploadID string) {
	if r.Method != http.MethodPost {
		WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "Invalid chunk index")
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "Failed to read chunk data")
		return
	}

	if err := s.coordinator.AcceptChunk(uploadID, index, data); err != nil {
		writeError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusOK, ChunkResponse{OK: true})
}

// handleComplete handles POST /api/upload/{upload_id}/complete
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, uploadID string) {
	if r.Method != http.MethodPost {
		WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	code, err := s.coordinator.Complete(uploadID)
	if err != nil {
		writeError(w, err)
		return
	}

	WriteJSONResponse(w, http.StatusOK, CompleteResponse{OK: true, Code: code})
}

// handleDownloadRoutes dispatches /api/download/{code} and
// /api/download/{code}/meta
func (s *Server) handleDownloadRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, DownloadBasePath+"/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if err := s.downloads.Fetch(w, r, parts[0]); err != nil {
			writeError(w, err)
		}
	case len(parts) == 2 && parts[1] == "meta":
		meta, err := s.downloads.Meta(parts[0])
		if err != nil {
			writeError(w, err)
			return
		}
		WriteJSONResponse(w, http.StatusOK, MetaResponse{
			Code:               meta.Code,
			FileName:           meta.FileName,
			FileSize:           meta.FileSize,
			MimeType:           meta.MimeType,
			RemainingDownloads: meta.RemainingDownloads,
		})
	default:
		WriteErrorResponse(w, http.StatusNotFound, "Invalid download route")
	}
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}
