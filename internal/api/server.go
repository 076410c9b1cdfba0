// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/filedrift/filedrift/internal/auth"
	"github.com/filedrift/filedrift/internal/bucket"
	"github.com/filedrift/filedrift/internal/errs"
	"github.com/filedrift/filedrift/internal/file"
	"github.com/filedrift/filedrift/internal/logging"
	"github.com/filedrift/filedrift/internal/metrics"
	"github.com/filedrift/filedrift/internal/webpath"
)

// Server is the HTTP server.
type Server struct {
	files *file.Service
	auth  *auth.Auth
}

// NewServer creates a new server.
func NewServer(files *file.Service, authHandler *auth.Auth) *Server {
	return &Server{files: files, auth: authHandler}
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/login", s.handleLogin)

	// Anonymous web serving from web-enabled buckets
	mux.HandleFunc("GET /web/{bucket}", s.handleWeb)
	mux.HandleFunc("GET /web/{bucket}/{path...}", s.handleWeb)

	// Protected endpoints
	protected := http.NewServeMux()

	protected.HandleFunc("GET /v1/files", s.handleListBuckets)
	protected.HandleFunc("GET /v1/files/{bucket}", s.handleGetBucket)
	protected.HandleFunc("PUT /v1/files/{bucket}", s.handleCreateBucket)
	protected.HandleFunc("DELETE /v1/files/{bucket}", s.handleDeleteBucket)

	protected.HandleFunc("GET /v1/files/{bucket}/{path...}", s.handleDownload)
	protected.HandleFunc("PUT /v1/files/{bucket}/{path...}", s.handleUpload)
	protected.HandleFunc("DELETE /v1/files/{bucket}/{path...}", s.handleDelete)
	protected.HandleFunc("POST /v1/files/{bucket}", s.handleOp)
	protected.HandleFunc("POST /v1/files/{bucket}/{path...}", s.handleOp)

	mux.Handle("/v1/files", s.auth.Middleware(protected))
	mux.Handle("/v1/files/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"token": token})
}

// requestPath extracts the in-bucket path from the route.
func requestPath(r *http.Request) webpath.Path {
	return webpath.Parse(r.PathValue("path"))
}

// ─── Buckets ────────────────────────────────────────────────────────────────

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.files.ListBuckets(r.Context())
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if buckets == nil {
		buckets = []*bucket.Settings{}
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"buckets": buckets})
}

func (s *Server) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	settings, err := s.files.GetBucket(r.Context(), r.PathValue("bucket"))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, settings)
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	var settings bucket.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid bucket settings")
		return
	}
	settings.Name = r.PathValue("bucket")
	if err := s.files.CreateBucket(r.Context(), settings); err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, settings)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("bucket")
	if err := s.files.DeleteBucket(r.Context(), name); err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

// ─── Files ──────────────────────────────────────────────────────────────────

// fileResponse is a stored file plus its retrieval location.
type fileResponse struct {
	*file.Metadata
	Location string `json:"location"`
}

func location(bucketName string, p webpath.Path) string {
	return "/v1/files/" + url.PathEscape(bucketName) + p.Escaped()
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	bucketName := r.PathValue("bucket")
	p := requestPath(r)

	if r.ContentLength < 0 {
		s.sendError(w, http.StatusBadRequest, "Content-Length header is required")
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if inferred := mime.TypeByExtension(path.Ext(p.Last())); inferred != "" {
			contentType = inferred
		}
	}

	meta, err := s.files.Upload(r.Context(), bucketName, p, contentType, r.Body, r.ContentLength)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, fileResponse{Metadata: meta, Location: location(bucketName, p)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	bucketName := r.PathValue("bucket")
	p := requestPath(r)

	meta, rc, err := s.files.Download(r.Context(), bucketName, p)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	defer rc.Close()
	s.writeFileHeaders(w, r, meta)
	if r.URL.Query().Get("withContentDisposition") == "true" {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", meta.Name))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logging.Debug("download stream aborted",
			zap.String("bucket", bucketName),
			zap.String("path", meta.Path),
			zap.Error(err))
	}
}

// writeFileHeaders sets content headers from metadata. Content-Length
// is only advertised when the client does not accept gzip, since a
// compressing proxy in between would make the header wrong.
func (s *Server) writeFileHeaders(w http.ResponseWriter, r *http.Request, meta *file.Metadata) {
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", strconv.Quote(meta.Hash))
	w.Header().Set("X-Filedrift-Owner", meta.Owner)
	if meta.Group != "" {
		w.Header().Set("X-Filedrift-Group", meta.Group)
	}
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Length, 10))
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.files.Delete(r.Context(), r.PathValue("bucket"), requestPath(r))
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// handleOp dispatches POST ?op=list|export requests.
func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	switch op := r.URL.Query().Get("op"); op {
	case "list":
		s.handleList(w, r)
	case "export":
		s.handleExport(w, r)
	default:
		s.sendError(w, http.StatusBadRequest, "unknown operation ["+op+"]")
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	size := 50
	if raw := r.URL.Query().Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.sendError(w, http.StatusBadRequest, "invalid page size ["+raw+"]")
			return
		}
		size = parsed
	}
	cursor := r.URL.Query().Get("next")

	listing, err := s.files.List(r.Context(), r.PathValue("bucket"), requestPath(r), size, cursor)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	if listing.Files == nil {
		listing.Files = []*file.Metadata{}
	}
	s.sendJSON(w, http.StatusOK, listing)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	bucketName := r.PathValue("bucket")
	var req file.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid export request")
		return
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = bucketName + ".zip"
	}

	// headers go out with the first archive byte, so resolution and
	// permission errors must surface before writing
	header := w.Header()
	header.Set("Content-Type", "application/zip")
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	if err := s.files.Export(r.Context(), bucketName, req, w); err != nil {
		header.Del("Content-Disposition")
		s.sendServiceError(w, err)
		return
	}
}

// ─── Web serving ────────────────────────────────────────────────────────────

func (s *Server) handleWeb(w http.ResponseWriter, r *http.Request) {
	bucketName := r.PathValue("bucket")
	p := requestPath(r)

	meta, rc, notFound, err := s.files.Web(r.Context(), bucketName, p)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	defer rc.Close()
	s.writeFileHeaders(w, r, meta)
	if notFound {
		w.WriteHeader(http.StatusNotFound)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := io.Copy(w, rc); err != nil {
		logging.Debug("web stream aborted",
			zap.String("bucket", bucketName),
			zap.Error(err))
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// sendServiceError maps service error kinds to HTTP statuses.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrIllegalArgument):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		s.sendError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, errs.ErrForbidden):
		s.sendError(w, http.StatusForbidden, err.Error())
	default:
		logging.Error("request failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, map[string]any{"error": message, "code": code})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
