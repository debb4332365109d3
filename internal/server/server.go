// Package server exposes the recordings directory over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/audiolibrelab/voicecollect/internal/config"
	"github.com/audiolibrelab/voicecollect/internal/filename"
	"github.com/audiolibrelab/voicecollect/internal/store"
)

// HealthyStatus is the status string of GET /api/health.
const HealthyStatus = "Server is running"

// multipartOverhead is allowed on top of the file size for form framing.
const multipartOverhead = 64 << 10

// Response is the JSON envelope of every API reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// UploadData is returned for a stored upload.
type UploadData struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// RecordingsData lists a subject's stored files.
type RecordingsData struct {
	Recordings []string `json:"recordings"`
}

// Server represents the recordings API server
type Server struct {
	store   *store.Store
	cfg     config.ServerConfig
	limiter *rateLimiter
	handler http.Handler
}

// New creates a server around st.
func New(cfg config.ServerConfig, st *store.Store) *Server {
	s := &Server{store: st, cfg: cfg}
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, cfg.RateWindow)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/recordings/{studentId}", s.handleListRecordings)
	mux.HandleFunc("DELETE /api/recordings/{filename}", s.handleDeleteRecording)
	mux.HandleFunc("/", s.handleNotFound)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.rateLimit(h)
	}
	h = cors(s.cfg.CORSOrigin, h)
	h = securityHeaders(h)
	h = logRequests(h)
	return s.recoverPanics(h)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
	}

	localIP := getLocalIP()
	slog.Info("Starting recordings server",
		"port", s.cfg.Port,
		"upload_dir", s.store.Dir(),
		"max_file_size", humanize.IBytes(uint64(s.store.MaxSize())),
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.cfg.Port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.cfg.Port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutting down recordings server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, Response{Status: HealthyStatus})
}

// handleUpload streams the "audio" part straight into the store.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.store.MaxSize()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "No file uploaded.", "error", err)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.sendStoreError(w, err)
			return
		}
		if part.FormName() != "audio" {
			part.Close()
			continue
		}

		name := rawFileName(part.Header.Get("Content-Disposition"))
		if name == "" {
			part.Close()
			s.sendErrorResponse(w, http.StatusBadRequest, "No file uploaded.")
			return
		}

		size, err := s.store.Save(name, part.Header.Get("Content-Type"), part)
		part.Close()
		if err != nil {
			s.sendStoreError(w, err, "file_name", name)
			return
		}

		slog.Info("Recording uploaded", "file_name", name, "size", size, "remote_addr", r.RemoteAddr)
		sendJSON(w, http.StatusOK, Response{
			Status:  "success",
			Message: "File uploaded successfully",
			Data:    UploadData{Filename: name, Size: size},
		})
		return
	}

	s.sendErrorResponse(w, http.StatusBadRequest, "No file uploaded.")
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	studentID := r.PathValue("studentId")

	names, err := s.store.List(studentID)
	switch {
	case errors.Is(err, store.ErrInvalidSubjectID):
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid student ID.", "subject_id", studentID)
		return
	case err != nil:
		s.sendErrorResponse(w, http.StatusInternalServerError, "Cannot read recordings directory.", "error", err)
		return
	}

	sendJSON(w, http.StatusOK, Response{
		Status: "success",
		Data:   RecordingsData{Recordings: names},
	})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")

	err := s.store.Delete(name)
	switch {
	case errors.Is(err, filename.ErrInvalidFilename):
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid filename.", "file_name", name)
		return
	case err != nil:
		s.sendErrorResponse(w, http.StatusInternalServerError, "Error deleting file.", "file_name", name, "error", err)
		return
	}

	slog.Info("Recording deleted", "file_name", name, "remote_addr", r.RemoteAddr)
	sendJSON(w, http.StatusOK, Response{Status: "success", Message: "File deleted."})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusNotFound, Response{
		Status:  "error",
		Message: fmt.Sprintf("Can't find %s on this server!", r.URL.RequestURI()),
	})
}

// sendStoreError maps upload failures onto status codes.
func (s *Server) sendStoreError(w http.ResponseWriter, err error, logContext ...any) {
	logContext = append(logContext, "error", err)

	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, filename.ErrInvalidFilename):
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid filename format provided.", logContext...)
	case errors.Is(err, store.ErrUnsupportedMediaType):
		s.sendErrorResponse(w, http.StatusUnsupportedMediaType, "Only audio files are allowed.", logContext...)
	case errors.Is(err, store.ErrPayloadTooLarge), errors.As(err, &maxBytesErr):
		msg := fmt.Sprintf("File too large. Max size is %s.", humanize.IBytes(uint64(s.store.MaxSize())))
		s.sendErrorResponse(w, http.StatusRequestEntityTooLarge, msg, logContext...)
	default:
		s.sendErrorResponse(w, http.StatusInternalServerError, "Something went wrong!", logContext...)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Warn("Sending error response to client", logFields...)
	}

	sendJSON(w, statusCode, Response{Status: "error", Message: errorMsg})
}

func sendJSON(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

// rawFileName returns the filename parameter exactly as sent. Part.FileName
// strips directories, which would hide traversal attempts from validation.
func rawFileName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func getLocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "localhost"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
