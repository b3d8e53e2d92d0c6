// Package server exposes the extraction pipeline over HTTP: clients upload an
// XML document plus a schema, get a job ID back immediately, and follow
// progress by polling or via Server-Sent Events.
//
// Uploads are spooled to a temp file before the job starts so a slow client
// connection never holds an extraction slot.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"xmlsift/internal/jobs"
	xmlparser "xmlsift/internal/parser/xml"
	"xmlsift/internal/schema"
)

const defaultMaxUploadBytes = 2 << 30 // 2 GiB

// ExtractFunc runs one extraction over r and reports progress through j.
//
// When to use:
//   - The default (set by New) only counts records; cmd/xmlsiftd installs a
//     database-loading implementation when storage is configured.
type ExtractFunc func(ctx context.Context, r io.Reader, sch *schema.Element, j *jobs.Job) error

// Logger is the minimal logging interface used by the server.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Server handles upload and job-status HTTP traffic.
type Server struct {
	manager *jobs.Manager
	logger  Logger

	// DefaultSchema is used for uploads that omit the schema part. Nil means
	// every upload must carry its own schema.
	DefaultSchema *schema.Element

	// MaxUploadBytes caps one request body. Defaults to 2 GiB when <= 0.
	MaxUploadBytes int64

	// TmpDir is where uploads are spooled. Defaults to os.TempDir().
	TmpDir string

	// Extract runs the extraction for each accepted upload.
	Extract ExtractFunc
}

// New builds a server around a job manager with the record-counting default
// extractor.
func New(m *jobs.Manager, logger Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		manager: m,
		logger:  logger,
		Extract: CountRecords,
	}
}

// CountRecords is the sink-less ExtractFunc: it streams the document and
// counts records without persisting them.
func CountRecords(ctx context.Context, r io.Reader, sch *schema.Element, j *jobs.Job) error {
	return ForEachWithProgress(ctx, r, sch, j, nil)
}

// ForEachWithProgress streams records through sink while counting each one on
// the job. A nil sink only counts.
func ForEachWithProgress(ctx context.Context, r io.Reader, sch *schema.Element, j *jobs.Job, sink func(map[string]any) error) error {
	return xmlparser.ForEach(ctx, r, sch, func(rec map[string]any) error {
		j.AddRecords(1)
		if sink != nil {
			return sink(rec)
		}
		return nil
	})
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract", s.handleExtract)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

// handleExtract accepts a multipart upload with parts:
//   - "document" (required): the XML document.
//   - "schema" (optional): the extraction schema JSON; falls back to
//     DefaultSchema.
//
// The document is spooled to a temp file, a job is submitted, and the queued
// job snapshot is returned with 202 Accepted.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	max := s.MaxUploadBytes
	if max <= 0 {
		max = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, max)

	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("multipart body required: %w", err))
		return
	}

	var (
		sch     = s.DefaultSchema
		tmpPath string
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.removeTmp(tmpPath)
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart: %w", err))
			return
		}

		switch part.FormName() {
		case "schema":
			b, err := io.ReadAll(io.LimitReader(part, 1<<20))
			if err != nil {
				s.removeTmp(tmpPath)
				s.writeError(w, http.StatusBadRequest, fmt.Errorf("read schema part: %w", err))
				return
			}
			sch, err = schema.Parse(b)
			if err != nil {
				s.removeTmp(tmpPath)
				s.writeError(w, http.StatusBadRequest, err)
				return
			}
		case "document":
			tmpPath, err = s.spool(part)
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					s.writeError(w, http.StatusRequestEntityTooLarge, err)
					return
				}
				s.writeError(w, http.StatusInternalServerError, fmt.Errorf("spool upload: %w", err))
				return
			}
		default:
			_ = part.Close()
		}
	}

	if tmpPath == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("multipart part %q is required", "document"))
		return
	}
	if sch == nil {
		s.removeTmp(tmpPath)
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("multipart part %q is required (no default schema configured)", "schema"))
		return
	}

	snap := s.manager.Submit(func(ctx context.Context, j *jobs.Job) error {
		defer s.removeTmp(tmpPath)

		f, err := os.Open(tmpPath)
		if err != nil {
			return fmt.Errorf("open spooled upload: %w", err)
		}
		defer f.Close()

		return s.Extract(ctx, &progressReader{r: f, job: j}, sch, j)
	})

	s.logger.Printf("stage=upload job=%s spool=%s", snap.ID, filepath.Base(tmpPath))
	s.writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown job %q", r.PathValue("id")))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// handleJobEvents streams job progress as Server-Sent Events. One "progress"
// event per snapshot; the stream ends after the terminal snapshot.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe, ok := s.manager.Subscribe(r.PathValue("id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown job %q", r.PathValue("id")))
		return
	}
	defer unsubscribe()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("response writer does not support streaming"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-ch:
			if !open {
				return
			}
			b, err := json.Marshal(snap)
			if err != nil {
				return
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", b)
			flusher.Flush()
		}
	}
}

// progressReader reports input consumption on the job as the extractor reads.
type progressReader struct {
	r   io.Reader
	job *jobs.Job
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.job.AddBytes(int64(n))
	}
	return n, err
}

// spool copies one multipart part to a temp file and returns its path.
func (s *Server) spool(part io.Reader) (string, error) {
	dir := s.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "xmlsift-upload-*.xml")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, part); err != nil {
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (s *Server) removeTmp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Printf("stage=cleanup path=%s error=%q", filepath.Base(path), err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("stage=respond error=%q", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe runs the HTTP server until ctx is canceled, then shuts down
// gracefully with a short drain window.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Printf("stage=serve addr=%s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
