/**
 * HTTP surface for the docassist worker
 *
 * JSON endpoints for single-page OCR, layout segmentation, overlay preview
 * and stored records, plus the captures file tree and a health probe.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
	"github.com/adverant/nexus/docassist-worker/internal/overlay"
	"github.com/adverant/nexus/docassist-worker/internal/processor"
	"github.com/adverant/nexus/docassist-worker/internal/queue"
	"github.com/adverant/nexus/docassist-worker/internal/storage"
)

// DefaultMaxUploadSize bounds multipart uploads when none is configured.
const DefaultMaxUploadSize = 50 << 20

// RecordReader reads stored page records.
type RecordReader interface {
	GetRecord(ctx context.Context, id int64) (*storage.Record, error)
	ListRecords(ctx context.Context, limit, offset int) ([]*storage.Record, error)
	Ping(ctx context.Context) error
}

// EngineStatus reports engine availability.
type EngineStatus interface {
	Status() map[string]string
}

// JobQueue accepts asynchronous page jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, payload queue.JobPayload) (string, error)
}

// JobResults looks up the result of a finished job.
type JobResults interface {
	Result(ctx context.Context, jobID string) (*processor.ProcessResult, error)
}

// QueueStats reports queue depth per status.
type QueueStats interface {
	GetStats(ctx context.Context) (map[string]int64, error)
}

// Config wires the server. Renderer, Jobs and Queue are optional.
type Config struct {
	Processor     processor.PageProcessorInterface
	Records       RecordReader
	Engines       EngineStatus
	Renderer      *overlay.Renderer
	CapturesDir   string
	Jobs          JobQueue
	Queue         QueueStats
	MaxUploadSize int64
	MaxPixels     int64 // 0 uses imaging.DefaultMaxPixels
}

// Server serves the HTTP API
type Server struct {
	cfg    Config
	logger *logging.Logger
}

// NewServer creates a server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Records == nil {
		return nil, fmt.Errorf("Records is required")
	}
	if cfg.CapturesDir == "" {
		return nil, fmt.Errorf("CapturesDir is required")
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = imaging.DefaultMaxPixels
	}
	return &Server{cfg: cfg, logger: logging.NewLogger("HTTPServer")}, nil
}

// Routes returns the router with the standard middleware stack.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts every endpoint on r.
func (s *Server) RegisterHTTP(r chi.Router) {
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ocr", s.handleOCR)
		r.Post("/segment", s.handleSegment)
		r.Post("/segment/preview", s.handlePreview)
		if s.cfg.Renderer != nil {
			r.Post("/overlay", s.handleOverlay)
		}

		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/documents/{id}/layout", s.handleGetLayout)

		if s.cfg.Jobs != nil {
			r.Post("/jobs", s.handleSubmitJob)
			if _, ok := s.cfg.Jobs.(JobResults); ok {
				r.Get("/jobs/{id}", s.handleJobResult)
			}
		}
	})

	files := http.StripPrefix(storage.CapturesURLPrefix, http.FileServer(http.Dir(s.cfg.CapturesDir)))
	r.Handle(storage.CapturesURLPrefix+"/*", files)
}

// ListenAndServe runs the server until ctx is done, then shuts it down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("Request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}
