package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/model"
	"github.com/adverant/nexus/docassist-worker/internal/processor"
	"github.com/adverant/nexus/docassist-worker/internal/queue"
)

// POST /api/ocr
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	s.processUpload(w, r, processor.ModeOCR)
}

// POST /api/segment
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	s.processUpload(w, r, processor.ModeSegment)
}

// POST /api/segment/preview returns the overlay PNG.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readUpload(w, r, processor.ModePreview)
	if !ok {
		return
	}
	result, err := s.cfg.Processor.Process(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if result.OverlayURL != "" {
		w.Header().Set("X-Overlay-Url", result.OverlayURL)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Preview); err != nil {
		s.logger.Warn("Failed to write preview", "error", err)
	}
}

// POST /api/overlay draws a caller supplied layout (multipart "layout" field,
// a block list or {"blocks": [...]}) over the uploaded page.
func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readUpload(w, r, processor.ModePreview)
	if !ok {
		return
	}
	blocks, err := model.BlocksFromJSON([]byte(r.FormValue("layout")))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := imaging.DecodeLimited(req.FileBuffer, req.Filename, s.cfg.MaxPixels)
	if err != nil {
		s.writeError(w, err)
		return
	}

	img, errs := s.cfg.Renderer.RenderBlocks(page.Image, blocks)
	data, err := imaging.EncodePNG(img)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Skipped-Regions", strconv.Itoa(len(errs)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("Failed to write overlay", "error", err)
	}
}

func (s *Server) processUpload(w http.ResponseWriter, r *http.Request, mode processor.Mode) {
	req, ok := s.readUpload(w, r, mode)
	if !ok {
		return
	}
	result, err := s.cfg.Processor.Process(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.RecordID > 0 {
		w.Header().Set("Location", fmt.Sprintf("/api/documents/%d", result.RecordID))
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// readUpload reads the multipart "file" field into a processor request.
// It writes the error response itself and reports false on failure.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, mode processor.Mode) (*processor.ProcessRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorMessage(w, http.StatusRequestEntityTooLarge, "file too large")
			return nil, false
		}
		writeErrorMessage(w, http.StatusBadRequest, "multipart form with a file field is required")
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "file field is required")
		return nil, false
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "failed to read upload")
		return nil, false
	}
	if buf.Len() == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "empty file")
		return nil, false
	}

	prep, err := imaging.ParseMode(r.FormValue("preprocess"))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	return &processor.ProcessRequest{
		JobID:      uuid.NewString(),
		Filename:   header.Filename,
		Mode:       mode,
		Preprocess: prep,
		FileBuffer: buf.Bytes(),
	}, true
}

// GET /api/documents?limit=&offset=
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.cfg.Records.ListRecords(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": records,
		"count":     len(records),
		"offset":    offset,
	})
}

// GET /api/documents/{id}
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.cfg.Records.GetRecord(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GET /api/documents/{id}/layout returns the parsed column. A parsed value
// that is not an object is wrapped as {"layout": value}.
func (s *Server) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := s.cfg.Records.GetRecord(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	parsed := bytes.TrimSpace(rec.Parsed)
	if len(parsed) > 0 && parsed[0] == '{' {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(parsed)
		return
	}
	if len(parsed) == 0 {
		parsed = []byte("null")
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"layout": parsed})
}

// POST /api/jobs queues a page job described by a JSON payload.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var payload queue.JobPayload
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize*2)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid job payload: %v", err))
		return
	}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if _, err := payload.ToRequest(); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	id, err := s.cfg.Jobs.Enqueue(ctx, payload)
	if err != nil {
		s.logger.Error("Failed to enqueue job", "job", payload.JobID, "error", err)
		writeErrorMessage(w, http.StatusServiceUnavailable, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

// GET /api/jobs/{id}
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	results := s.cfg.Jobs.(JobResults)
	result, err := results.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}

	if err := s.cfg.Records.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	} else {
		body["database"] = "ok"
	}
	if pool, ok := s.cfg.Records.(poolStats); ok {
		st := pool.GetStats()
		body["db_pool"] = map[string]int{
			"open":   st.OpenConnections,
			"in_use": st.InUse,
			"idle":   st.Idle,
		}
	}

	if s.cfg.Engines != nil {
		body["engines"] = s.cfg.Engines.Status()
	}
	if s.cfg.Queue != nil {
		if stats, err := s.cfg.Queue.GetStats(ctx); err == nil {
			body["queue"] = stats
		} else {
			body["queue"] = err.Error()
		}
	}
	writeJSON(w, status, body)
}

type poolStats interface {
	GetStats() sql.DBStats
}

func recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// statusFor maps processing errors to HTTP statuses.
func statusFor(err error) int {
	var pe *apperrors.ProcessingError
	if !errors.As(err, &pe) {
		return http.StatusInternalServerError
	}
	switch pe.Code {
	case apperrors.ErrorImageDecode, apperrors.ErrorUnsupportedFormat:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorNotFound:
		return http.StatusNotFound
	case apperrors.ErrorProcessingTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		writeJSON(w, status, pe.ToMap())
		return
	}
	writeErrorMessage(w, status, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
