package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/overlay"
	"github.com/adverant/nexus/docassist-worker/internal/processor"
	"github.com/adverant/nexus/docassist-worker/internal/queue"
	"github.com/adverant/nexus/docassist-worker/internal/storage"
)

type fakeProcessor struct {
	store *storage.RecordStore
	err   error
	got   *processor.ProcessRequest
}

func (f *fakeProcessor) Process(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	result := &processor.ProcessResult{JobID: req.JobID, Mode: req.Mode, Text: "hello"}
	switch req.Mode {
	case processor.ModePreview:
		result.Preview = []byte("\x89PNG fake")
		result.OverlayURL = "/captures/x_overlay.png"
	default:
		rec, err := f.store.CreateRecord(ctx, storage.NewRecord{Filename: req.Filename, RawText: "hello", Parsed: map[string]string{"text": "hello"}})
		if err != nil {
			return nil, err
		}
		result.RecordID = rec.ID
	}
	return result, nil
}

type fakeEngines map[string]string

func (f fakeEngines) Status() map[string]string { return f }

type fakeJobs struct {
	queued  []queue.JobPayload
	results map[string]*processor.ProcessResult
}

func (f *fakeJobs) Enqueue(ctx context.Context, p queue.JobPayload) (string, error) {
	f.queued = append(f.queued, p)
	return p.JobID, nil
}

func (f *fakeJobs) Result(ctx context.Context, id string) (*processor.ProcessResult, error) {
	if r, ok := f.results[id]; ok {
		return r, nil
	}
	return nil, apperrors.NewNotFoundError("job " + id)
}

type fixture struct {
	server   *Server
	handler  http.Handler
	proc     *fakeProcessor
	store    *storage.RecordStore
	jobs     *fakeJobs
	captures string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewRecordStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	proc := &fakeProcessor{store: store}
	jobs := &fakeJobs{results: map[string]*processor.ProcessResult{}}
	srv, err := NewServer(Config{
		Processor:   proc,
		Records:     store,
		Engines:     fakeEngines{"tesseract": "available"},
		Renderer:    overlay.NewRenderer(overlay.DefaultOptions()),
		CapturesDir: dir,
		Jobs:        jobs,
	})
	require.NoError(t, err)
	return &fixture{server: srv, handler: srv.Routes(), proc: proc, store: store, jobs: jobs, captures: dir}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, path, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNewServer_Requirements(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
	_, err = NewServer(Config{Processor: &fakeProcessor{}})
	assert.Error(t, err)
}

func TestOCR_CreatesRecord(t *testing.T) {
	f := newFixture(t)

	rec := f.do(uploadRequest(t, "/api/ocr", "scan.png", []byte("png-bytes"), map[string]string{"preprocess": "table"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/documents/1", rec.Header().Get("Location"))

	body := decode(t, rec)
	assert.Equal(t, "ocr", body["mode"])
	assert.Equal(t, "hello", body["text"])

	require.NotNil(t, f.proc.got)
	assert.Equal(t, "scan.png", f.proc.got.Filename)
	assert.Equal(t, imaging.ModeTable, f.proc.got.Preprocess)
	assert.Equal(t, []byte("png-bytes"), f.proc.got.FileBuffer)
	assert.NotEmpty(t, f.proc.got.JobID)
}

func TestSegment_UsesSegmentMode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(uploadRequest(t, "/api/segment", "form.png", []byte("x"), nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, processor.ModeSegment, f.proc.got.Mode)
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(uploadRequest(t, "/api/ocr", "empty.png", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "empty file", decode(t, rec)["error"])

	rec = f.do(uploadRequest(t, "/api/ocr", "a.png", []byte("x"), map[string]string{"preprocess": "sepia"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/ocr", bytes.NewBufferString("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_ProcessingErrors(t *testing.T) {
	f := newFixture(t)

	f.proc.err = apperrors.NewImageDecodeError("a.png", errors.New("not an image"))
	rec := f.do(uploadRequest(t, "/api/segment", "a.png", []byte("x"), nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "IMAGE_DECODE_FAILED", decode(t, rec)["error_code"])

	f.proc.err = errors.New("boom")
	rec = f.do(uploadRequest(t, "/api/segment", "a.png", []byte("x"), nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPreview_ReturnsPNG(t *testing.T) {
	f := newFixture(t)

	rec := f.do(uploadRequest(t, "/api/segment/preview", "a.png", []byte("x"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "/captures/x_overlay.png", rec.Header().Get("X-Overlay-Url"))
	assert.Equal(t, []byte("\x89PNG fake"), rec.Body.Bytes())
}

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	data, err := imaging.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func TestOverlay_DrawsSuppliedLayout(t *testing.T) {
	f := newFixture(t)
	layout := `{"blocks":[{"type":"table","bbox":[10,10,100,80]},{"cls":"text","poly":[[20,90],[150,90],[150,140],[20,140]]},{"type":"text"}]}`

	rec := f.do(uploadRequest(t, "/api/overlay", "page.png", whitePNG(t, 200, 160), map[string]string{"layout": layout}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("X-Skipped-Regions"))

	page, err := imaging.Decode(rec.Body.Bytes(), "overlay")
	require.NoError(t, err)
	assert.Equal(t, 200, page.Width)
	assert.Equal(t, 160, page.Height)
	assert.Nil(t, f.proc.got, "overlay rendering bypasses the pipeline")
}

func TestOverlay_Rejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(uploadRequest(t, "/api/overlay", "page.png", whitePNG(t, 20, 20), map[string]string{"layout": "nope"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(uploadRequest(t, "/api/overlay", "page.png", []byte("not a png"), map[string]string{"layout": "[]"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDocuments_ListAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.store.CreateRecord(ctx, storage.NewRecord{Filename: fmt.Sprintf("p%d.png", i)})
		require.NoError(t, err)
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/documents?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["count"])
	docs := body["documents"].([]interface{})
	assert.Equal(t, "p2.png", docs[0].(map[string]interface{})["filename"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents/2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p1.png", decode(t, rec)["filename"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocuments_Layout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	obj, err := f.store.CreateRecord(ctx, storage.NewRecord{
		Filename: "a.png",
		Parsed:   map[string]interface{}{"overlay_url": "/captures/a_overlay.png"},
	})
	require.NoError(t, err)
	list, err := f.store.CreateRecord(ctx, storage.NewRecord{Filename: "b.png", Parsed: []int{1, 2}})
	require.NoError(t, err)

	rec := f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/documents/%d/layout", obj.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/captures/a_overlay.png", decode(t, rec)["overlay_url"])

	rec = f.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/documents/%d/layout", list.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{float64(1), float64(2)}, decode(t, rec)["layout"])
}

func TestCaptures_Served(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.captures, "tables"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.captures, "tables", "t1.png"), []byte("table"), 0o644))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/captures/tables/t1.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "table", rec.Body.String())

	rec = f.do(httptest.NewRequest(http.MethodGet, "/captures/tables/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobs_SubmitAndResult(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs",
		bytes.NewBufferString(`{"filename":"a.png","mode":"ocr","filePath":"/data/a.png"}`))
	rec := f.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode(t, rec)["jobId"].(string)
	assert.NotEmpty(t, id)
	require.Len(t, f.jobs.queued, 1)
	assert.Equal(t, "/data/a.png", f.jobs.queued[0].FilePath)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.jobs.results[id] = &processor.ProcessResult{JobID: id, Mode: processor.ModeOCR, Text: "done"}
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", decode(t, rec)["text"])
}

func TestJobs_InvalidPayload(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(`{"filename":"a.png"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.jobs.queued)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "available", body["engines"].(map[string]interface{})["tesseract"])
	assert.Contains(t, body["db_pool"], "open")

	require.NoError(t, f.store.Close())
	rec = f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(apperrors.NewNotFoundError("x")))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(apperrors.NewProcessingTimeoutError("j", 0, nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(fmt.Errorf("wrap: %w", apperrors.NewUnsupportedFormatError("j", "x"))))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperrors.NewStorageFailedError("j", errors.New("x"))))
}
