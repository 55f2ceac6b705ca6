/**
 * Page Processor for the docassist worker
 *
 * Orchestrates one page through the recognition stack:
 * - ocr:     preprocess -> fuse engines -> compact -> normalize -> persist
 * - segment: detect regions -> fuse per text region -> capture tables ->
 *            overlay -> persist
 * - preview: detect regions -> overlay, returned as PNG bytes
 *
 * Only page-level load and decode failures are returned as errors. Engine
 * failures end up in the fused metadata and region failures in ocr_error.
 */

package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/fusion"
	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/layout"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
	"github.com/adverant/nexus/docassist-worker/internal/model"
	"github.com/adverant/nexus/docassist-worker/internal/overlay"
	"github.com/adverant/nexus/docassist-worker/internal/storage"
	"github.com/adverant/nexus/docassist-worker/internal/textnorm"
)

// Mode selects what Process does with a page.
type Mode string

const (
	ModeOCR     Mode = "ocr"
	ModeSegment Mode = "segment"
	ModePreview Mode = "preview"
)

// ParseMode maps an empty value to ModeSegment.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeSegment, nil
	case ModeOCR, ModeSegment, ModePreview:
		return m, nil
	default:
		return "", fmt.Errorf("unknown processing mode %q", s)
	}
}

// PageProcessorInterface is what the queue consumers and the HTTP API drive.
type PageProcessorInterface interface {
	Process(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
}

// RecordWriter persists page results.
type RecordWriter interface {
	CreateRecord(ctx context.Context, in storage.NewRecord) (*storage.Record, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Detector          *layout.Detector
	Selector          *fusion.Selector
	Renderer          *overlay.Renderer
	Store             RecordWriter // nil disables persistence
	Captures          *storage.Captures
	Fusion            fusion.Options
	RegionConcurrency int
	CompactLines      bool  // apply textnorm.Compact before Normalize
	MaxShortSide      int   // uploads are shrunk to this short side; 0 keeps them
	MaxFileSize       int64 // 0 means unlimited
	MaxPixels         int64 // declared page size limit; 0 uses imaging.DefaultMaxPixels
}

// ProcessRequest represents a page processing request. Exactly one of
// FileBuffer, FilePath and FileURL is used, in that order of preference.
type ProcessRequest struct {
	JobID      string
	Filename   string
	Mode       Mode
	Preprocess imaging.Mode // single-page preprocessing; empty is doc
	FileBuffer []byte
	FilePath   string
	FileURL    string
}

// ProcessResult represents the processing result
type ProcessResult struct {
	JobID            string             `json:"jobId"`
	Mode             Mode               `json:"mode"`
	RecordID         int64              `json:"recordId,omitempty"`
	Text             string             `json:"text,omitempty"`
	Meta             *model.OCRMeta     `json:"meta,omitempty"`
	Layout           *model.Layout      `json:"layout,omitempty"`
	OverlayURL       string             `json:"overlayUrl,omitempty"`
	Diagnosis        *imaging.Diagnosis `json:"diagnosis,omitempty"`
	TextRegions      int                `json:"textRegions"`
	TablesCaptured   int                `json:"tablesCaptured"`
	RegionErrors     []string           `json:"regionErrors,omitempty"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
	Preview          []byte             `json:"-"`
}

// SinglePayload is the parsed column of an ocr record.
type SinglePayload struct {
	Text      string            `json:"text"`
	Meta      model.OCRMeta     `json:"meta"`
	Diagnosis imaging.Diagnosis `json:"diagnosis"`
}

// SegmentPayload is the parsed column of a layout record.
type SegmentPayload struct {
	Layout     *model.Layout     `json:"layout"`
	OverlayURL string            `json:"overlay_url"`
	SourcePNG  string            `json:"source_png,omitempty"`
	Diagnosis  imaging.Diagnosis `json:"diagnosis"`
}

// PageProcessor handles page processing
type PageProcessor struct {
	config *ProcessorConfig
	loader *loader
	logger *logging.Logger
}

// NewPageProcessor creates a new page processor
func NewPageProcessor(cfg *ProcessorConfig) (*PageProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("region detector is required")
	}
	if cfg.Selector == nil {
		return nil, fmt.Errorf("fusion selector is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("overlay renderer is required")
	}
	if cfg.Captures == nil {
		return nil, fmt.Errorf("captures directory is required")
	}
	if cfg.RegionConcurrency < 1 {
		cfg.RegionConcurrency = 1
	}

	return &PageProcessor{
		config: cfg,
		loader: newLoader(cfg.MaxFileSize),
		logger: logging.NewLogger("PageProcessor"),
	}, nil
}

// Process runs the request in its mode.
func (p *PageProcessor) Process(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if req.Mode == "" {
		req.Mode = ModeSegment
	}
	if req.Filename == "" {
		req.Filename = defaultFilename(req)
	}

	switch req.Mode {
	case ModeOCR:
		return p.RecognizePage(ctx, req)
	case ModeSegment:
		return p.SegmentPage(ctx, req)
	case ModePreview:
		return p.Preview(ctx, req)
	default:
		return nil, apperrors.NewUnsupportedFormatError(req.JobID, string(req.Mode))
	}
}

// RecognizePage recognises the whole page as one image.
func (p *PageProcessor) RecognizePage(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	log := p.logger.With("job", req.JobID, "mode", ModeOCR)

	page, err := p.loadPage(ctx, req)
	if err != nil {
		return nil, err
	}
	diag := imaging.Diagnose(page.Image)

	prepMode := req.Preprocess
	if prepMode == "" {
		prepMode = imaging.ModeDoc
	}
	prepared := imaging.Preprocess(page.Image, prepMode)

	fused := p.config.Selector.Fuse(ctx, prepared, p.config.Fusion)
	text := p.finishText(fused)
	meta := fused.Meta()

	result := &ProcessResult{
		JobID:       req.JobID,
		Mode:        ModeOCR,
		Text:        text,
		Meta:        &meta,
		Diagnosis:   &diag,
		TextRegions: 1,
	}

	if p.config.Store != nil {
		rec, err := p.config.Store.CreateRecord(ctx, storage.NewRecord{
			Filename: req.Filename,
			RawText:  text,
			Parsed:   SinglePayload{Text: text, Meta: meta, Diagnosis: diag},
			Score:    max(0, model.Round2(fused.Score)),
			Tier:     storage.TierSingle,
		})
		if err != nil {
			log.Error("Failed to persist page", "error", err)
			return nil, err
		}
		result.RecordID = rec.ID
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Info("Page recognized",
		"engine", fused.Engine,
		"score", model.Round2(fused.Score),
		"no_text", fused.NoText,
		"record", result.RecordID,
		"elapsed_ms", result.ProcessingTimeMs)
	return result, nil
}

// finishText applies the post-processing chain to a fused result.
func (p *PageProcessor) finishText(fused fusion.Result) string {
	if fused.NoText {
		return fusion.Placeholder
	}
	text := fused.Text
	if p.config.CompactLines {
		text = textnorm.Compact(text)
	}
	text = textnorm.Normalize(text)
	if text == "" {
		return fusion.Placeholder
	}
	return text
}

func (p *PageProcessor) loadPage(ctx context.Context, req *ProcessRequest) (*imaging.Page, error) {
	data, source, err := p.loader.load(ctx, req)
	if err != nil {
		return nil, err
	}
	maxPixels := p.config.MaxPixels
	if maxPixels == 0 {
		maxPixels = imaging.DefaultMaxPixels
	}
	page, err := imaging.DecodeLimited(data, source, maxPixels)
	if err != nil {
		return nil, err
	}
	if p.config.MaxShortSide > 0 {
		if shrunk := imaging.ShrinkShortSide(page.Image, p.config.MaxShortSide); shrunk != page.Image {
			return imaging.FromImage(shrunk, page.Format, page.Source)
		}
	}
	return page, nil
}
