/**
 * Tesseract engine
 *
 * General-purpose recognizer with a tunable page segmentation mode. The score
 * is the median word confidence, which is less sensitive than the mean to
 * garbage tokens near page edges. A fresh gosseract client is used per call,
 * so the engine is safe for concurrent use.
 */

package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/docassist-worker/internal/engines"
	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
)

// Name is the engine name used in scores and metadata.
const Name = "tesseract"

// Config configures the engine
type Config struct {
	Language    string // default language when the request has none
	MaxSide     int    // longer side is scaled down to this before recognition
	DefaultMode int    // page segmentation mode when the request has none
}

// DefaultConfig returns the default tesseract settings
func DefaultConfig() Config {
	return Config{
		Language:    "kor+eng",
		MaxSide:     2000,
		DefaultMode: int(gosseract.PSM_SINGLE_BLOCK),
	}
}

// Engine wraps gosseract.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
	logger        *logging.Logger
}

// New creates a tesseract engine
func New(cfg Config) *Engine {
	if cfg.Language == "" {
		cfg.Language = DefaultConfig().Language
	}
	return &Engine{
		cfg:           cfg,
		clientFactory: gosseract.NewClient,
		logger:        logging.NewLogger("TesseractEngine"),
	}
}

func (e *Engine) Name() string { return Name }

// SupportsVariants is true: requests may carry a page segmentation mode.
func (e *Engine) SupportsVariants() bool { return true }

// Probe runs a tiny recognition with the configured languages, which fails
// when the library or the trained data is missing.
func (e *Engine) Probe(ctx context.Context) error {
	_, err := e.run(ctx, engines.Request{Image: engines.ProbeImage()})
	if err != nil {
		return err
	}
	e.logger.Debug("Tesseract probe succeeded", "version", gosseract.Version(), "language", e.cfg.Language)
	return nil
}

// Recognize performs OCR on req.Image.
func (e *Engine) Recognize(ctx context.Context, req engines.Request) (engines.Candidate, error) {
	return e.run(ctx, req)
}

type result struct {
	cand engines.Candidate
	err  error
}

// run executes the cgo call on its own goroutine so that the caller can give
// up at its deadline. Tesseract itself cannot be interrupted; the abandoned
// call finishes in the background and its result is dropped.
func (e *Engine) run(ctx context.Context, req engines.Request) (engines.Candidate, error) {
	if req.Image == nil {
		return engines.Candidate{}, fmt.Errorf("no image")
	}
	data, err := imaging.EncodePNG(imaging.FitWithin(req.Image, e.cfg.MaxSide))
	if err != nil {
		return engines.Candidate{}, err
	}

	mode := e.cfg.DefaultMode
	if req.Variant != nil {
		mode = *req.Variant
	}
	lang := req.Language
	if lang == "" {
		lang = e.cfg.Language
	}

	done := make(chan result, 1)
	go func() {
		cand, err := e.recognizeBytes(data, lang, mode)
		done <- result{cand, err}
	}()

	select {
	case r := <-done:
		return r.cand, r.err
	case <-ctx.Done():
		return engines.Candidate{}, ctx.Err()
	}
}

func (e *Engine) recognizeBytes(data []byte, lang string, mode int) (engines.Candidate, error) {
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(engines.SplitLanguages(lang)...); err != nil {
		return engines.Candidate{}, fmt.Errorf("set language %s: %w", lang, err)
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(mode)); err != nil {
		return engines.Candidate{}, fmt.Errorf("set page segmentation mode %d: %w", mode, err)
	}
	if err := c.SetVariable("preserve_interword_spaces", "1"); err != nil {
		return engines.Candidate{}, fmt.Errorf("set variable: %w", err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return engines.Candidate{}, fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return engines.Candidate{}, fmt.Errorf("recognize text: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return engines.Candidate{}, fmt.Errorf("word boxes: %w", err)
	}
	confs := make([]float64, 0, len(boxes))
	for _, b := range boxes {
		confs = append(confs, b.Confidence)
	}

	v := mode
	return engines.Candidate{
		Engine:  Name,
		Text:    strings.TrimSpace(text),
		Score:   engines.Median(confs),
		Variant: &v,
	}, nil
}
