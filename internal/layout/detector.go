/**
 * Region Detector
 *
 * Finds table-like areas of a scanned page from its ruling lines:
 * - adaptive inverse threshold isolates ink
 * - horizontal and vertical openings keep only long strokes
 * - dilation merges the grid fragments into one blob per table
 * - external blobs larger than a fraction of the page become Table regions
 *
 * A whole-page Text region is always emitted first so that recognition
 * runs over the page even when no table is found.
 */

package layout

import (
	"context"
	"fmt"
	"image"

	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
	"github.com/adverant/nexus/docassist-worker/internal/model"
)

// EngineName is recorded in every layout produced by the morphology detector.
const EngineName = "opencv-only"

// PageRegionID is the id of the synthetic whole-page text region.
const PageRegionID = "b1"

// Config holds the empirical detection constants.
type Config struct {
	AreaRatio        float64 // minimum table area as a fraction of the page
	KernelDivisor    int     // line kernel length = dimension / KernelDivisor
	MinKernel        int     // lower bound for the line kernel length
	DilateSize       int     // square dilation kernel side
	DilateIterations int
	BlockSize        int // adaptive threshold window
	C                int // adaptive threshold offset
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		AreaRatio:        0.01,
		KernelDivisor:    50,
		MinKernel:        10,
		DilateSize:       5,
		DilateIterations: 2,
		BlockSize:        35,
		C:                10,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.AreaRatio < 0 || c.AreaRatio >= 1 {
		return fmt.Errorf("area ratio must be in [0,1), got %v", c.AreaRatio)
	}
	if c.KernelDivisor < 1 {
		return fmt.Errorf("kernel divisor must be positive, got %d", c.KernelDivisor)
	}
	if c.MinKernel < 1 || c.DilateSize < 1 {
		return fmt.Errorf("kernel sizes must be positive")
	}
	if c.DilateIterations < 0 {
		return fmt.Errorf("dilate iterations must be >= 0, got %d", c.DilateIterations)
	}
	if c.BlockSize < 3 || c.BlockSize%2 == 0 {
		return fmt.Errorf("threshold block size must be odd and >= 3, got %d", c.BlockSize)
	}
	return nil
}

// Detector produces page layouts. It holds no per-page state and is safe for
// concurrent use.
type Detector struct {
	cfg    Config
	logger *logging.Logger
}

// NewDetector creates a detector with the given configuration
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	return &Detector{cfg: cfg, logger: logging.NewLogger("LayoutDetector")}, nil
}

// DetectFile loads a page from disk and detects its regions.
func (d *Detector) DetectFile(ctx context.Context, path string) (*model.Layout, error) {
	page, err := imaging.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return d.Detect(ctx, page)
}

// Detect returns the page size and its regions: the whole-page text region
// followed by the table regions, topmost first.
func (d *Detector) Detect(ctx context.Context, page *imaging.Page) (*model.Layout, error) {
	w, h := page.Width, page.Height

	rects, err := d.tableRects(ctx, imaging.ToGray(page.Image))
	if err != nil {
		return nil, err
	}

	layout := &model.Layout{
		Engine: EngineName,
		Width:  w,
		Height: h,
		Blocks: []model.Region{pageRegion(w, h)},
	}
	minArea := d.cfg.AreaRatio * float64(w*h)
	for _, r := range rects {
		if float64(r.Dx()*r.Dy()) < minArea {
			continue
		}
		layout.Blocks = append(layout.Blocks, tableRegion(r))
	}

	d.logger.Debug("Layout detected",
		"source", page.Source,
		"width", w,
		"height", h,
		"tables", len(layout.Blocks)-1,
		"candidates", len(rects),
	)
	return layout, nil
}

func pageRegion(w, h int) model.Region {
	return model.Region{
		ID:   PageRegionID,
		Kind: model.KindText,
		BBox: model.BBox{0, 0, w, h},
	}
}

func tableRegion(r image.Rectangle) model.Region {
	return model.Region{
		ID:   fmt.Sprintf("t%d_%d", r.Min.X, r.Min.Y),
		Kind: model.KindTable,
		BBox: model.NewBBox(r),
	}
}
