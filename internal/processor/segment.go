package processor

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/fusion"
	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/model"
	"github.com/adverant/nexus/docassist-worker/internal/overlay"
	"github.com/adverant/nexus/docassist-worker/internal/storage"
)

// SegmentPage detects the regions of a page, recognises every text region,
// captures every table region, renders the overlay and stores the layout.
func (p *PageProcessor) SegmentPage(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	log := p.logger.With("job", req.JobID, "mode", ModeSegment)

	page, err := p.loadPage(ctx, req)
	if err != nil {
		return nil, err
	}
	diag := imaging.Diagnose(page.Image)

	lay, err := p.config.Detector.Detect(ctx, page)
	if err != nil {
		return nil, err
	}
	log.Info("Regions detected",
		"width", lay.Width, "height", lay.Height,
		"text", lay.Count(model.KindText), "tables", lay.Count(model.KindTable))

	sourcePNG, err := p.config.Captures.SaveUpload(page.Image)
	if err != nil {
		log.Warn("Failed to keep source page", "error", err)
	}
	run := p.config.Captures.NewRun(req.Filename, start)

	textRegions, regionErrs := p.recognizeRegions(ctx, page, lay)
	tables, tableErrs := p.captureTables(run, page, lay)
	regionErrs = append(regionErrs, tableErrs...)

	overlayURL, _, err := p.saveOverlay(run, page, lay)
	if err != nil {
		log.Warn("Failed to save overlay", "error", err)
	}

	result := &ProcessResult{
		JobID:          req.JobID,
		Mode:           ModeSegment,
		Text:           joinRegionText(lay),
		Layout:         lay,
		OverlayURL:     overlayURL,
		Diagnosis:      &diag,
		TextRegions:    textRegions,
		TablesCaptured: tables,
		RegionErrors:   regionErrs,
	}

	if p.config.Store != nil {
		overlayPath := ""
		if overlayURL != "" {
			overlayPath = run.OverlayPath()
		}
		rec, err := p.config.Store.CreateRecord(ctx, storage.NewRecord{
			Filename: req.Filename,
			RawText:  result.Text,
			Parsed: SegmentPayload{
				Layout:     lay,
				OverlayURL: overlayURL,
				SourcePNG:  sourcePNG,
				Diagnosis:  diag,
			},
			Tier:        storage.TierLayout,
			OverlayPath: overlayPath,
			TablesDir:   p.config.Captures.TablesDir(),
		})
		if err != nil {
			log.Error("Failed to persist layout", "error", err)
			return nil, err
		}
		result.RecordID = rec.ID
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Info("Page segmented",
		"text_regions", textRegions,
		"tables", tables,
		"region_errors", len(regionErrs),
		"record", result.RecordID,
		"elapsed_ms", result.ProcessingTimeMs)
	return result, nil
}

// Preview detects regions and returns the overlay as PNG bytes. Nothing is
// recognised or stored apart from the overlay file.
func (p *PageProcessor) Preview(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()

	page, err := p.loadPage(ctx, req)
	if err != nil {
		return nil, err
	}
	lay, err := p.config.Detector.Detect(ctx, page)
	if err != nil {
		return nil, err
	}

	run := p.config.Captures.NewRun(req.Filename, start)
	overlayURL, img, err := p.saveOverlay(run, page, lay)
	if err != nil {
		p.logger.Warn("Failed to save overlay", "job", req.JobID, "error", err)
	}
	data, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		JobID:            req.JobID,
		Mode:             ModePreview,
		Layout:           lay,
		OverlayURL:       overlayURL,
		Preview:          data,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// recognizeRegions fuses every text region on a pool bounded by
// RegionConcurrency. Each goroutine writes only its own region.
func (p *PageProcessor) recognizeRegions(ctx context.Context, page *imaging.Page, lay *model.Layout) (int, []string) {
	sem := make(chan struct{}, p.config.RegionConcurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []string
		n    int
	)

	fail := func(region *model.Region, err error) {
		region.OCRErr = err.Error()
		mu.Lock()
		errs = append(errs, fmt.Sprintf("%s: %v", region.ID, err))
		mu.Unlock()
	}

	for i := range lay.Blocks {
		region := &lay.Blocks[i]
		if region.Kind != model.KindText {
			continue
		}
		n++
		wg.Add(1)
		go func(index int, region *model.Region) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				fail(region, fmt.Errorf("region not recognized: %w", ctx.Err()))
				return
			}
			if err := p.recognizeRegion(ctx, page, index, region); err != nil {
				fail(region, err)
			}
		}(i+1, region)
	}
	wg.Wait()

	sort.Strings(errs)
	return n, errs
}

func (p *PageProcessor) recognizeRegion(ctx context.Context, page *imaging.Page, index int, region *model.Region) error {
	box, ok := region.BBox.Clamp(page.Width, page.Height)
	if !ok {
		return apperrors.NewInvalidRegionError(index, fmt.Sprintf("box %s lies outside the %dx%d page", region.BBox, page.Width, page.Height))
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("region not recognized: %w", err)
	}

	crop := imaging.Crop(page.Image, box.Rect())
	fused := p.config.Selector.Fuse(ctx, crop, p.config.Fusion)
	region.OCR = &model.RegionOCR{
		Text: p.finishText(fused),
		Meta: fused.Meta(),
	}
	return nil
}

// captureTables writes a crop of every table region and links it from the
// region. The raw content, when present, is kept under table.raw.
func (p *PageProcessor) captureTables(run *storage.Run, page *imaging.Page, lay *model.Layout) (int, []string) {
	var errs []string
	n := 0
	for i := range lay.Blocks {
		region := &lay.Blocks[i]
		if region.Kind != model.KindTable {
			continue
		}
		box, ok := region.BBox.Clamp(page.Width, page.Height)
		if !ok {
			err := apperrors.NewInvalidRegionError(i+1, fmt.Sprintf("box %s lies outside the %dx%d page", region.BBox, page.Width, page.Height))
			errs = append(errs, fmt.Sprintf("%s: %v", region.ID, err))
			continue
		}

		url, err := run.SaveTable(imaging.Crop(page.Image, box.Rect()), i+1)
		if err != nil {
			p.logger.Warn("Failed to capture table", "region", region.ID, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", region.ID, err))
			continue
		}
		region.Table = &model.RegionTable{ImageURL: url}
		if region.Content != nil {
			region.Table.Raw = region.Content
		}
		n++
	}
	return n, errs
}

// saveOverlay renders the layout and writes it under the run's overlay name.
// The rendered image is returned even when writing fails.
func (p *PageProcessor) saveOverlay(run *storage.Run, page *imaging.Page, lay *model.Layout) (string, image.Image, error) {
	img, errs := p.config.Renderer.Render(page.Image, lay.Blocks)
	for _, err := range errs {
		p.logger.Warn("Region not drawn", "error", err)
	}
	if err := overlay.Save(run.OverlayPath(), img); err != nil {
		return "", img, err
	}
	return run.OverlayURL(), img, nil
}

// joinRegionText concatenates the recognised text regions in layout order.
func joinRegionText(lay *model.Layout) string {
	var parts []string
	for _, b := range lay.Blocks {
		if b.OCR == nil || b.OCR.Text == fusion.Placeholder {
			continue
		}
		parts = append(parts, b.OCR.Text)
	}
	if len(parts) == 0 {
		return fusion.Placeholder
	}
	return strings.Join(parts, "\n\n")
}
