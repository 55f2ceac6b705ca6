//go:build !gocv

package layout

import (
	"context"
	"image"

	"github.com/adverant/nexus/docassist-worker/internal/imaging"
)

// tableRects runs the morphology stages and returns candidate rectangles.
func (d *Detector) tableRects(ctx context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()

	ink := imaging.AdaptiveThresholdMean(gray, d.cfg.BlockSize, d.cfg.C, true)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hk := max(d.cfg.MinKernel, w/d.cfg.KernelDivisor)
	vk := max(d.cfg.MinKernel, h/d.cfg.KernelDivisor)
	grid := imaging.Union(imaging.Open(ink, hk, 1), imaging.Open(ink, 1, vk))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := 0; i < d.cfg.DilateIterations; i++ {
		grid = imaging.Dilate(grid, d.cfg.DilateSize, d.cfg.DilateSize)
	}
	return imaging.ExternalBounds(grid), nil
}
