//go:build gocv

// Built with -tags gocv, the detector runs the morphology stages through
// OpenCV. This requires OpenCV 4 and its headers to be installed.

package layout

import (
	"context"
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// tableRects runs the morphology stages and returns candidate rectangles.
func (d *Detector) tableRects(ctx context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()

	src, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("failed to convert page to mat: %w", err)
	}
	defer src.Close()

	ink := gocv.NewMat()
	defer ink.Close()
	gocv.AdaptiveThreshold(src, &ink, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinaryInv,
		d.cfg.BlockSize, float32(d.cfg.C))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(max(d.cfg.MinKernel, w/d.cfg.KernelDivisor), 1))
	defer hKernel.Close()
	vKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(1, max(d.cfg.MinKernel, h/d.cfg.KernelDivisor)))
	defer vKernel.Close()

	horizontal := gocv.NewMat()
	defer horizontal.Close()
	vertical := gocv.NewMat()
	defer vertical.Close()
	gocv.MorphologyEx(ink, &horizontal, gocv.MorphOpen, hKernel)
	gocv.MorphologyEx(ink, &vertical, gocv.MorphOpen, vKernel)

	grid := gocv.NewMat()
	defer grid.Close()
	gocv.Add(horizontal, vertical, &grid)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(d.cfg.DilateSize, d.cfg.DilateSize))
	defer dKernel.Close()
	for i := 0; i < d.cfg.DilateIterations; i++ {
		gocv.Dilate(grid, &grid, dKernel)
	}

	contours := gocv.FindContours(grid, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	rects := make([]image.Rectangle, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		rects = append(rects, gocv.BoundingRect(contours.At(i)))
	}
	// OpenCV lists contours bottom-up.
	sort.SliceStable(rects, func(i, j int) bool {
		if rects[i].Min.Y != rects[j].Min.Y {
			return rects[i].Min.Y < rects[j].Min.Y
		}
		return rects[i].Min.X < rects[j].Min.X
	})
	return rects, nil
}
