/**
 * Overlay Renderer
 *
 * Draws each region of a page as a colored, labeled rectangle for visual QA.
 * Regions are drawn in list order and labeled "<index>: <kind>", with the
 * score appended when present. The page and the regions are never modified;
 * drawing happens on a copy.
 */

package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
	"github.com/adverant/nexus/docassist-worker/internal/imaging"
	"github.com/adverant/nexus/docassist-worker/internal/logging"
	"github.com/adverant/nexus/docassist-worker/internal/model"
)

// Palette maps region kinds to colors.
var Palette = map[model.Kind]color.RGBA{
	model.KindText:   {R: 50, G: 220, B: 50, A: 255},
	model.KindTable:  {R: 255, G: 160, B: 60, A: 255},
	model.KindFigure: {R: 60, G: 160, B: 255, A: 255},
}

// FallbackColor is used for kinds missing from Palette.
var FallbackColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

var labelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

const (
	labelPadding = 6
	// cap height of the reference label font at scale 1.0, in pixels
	baseFontPixels = 22.0
)

// Options are the rendering parameters
type Options struct {
	Thickness int     // rectangle stroke width
	FontScale float64 // label size relative to a 22px font
	MinArea   int     // clamped boxes smaller than this are not drawn; 0 draws all
}

// DefaultOptions returns the standard overlay parameters
func DefaultOptions() Options {
	return Options{Thickness: 2, FontScale: 0.6, MinArea: 0}
}

// ColorFor returns the display color of a kind.
func ColorFor(kind model.Kind) color.RGBA {
	if c, ok := Palette[model.ParseKind(string(kind))]; ok {
		return c
	}
	return FallbackColor
}

// Renderer draws overlays. It is safe for concurrent use.
type Renderer struct {
	opts   Options
	font   *opentype.Font
	logger *logging.Logger
}

// NewRenderer creates a renderer. If the embedded label font cannot be
// parsed, labels fall back to a fixed 7x13 bitmap font.
func NewRenderer(opts Options) *Renderer {
	if opts.Thickness < 1 {
		opts.Thickness = 1
	}
	if opts.FontScale <= 0 {
		opts.FontScale = DefaultOptions().FontScale
	}
	r := &Renderer{opts: opts, logger: logging.NewLogger("OverlayRenderer")}
	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		r.logger.Warn("Label font unavailable, using bitmap font", "error", err)
	} else {
		r.font = f
	}
	return r
}

// newFace returns a fresh face; faces keep glyph caches and are not safe for
// concurrent use.
func (r *Renderer) newFace() font.Face {
	if r.font != nil {
		face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
			Size:    baseFontPixels * r.opts.FontScale,
			DPI:     72,
			Hinting: font.HintingFull,
		})
		if err == nil {
			return face
		}
		r.logger.Warn("Failed to create label face", "error", err)
	}
	return basicfont.Face7x13
}

// Render draws regions over a copy of page. Regions that cannot be drawn are
// skipped and reported as InvalidRegionError.
func (r *Renderer) Render(page image.Image, regions []model.Region) (*image.RGBA, []error) {
	dst := imaging.Clone(page)
	face := r.newFace()
	defer face.Close()

	var errs []error
	for i, region := range regions {
		if err := r.draw(dst, face, i+1, region); err != nil {
			errs = append(errs, err)
		}
	}
	return dst, errs
}

// RenderBlocks accepts raw blocks with heterogeneous key names. Label
// indices follow the positions in blocks, including skipped ones.
func (r *Renderer) RenderBlocks(page image.Image, blocks []map[string]interface{}) (*image.RGBA, []error) {
	dst := imaging.Clone(page)
	face := r.newFace()
	defer face.Close()

	var errs []error
	for i, b := range blocks {
		region, err := model.RegionFromMap(i+1, b)
		if err == nil {
			err = r.draw(dst, face, i+1, region)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return dst, errs
}

// RenderFile loads the page at srcPath, draws the regions and writes a PNG to
// outPath, creating its directory.
func (r *Renderer) RenderFile(srcPath string, regions []model.Region, outPath string) ([]error, error) {
	page, err := imaging.LoadFile(srcPath)
	if err != nil {
		return nil, err
	}
	img, errs := r.Render(page.Image, regions)
	if err := Save(outPath, img); err != nil {
		return errs, err
	}
	return errs, nil
}

// Save writes an overlay as PNG, creating the parent directory.
func Save(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create overlay dir: %w", err)
		}
	}
	return imaging.SavePNG(path, img)
}

func (r *Renderer) draw(dst *image.RGBA, face font.Face, index int, region model.Region) error {
	b := dst.Bounds()
	box, ok := region.BBox.Clamp(b.Dx(), b.Dy())
	if !ok {
		return apperrors.NewInvalidRegionError(index, fmt.Sprintf("box %s lies outside the %dx%d page", region.BBox, b.Dx(), b.Dy()))
	}
	if r.opts.MinArea > 0 && (box.X2()-box.X1())*(box.Y2()-box.Y1()) < r.opts.MinArea {
		return nil
	}

	c := ColorFor(region.Kind)
	strokeRect(dst, box, r.opts.Thickness, c)
	r.drawLabel(dst, face, box, labelText(index, region), c)
	return nil
}

func labelText(index int, region model.Region) string {
	label := fmt.Sprintf("%d: %s", index, region.Kind)
	if region.Score != nil {
		label += fmt.Sprintf(" (%.2f)", *region.Score)
	}
	return label
}

// strokeRect draws the outline of box with the stroke centred on its edges.
// draw.Draw clips to dst, so nothing lands outside the page.
func strokeRect(dst *image.RGBA, box model.BBox, thickness int, c color.RGBA) {
	src := image.NewUniform(c)
	lo, hi := thickness/2, (thickness-1)/2
	x1, y1, x2, y2 := box.X1(), box.Y1(), box.X2(), box.Y2()
	edges := []image.Rectangle{
		image.Rect(x1-lo, y1-lo, x2+hi+1, y1+hi+1), // top
		image.Rect(x1-lo, y2-lo, x2+hi+1, y2+hi+1), // bottom
		image.Rect(x1-lo, y1-lo, x1+hi+1, y2+hi+1), // left
		image.Rect(x2-lo, y1-lo, x2+hi+1, y2+hi+1), // right
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// drawLabel fills a background sized to the text plus padding above the box,
// or just inside it when there is no room above, and writes the label in white.
func (r *Renderer) drawLabel(dst *image.RGBA, face font.Face, box model.BBox, text string, bg color.RGBA) {
	tw := font.MeasureString(face, text).Ceil()
	th := face.Metrics().Ascent.Ceil()

	x, y := box.X1(), box.Y1()
	top, bottom := y-th-labelPadding, y
	if top < 0 {
		top, bottom = y, y+th+labelPadding
	}
	bgRect := image.Rect(x, top, x+tw+labelPadding, bottom).Intersect(dst.Bounds())
	draw.Draw(dst, bgRect, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(x+labelPadding/2, bottom-labelPadding/2),
	}
	d.DrawString(text)
}
