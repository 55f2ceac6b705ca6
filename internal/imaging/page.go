/**
 * Page loading and raster helpers
 *
 * Decodes an already-rasterized page (PNG, JPEG, GIF, BMP, TIFF, WebP) and
 * provides the crop / scale / encode operations the recognizers need.
 * No format detection beyond the decoders, no EXIF handling, no resizing of
 * the stored page.
 */

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/adverant/nexus/docassist-worker/internal/errors"
)

// Page is a decoded raster. It is never modified after loading.
type Page struct {
	Image  image.Image
	Width  int
	Height int
	Format string
	Source string
}

// LoadFile reads and decodes a page from disk.
func LoadFile(path string) (*Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(path)
		}
		return nil, apperrors.NewImageDecodeError(path, err)
	}
	return Decode(data, path)
}

// DefaultMaxPixels bounds the declared size of a page before it is decoded.
const DefaultMaxPixels int64 = 178956970

// Decode decodes an in-memory page under DefaultMaxPixels. source is only
// used in errors.
func Decode(data []byte, source string) (*Page, error) {
	return DecodeLimited(data, source, DefaultMaxPixels)
}

// DecodeLimited reads the header first and rejects pages declaring more than
// maxPixels pixels without decoding them. maxPixels <= 0 disables the check.
func DecodeLimited(data []byte, source string, maxPixels int64) (*Page, error) {
	if len(data) == 0 {
		return nil, apperrors.NewImageDecodeError(source, fmt.Errorf("empty payload"))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewImageDecodeError(source, err)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && px > maxPixels {
		return nil, apperrors.NewImageDecodeError(source,
			fmt.Errorf("image declares %dx%d = %d pixels, limit is %d", cfg.Width, cfg.Height, px, maxPixels))
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewImageDecodeError(source, err)
	}
	return FromImage(img, format, source)
}

// FromImage wraps an already decoded image, moving its origin to (0,0).
func FromImage(img image.Image, format, source string) (*Page, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperrors.NewImageDecodeError(source, fmt.Errorf("empty image %v", b))
	}
	if b.Min != (image.Point{}) {
		img = Crop(img, b)
	}
	return &Page{
		Image:  img,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: format,
		Source: source,
	}, nil
}

// Clone returns an RGBA copy of img with origin (0,0).
func Clone(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Crop copies r (in img coordinates) into a new zero-origin RGBA image.
// r is intersected with the image bounds first.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// ToGray converts img to 8-bit luma with a zero origin.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// FitWithin scales img down so that its longer side is at most maxSide.
// Smaller images are returned unchanged.
func FitWithin(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if maxSide <= 0 || longest <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(longest)
	nw, nh := max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// ShrinkShortSide scales img down so that its shorter side is at most
// maxShort. Smaller images are returned unchanged.
func ShrinkShortSide(img image.Image, maxShort int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	short := min(w, h)
	if maxShort <= 0 || short <= maxShort {
		return img
	}
	return FitWithin(img, int(float64(max(w, h))*float64(maxShort)/float64(short)))
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// SavePNG writes img as a PNG file.
func SavePNG(path string, img image.Image) error {
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
