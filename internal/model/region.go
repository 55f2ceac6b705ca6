/**
 * Layout data model shared by detection, recognition, rendering and storage.
 *
 * Regions are created by the detector, enriched in place with recognition
 * output or an error marker, and never removed.
 */

package model

import (
	"fmt"
	"image"
	"strings"
)

// Kind classifies the content of a region.
type Kind string

const (
	KindText   Kind = "text"
	KindTable  Kind = "table"
	KindFigure Kind = "figure"
)

// ParseKind lowercases k; an empty value becomes "unknown".
func ParseKind(k string) Kind {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return "unknown"
	}
	return Kind(k)
}

// BBox is an integer pixel rectangle [x1, y1, x2, y2]. It marshals as a JSON array.
type BBox [4]int

// NewBBox builds a box from an image rectangle.
func NewBBox(r image.Rectangle) BBox {
	return BBox{r.Min.X, r.Min.Y, r.Max.X, r.Max.Y}
}

func (b BBox) X1() int { return b[0] }
func (b BBox) Y1() int { return b[1] }
func (b BBox) X2() int { return b[2] }
func (b BBox) Y2() int { return b[3] }

// Area is zero for degenerate boxes.
func (b BBox) Area() int {
	w, h := b[2]-b[0], b[3]-b[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Rect returns the box as an image rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b[0], b[1], b[2], b[3])
}

// Clamp limits the box to [0,w-1]x[0,h-1], the inclusive pixel grid of a
// w×h page, and reports whether anything of it remains.
func (b BBox) Clamp(w, h int) (BBox, bool) {
	x1, y1, x2, y2 := b[0], b[1], b[2], b[3]
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	x1, y1 = max(0, x1), max(0, y1)
	x2, y2 = min(w-1, x2), min(h-1, y2)
	out := BBox{x1, y1, x2, y2}
	return out, x1 < x2 && y1 < y2
}

func (b BBox) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b[0], b[1], b[2], b[3])
}

// Region is one rectangular, possibly overlapping, area of a page.
type Region struct {
	ID      string       `json:"id"`
	Kind    Kind         `json:"type"`
	BBox    BBox         `json:"bbox"`
	Content interface{}  `json:"content"`
	Score   *float64     `json:"score,omitempty"`
	OCR     *RegionOCR   `json:"ocr,omitempty"`
	OCRErr  string       `json:"ocr_error,omitempty"`
	Table   *RegionTable `json:"table,omitempty"`
}

// RegionOCR is the recognition result attached to a text region.
type RegionOCR struct {
	Text string  `json:"text"`
	Meta OCRMeta `json:"meta"`
}

// RegionTable holds the capture of a table region.
type RegionTable struct {
	ImageURL string      `json:"imageUrl,omitempty"`
	Raw      interface{} `json:"raw,omitempty"`
}

// Layout is the detector output and the persisted page structure.
type Layout struct {
	Engine string   `json:"engine"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Blocks []Region `json:"blocks"`
}

// Count returns the number of regions of the given kind.
func (l *Layout) Count(kind Kind) int {
	n := 0
	for _, b := range l.Blocks {
		if b.Kind == kind {
			n++
		}
	}
	return n
}
