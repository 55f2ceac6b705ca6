package imaging

import (
	"fmt"
	"image"
	"math"
)

// Mode selects the preprocessing applied before whole-page recognition.
type Mode string

const (
	// ModeDoc is the CLAHE-equalised grayscale page.
	ModeDoc Mode = "doc"
	// ModeTable binarises the equalised page with an adaptive mean threshold.
	ModeTable Mode = "table"
)

// ParseMode maps an empty value to ModeDoc.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDoc:
		return ModeDoc, nil
	case ModeTable:
		return ModeTable, nil
	default:
		return "", fmt.Errorf("unknown preprocess mode %q", s)
	}
}

// Preprocess returns a new grayscale image; the input is not modified. Both
// modes equalise the page with CLAHE first.
func Preprocess(img image.Image, mode Mode) *image.Gray {
	gray := CLAHE(ToGray(img), CLAHEClipLimit, CLAHETiles)
	switch mode {
	case ModeTable:
		return AdaptiveThresholdMean(gray, 35, 10, false)
	default:
		return gray
	}
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
