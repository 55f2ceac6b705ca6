package imaging

import (
	"image"
	"math"
)

// CLAHE parameters used by Preprocess.
const (
	CLAHEClipLimit = 2.0
	CLAHETiles     = 8
)

// CLAHE applies contrast limited adaptive histogram equalisation over a
// tiles×tiles grid. The input is not modified.
func CLAHE(src *image.Gray, clipLimit float64, tiles int) *image.Gray {
	if tiles < 1 {
		tiles = 1
	}
	return equalize(src, clipLimit, tiles)
}

// claheGray is the pure Go equaliser. It follows OpenCV: tiles are sized to
// cover the page with a reflect-101 border, each tile histogram is clipped and
// the excess spread evenly, and pixels blend the four nearest tile mappings.
func claheGray(src *image.Gray, clipLimit float64, tiles int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	tw := (w + tiles - 1) / tiles
	th := (h + tiles - 1) / tiles
	area := tw * th

	limit := 0
	if clipLimit > 0 {
		limit = max(int(clipLimit*float64(area)/256), 1)
	}
	scale := 255.0 / float64(area)

	luts := make([][256]uint8, tiles*tiles)
	for ty := 0; ty < tiles; ty++ {
		for tx := 0; tx < tiles; tx++ {
			var hist [256]int
			for y := ty * th; y < (ty+1)*th; y++ {
				sy := reflect101(y, h)
				row := src.Pix[sy*src.Stride:]
				for x := tx * tw; x < (tx+1)*tw; x++ {
					hist[row[reflect101(x, w)]]++
				}
			}
			if limit > 0 {
				clipHistogram(&hist, limit)
			}
			lut := &luts[ty*tiles+tx]
			sum := 0
			for i := range hist {
				sum += hist[i]
				lut[i] = clampByte(float64(sum) * scale)
			}
		}
	}

	for y := 0; y < h; y++ {
		ty1, ty2, ya := neighbours(y, th, tiles)
		for x := 0; x < w; x++ {
			tx1, tx2, xa := neighbours(x, tw, tiles)
			v := src.Pix[y*src.Stride+x]
			top := float64(luts[ty1*tiles+tx1][v])*(1-xa) + float64(luts[ty1*tiles+tx2][v])*xa
			bottom := float64(luts[ty2*tiles+tx1][v])*(1-xa) + float64(luts[ty2*tiles+tx2][v])*xa
			dst.Pix[y*dst.Stride+x] = clampByte(top*(1-ya) + bottom*ya)
		}
	}
	return dst
}

// clipHistogram caps every bin at limit and spreads the excess over all bins,
// the remainder one count at a time at a regular stride.
func clipHistogram(hist *[256]int, limit int) {
	clipped := 0
	for i := range hist {
		if hist[i] > limit {
			clipped += hist[i] - limit
			hist[i] = limit
		}
	}
	batch := clipped / 256
	residual := clipped - batch*256
	for i := range hist {
		hist[i] += batch
	}
	if residual > 0 {
		step := max(256/residual, 1)
		for i := 0; i < 256 && residual > 0; i += step {
			hist[i]++
			residual--
		}
	}
}

// neighbours returns the two tiles whose centres bracket pos and the weight
// of the second.
func neighbours(pos, size, tiles int) (int, int, float64) {
	f := float64(pos)/float64(size) - 0.5
	t1 := int(math.Floor(f))
	t2 := t1 + 1
	a := f - float64(t1)
	t1 = max(t1, 0)
	t2 = min(t2, tiles-1)
	return t1, t2, a
}

// reflect101 maps i into [0,n) mirroring around the edge pixels (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}
