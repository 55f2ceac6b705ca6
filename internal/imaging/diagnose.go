package imaging

import (
	"image"
	"math"
)

// Diagnosis holds cheap quality indicators for a scanned page.
type Diagnosis struct {
	Blur     float64 `json:"blur"`
	Contrast float64 `json:"contrast"`
	SkewDeg  float64 `json:"skew_deg"`
}

// Diagnose computes the variance of the Laplacian (low means blurry), the
// grayscale standard deviation and an estimate of the text skew in degrees.
func Diagnose(img image.Image) Diagnosis {
	g := ToGray(img)
	return Diagnosis{
		Blur:     laplacianVariance(g),
		Contrast: stdDev(g),
		SkewDeg:  skew(g),
	}
}

func laplacianVariance(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	at := func(x, y int) float64 {
		// reflect-101 border
		if x < 0 {
			x = -x
		}
		if y < 0 {
			y = -y
		}
		if x >= w {
			x = 2*w - x - 2
		}
		if y >= h {
			y = 2*h - y - 2
		}
		x = clampInt(x, 0, w-1)
		y = clampInt(y, 0, h-1)
		return float64(g.Pix[y*g.Stride+x])
	}
	var sum, sq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += l
			sq += l * l
		}
	}
	n := float64(w * h)
	mean := sum / n
	return sq/n - mean*mean
}

func stdDev(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var sum, sq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(g.Pix[y*g.Stride+x])
			sum += v
			sq += v * v
		}
	}
	n := float64(w * h)
	mean := sum / n
	return math.Sqrt(math.Max(0, sq/n-mean*mean))
}

// skew estimates the orientation of the ink mass from its second central
// moments, folded into [-45, 45].
func skew(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	t := otsu(g)
	var n, sx, sy float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if int(g.Pix[y*g.Stride+x]) <= t {
				n++
				sx += float64(x)
				sy += float64(y)
			}
		}
	}
	if n < 2 {
		return 0
	}
	cx, cy := sx/n, sy/n
	var mu20, mu02, mu11 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if int(g.Pix[y*g.Stride+x]) <= t {
				dx, dy := float64(x)-cx, float64(y)-cy
				mu20 += dx * dx
				mu02 += dy * dy
				mu11 += dx * dy
			}
		}
	}
	if mu11 == 0 && mu20 == mu02 {
		return 0
	}
	angle := 0.5 * math.Atan2(2*mu11, mu20-mu02) * 180 / math.Pi
	for angle > 45 {
		angle -= 90
	}
	for angle < -45 {
		angle += 90
	}
	return angle
}

// otsu returns the threshold maximising between-class variance.
func otsu(g *image.Gray) int {
	var hist [256]float64
	w, h := g.Rect.Dx(), g.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hist[g.Pix[y*g.Stride+x]]++
		}
	}
	total := float64(w * h)
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}
	var wB, sumB, best float64
	threshold := 0
	for i, c := range hist {
		wB += c
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i) * c
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = i
		}
	}
	return threshold
}
