package imaging

import (
	"image"
)

// Binary masks are *image.Gray with 255 for set pixels and 0 otherwise.
// The operations follow OpenCV semantics: replicated borders for the adaptive
// mean, and borders that never constrain erosion or dilation.

const on = 255

// AdaptiveThresholdMean thresholds each pixel against the mean of its
// blockSize×blockSize neighbourhood minus c. With inverse set, pixels darker
// than that (ink) become 255; otherwise brighter pixels do.
func AdaptiveThresholdMean(src *image.Gray, blockSize, c int, inverse bool) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}
	if blockSize < 3 {
		blockSize = 3
	}
	if blockSize%2 == 0 {
		blockSize++
	}
	r := blockSize / 2

	// integral image over the replicate-padded source
	pw, ph := w+2*r, h+2*r
	integral := make([]int64, (pw+1)*(ph+1))
	for py := 0; py < ph; py++ {
		sy := clampInt(py-r, 0, h-1)
		var rowSum int64
		for px := 0; px < pw; px++ {
			sx := clampInt(px-r, 0, w-1)
			rowSum += int64(src.Pix[sy*src.Stride+sx])
			integral[(py+1)*(pw+1)+px+1] = integral[py*(pw+1)+px+1] + rowSum
		}
	}

	area := int64(blockSize * blockSize)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// window in padded coordinates is [x, x+blockSize) × [y, y+blockSize)
			x0, y0, x1, y1 := x, y, x+blockSize, y+blockSize
			sum := integral[y1*(pw+1)+x1] - integral[y0*(pw+1)+x1] - integral[y1*(pw+1)+x0] + integral[y0*(pw+1)+x0]
			mean := int((sum + area/2) / area)
			v := int(src.Pix[y*src.Stride+x])
			set := v-mean > -c
			if inverse {
				set = !set
			}
			if set {
				dst.Pix[y*dst.Stride+x] = on
			}
		}
	}
	return dst
}

// Erode applies a kw×kh rectangular erosion with a centred anchor.
func Erode(m *image.Gray, kw, kh int) *image.Gray {
	return rectFilter(m, kw, kh, true)
}

// Dilate applies a kw×kh rectangular dilation with a centred anchor.
func Dilate(m *image.Gray, kw, kh int) *image.Gray {
	return rectFilter(m, kw, kh, false)
}

// Open is erosion followed by dilation with the same kernel.
func Open(m *image.Gray, kw, kh int) *image.Gray {
	return Dilate(Erode(m, kw, kh), kw, kh)
}

// Union sets every pixel set in either mask (saturating add of two masks).
func Union(a, b *image.Gray) *image.Gray {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if a.Pix[y*a.Stride+x] != 0 || b.Pix[y*b.Stride+x] != 0 {
				dst.Pix[y*dst.Stride+x] = on
			}
		}
	}
	return dst
}

// rectFilter is separable: a horizontal pass then a vertical pass, each
// using prefix counts of set pixels over the window clipped to the image.
func rectFilter(m *image.Gray, kw, kh int, erode bool) *image.Gray {
	w, h := m.Rect.Dx(), m.Rect.Dy()
	tmp := image.NewGray(image.Rect(0, 0, w, h))
	dst := image.NewGray(image.Rect(0, 0, w, h))
	kw, kh = max(1, kw), max(1, kh)

	counts := make([]int, max(w, h)+1)

	ax := kw / 2
	for y := 0; y < h; y++ {
		row := m.Pix[y*m.Stride : y*m.Stride+w]
		for x := 0; x < w; x++ {
			counts[x+1] = counts[x]
			if row[x] != 0 {
				counts[x+1]++
			}
		}
		for x := 0; x < w; x++ {
			lo, hi := max(0, x-ax), min(w, x-ax+kw)
			if windowHit(counts[hi]-counts[lo], hi-lo, erode) {
				tmp.Pix[y*tmp.Stride+x] = on
			}
		}
	}

	ay := kh / 2
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			counts[y+1] = counts[y]
			if tmp.Pix[y*tmp.Stride+x] != 0 {
				counts[y+1]++
			}
		}
		for y := 0; y < h; y++ {
			lo, hi := max(0, y-ay), min(h, y-ay+kh)
			if windowHit(counts[hi]-counts[lo], hi-lo, erode) {
				dst.Pix[y*dst.Stride+x] = on
			}
		}
	}
	return dst
}

func windowHit(set, size int, erode bool) bool {
	if erode {
		return size > 0 && set == size
	}
	return set > 0
}

// ExternalBounds returns the bounding rectangles of the outermost connected
// components (8-connectivity) of a mask, in raster order of their first pixel.
// Components lying inside a hole of another component are not returned.
func ExternalBounds(m *image.Gray) []image.Rectangle {
	w, h := m.Rect.Dx(), m.Rect.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	set := func(x, y int) bool { return m.Pix[y*m.Stride+x] != 0 }

	// background reachable from outside the image (4-connectivity)
	outside := make([]bool, w*h)
	queue := make([]int, 0, w*2+h*2)
	push := func(x, y int) {
		i := y*w + x
		if !outside[i] && !set(x, y) {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}

	labelled := make([]bool, w*h)
	var rects []image.Rectangle
	for sy := 0; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			si := sy*w + sx
			if labelled[si] || !set(sx, sy) {
				continue
			}
			labelled[si] = true
			minX, minY, maxX, maxY := sx, sy, sx, sy
			external := false
			stack := []int{si}
			for len(stack) > 0 {
				i := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				x, y := i%w, i/w
				minX, maxX = min(minX, x), max(maxX, x)
				minY, maxY = min(minY, y), max(maxY, y)
				if x == 0 || y == 0 || x == w-1 || y == h-1 {
					external = true
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						nx, ny := x+dx, y+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						ni := ny*w + nx
						if set(nx, ny) {
							if !labelled[ni] {
								labelled[ni] = true
								stack = append(stack, ni)
							}
						} else if (dx == 0 || dy == 0) && outside[ni] {
							external = true
						}
					}
				}
			}
			if external {
				rects = append(rects, image.Rect(minX, minY, maxX+1, maxY+1))
			}
		}
	}
	return rects
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
