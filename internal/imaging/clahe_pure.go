//go:build !gocv

package imaging

import "image"

func equalize(src *image.Gray, clipLimit float64, tiles int) *image.Gray {
	return claheGray(src, clipLimit, tiles)
}
