//go:build gocv

package imaging

import (
	"image"

	"gocv.io/x/gocv"
)

// equalize runs OpenCV's CLAHE and falls back to the Go equaliser when the
// page cannot cross into a Mat.
func equalize(src *image.Gray, clipLimit float64, tiles int) *image.Gray {
	mat, err := gocv.ImageGrayToMatGray(src)
	if err != nil {
		return claheGray(src, clipLimit, tiles)
	}
	defer mat.Close()

	clahe := gocv.NewCLAHEWithParams(clipLimit, image.Pt(tiles, tiles))
	defer clahe.Close()

	out := gocv.NewMat()
	defer out.Close()
	clahe.Apply(mat, &out)

	img, err := out.ToImage()
	if err != nil {
		return claheGray(src, clipLimit, tiles)
	}
	return ToGray(img)
}
