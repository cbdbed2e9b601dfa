package filters

import (
	"image"

	"gocv.io/x/gocv"

	"vision-worker/internal/opencv/safe"
)

// BlurKernelSize is the side of the Gaussian kernel. Sigma is derived from
// it by OpenCV.
const BlurKernelSize = 15

// applyBlur smooths all four channels directly, so no
// colour conversion is needed.
func applyBlur(src, dst *safe.Mat) error {
	s, d, err := natives2(src, dst)
	if err != nil {
		return err
	}

	gocv.GaussianBlur(*s, d, image.Point{X: BlurKernelSize, Y: BlurKernelSize}, 0, 0, gocv.BorderDefault)
	return nil
}
