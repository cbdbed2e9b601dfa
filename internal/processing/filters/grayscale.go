package filters

import (
	"vision-worker/internal/opencv/safe"
)

// applyGrayscale converts to luminance and back so every pixel ends with
// R == G == B and alpha 255.
func applyGrayscale(src, dst, temp *safe.Mat) error {
	if err := toGray(src, temp); err != nil {
		return err
	}
	return toRGBA(temp, dst)
}
