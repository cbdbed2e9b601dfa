package worker

import (
	"vision-worker/internal/opencv/conversion"
	"vision-worker/internal/opencv/safe"
)

// encode copies dst out of native memory before the scope releases it.
func encode(dst *safe.Mat, width, height int) (FilterResponse, error) {
	pixels, err := conversion.EncodeRGBA(dst, width, height)
	if err != nil {
		return FilterResponse{}, err
	}
	return FilterResponse{
		Width:  width,
		Height: height,
		Pixels: pixels,
	}, nil
}
