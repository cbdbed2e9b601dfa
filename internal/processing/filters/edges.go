package filters

import (
	"gocv.io/x/gocv"

	"vision-worker/internal/opencv/memory"
	"vision-worker/internal/opencv/safe"
)

// Canny hysteresis thresholds. gocv.Canny runs with a 3x3 Sobel aperture
// and the L1 gradient norm.
const (
	CannyLow  = 50
	CannyHigh = 100
)

func applyEdgeDetect(scope *memory.Scope, src, dst, temp *safe.Mat) error {
	if err := toGray(src, temp); err != nil {
		return err
	}

	edges, err := scope.Empty("canny_edges")
	if err != nil {
		return err
	}

	g, e, err := natives2(temp, edges)
	if err != nil {
		return err
	}
	gocv.Canny(*g, e, CannyLow, CannyHigh)

	return toRGBA(edges, dst)
}
