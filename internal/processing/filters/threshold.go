package filters

import (
	"gocv.io/x/gocv"

	"vision-worker/internal/opencv/memory"
	"vision-worker/internal/opencv/safe"
)

// ThresholdCutoff is the first luminance value mapped to white.
const ThresholdCutoff = 128

// ThresholdBinary keeps values strictly above the threshold, so the
// cutoff is passed as ThresholdCutoff-1 to make 128 itself white.
func applyThreshold(scope *memory.Scope, src, dst, temp *safe.Mat) error {
	if err := toGray(src, temp); err != nil {
		return err
	}

	binary, err := scope.Empty("threshold_binary")
	if err != nil {
		return err
	}

	g, b, err := natives2(temp, binary)
	if err != nil {
		return err
	}
	gocv.Threshold(*g, b, ThresholdCutoff-1, 255, gocv.ThresholdBinary)

	return toRGBA(binary, dst)
}
