package filters

import (
	"image"

	"gocv.io/x/gocv"

	"vision-worker/internal/opencv/memory"
	"vision-worker/internal/opencv/safe"
)

// SharpenKernel is identity plus an unsharp mask, row-major.
var SharpenKernel = [9]float32{
	-1, -1, -1,
	-1, 9, -1,
	-1, -1, -1,
}

func applySharpen(scope *memory.Scope, src, dst *safe.Mat) error {
	kernel, err := scope.New(3, 3, gocv.MatTypeCV32FC1, "sharpen_kernel")
	if err != nil {
		return err
	}

	k, err := kernel.Native()
	if err != nil {
		return err
	}
	for i, v := range SharpenKernel {
		k.SetFloatAt(i/3, i%3, v)
	}

	s, d, err := natives2(src, dst)
	if err != nil {
		return err
	}

	// anchor (-1,-1) is the kernel centre
	gocv.Filter2D(*s, d, gocv.MatTypeCV8U, *k, image.Point{X: -1, Y: -1}, 0, gocv.BorderDefault)
	return nil
}
