// Package filters implements the closed set of pixel transforms the worker
// offers. Every transform reads a CV_8UC4 RGBA source and leaves a CV_8UC4
// RGBA result of the same size in dst.
package filters

import (
	"fmt"

	"gocv.io/x/gocv"

	"vision-worker/internal/opencv/memory"
	"vision-worker/internal/opencv/safe"
)

// Kind selects a transform. The zero value is Passthrough.
type Kind int

const (
	Passthrough Kind = iota
	Grayscale
	EdgeDetect
	Blur
	Sharpen
	Threshold
)

var wireNames = map[Kind]string{
	Grayscale:  "GRAY",
	EdgeDetect: "CANNY",
	Blur:       "BLUR",
	Sharpen:    "SHARPEN",
	Threshold:  "THRESHOLD",
}

// ParseKind maps a wire identifier to a Kind. Anything it does not
// recognise, the empty string included, is Passthrough.
func ParseKind(name string) Kind {
	for kind, wire := range wireNames {
		if name == wire {
			return kind
		}
	}
	return Passthrough
}

// String returns the wire identifier, or "NONE" for Passthrough.
func (k Kind) String() string {
	if wire, ok := wireNames[k]; ok {
		return wire
	}
	return "NONE"
}

// Kinds lists every transform, Passthrough first.
func Kinds() []Kind {
	return []Kind{Passthrough, Grayscale, EdgeDetect, Blur, Sharpen, Threshold}
}

// Apply runs kind over src into dst. temp is scratch space the transform
// may resize freely. Extra buffers (kernels, intermediates) come from
// scope so they are released with the request.
func Apply(scope *memory.Scope, src, dst, temp *safe.Mat, kind Kind) error {
	if err := safe.ValidateChannels(src, 4, "filter "+kind.String()); err != nil {
		return err
	}

	var err error
	switch kind {
	case Grayscale:
		err = applyGrayscale(src, dst, temp)
	case EdgeDetect:
		err = applyEdgeDetect(scope, src, dst, temp)
	case Blur:
		err = applyBlur(src, dst)
	case Sharpen:
		err = applySharpen(scope, src, dst)
	case Threshold:
		err = applyThreshold(scope, src, dst, temp)
	default:
		err = applyPassthrough(src, dst)
	}
	if err != nil {
		return fmt.Errorf("filter %s: %w", kind, err)
	}

	return validateOutput(src, dst, kind)
}

func applyPassthrough(src, dst *safe.Mat) error {
	s, d, err := natives2(src, dst)
	if err != nil {
		return err
	}
	s.CopyTo(d)
	return nil
}

func validateOutput(src, dst *safe.Mat, kind Kind) error {
	if err := safe.ValidateChannels(dst, 4, "filter "+kind.String()+" output"); err != nil {
		return err
	}
	if dst.Rows() != src.Rows() || dst.Cols() != src.Cols() {
		return fmt.Errorf("filter %s produced %dx%d from %dx%d", kind, dst.Cols(), dst.Rows(), src.Cols(), src.Rows())
	}
	return nil
}

// toGray converts an RGBA matrix to single-channel luminance.
func toGray(src, gray *safe.Mat) error {
	s, g, err := natives2(src, gray)
	if err != nil {
		return err
	}
	gocv.CvtColor(*s, g, gocv.ColorRGBAToGray)
	return nil
}

// toRGBA replicates a single channel into R, G and B with opaque alpha.
func toRGBA(gray, dst *safe.Mat) error {
	g, d, err := natives2(gray, dst)
	if err != nil {
		return err
	}
	gocv.CvtColor(*g, d, gocv.ColorGrayToRGBA)
	return nil
}

func natives2(a, b *safe.Mat) (*gocv.Mat, *gocv.Mat, error) {
	na, err := a.Native()
	if err != nil {
		return nil, nil, err
	}
	nb, err := b.Native()
	if err != nil {
		return nil, nil, err
	}
	return na, nb, nil
}
