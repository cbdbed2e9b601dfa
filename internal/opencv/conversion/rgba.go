package conversion

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	"vision-worker/internal/opencv/memory"
	"vision-worker/internal/opencv/safe"
)

// RGBAChannels is the interleaved channel count of every pixel buffer
// crossing the worker boundary.
const RGBAChannels = 4

var ErrBufferLength = errors.New("pixel buffer length mismatch")

// ExpectedLength is width*height*4.
func ExpectedLength(width, height int) int {
	return width * height * RGBAChannels
}

// ValidateBuffer checks the PixelBuffer invariant.
func ValidateBuffer(width, height int, pixels []byte) error {
	if err := safe.ValidateDimensions(width, height, "decode"); err != nil {
		return err
	}
	if want := ExpectedLength(width, height); len(pixels) != want {
		return fmt.Errorf("%w: got %d bytes, want %d for %dx%d", ErrBufferLength, len(pixels), want, width, height)
	}
	return nil
}

// DecodeRGBA copies an interleaved RGBA buffer into a CV_8UC4 matrix owned
// by scope.
func DecodeRGBA(scope *memory.Scope, width, height int, pixels []byte) (*safe.Mat, error) {
	if err := ValidateBuffer(width, height, pixels); err != nil {
		return nil, err
	}
	return scope.FromBytes(height, width, gocv.MatTypeCV8UC4, pixels, "src")
}

// EncodeRGBA copies a CV_8UC4 matrix back into a flat RGBA buffer.
func EncodeRGBA(mat *safe.Mat, width, height int) ([]byte, error) {
	if err := safe.ValidateChannels(mat, RGBAChannels, "encode"); err != nil {
		return nil, err
	}
	if mat.Cols() != width || mat.Rows() != height {
		return nil, fmt.Errorf("encode: result is %dx%d, request was %dx%d", mat.Cols(), mat.Rows(), width, height)
	}

	data, err := mat.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if want := ExpectedLength(width, height); len(data) != want {
		return nil, fmt.Errorf("encode: %w: got %d bytes, want %d", ErrBufferLength, len(data), want)
	}
	return data, nil
}

// ImageToPixels flattens any image into a non-premultiplied RGBA buffer,
// the layout a canvas ImageData carries.
func ImageToPixels(img image.Image) (width, height int, pixels []byte) {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	width, height = b.Dx(), b.Dy()

	if nrgba.Stride == width*RGBAChannels {
		return width, height, nrgba.Pix
	}

	pixels = make([]byte, 0, ExpectedLength(width, height))
	for y := 0; y < height; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+width*RGBAChannels]
		pixels = append(pixels, row...)
	}
	return width, height, pixels
}

// PixelsToImage wraps a validated RGBA buffer as an image without copying.
func PixelsToImage(width, height int, pixels []byte) (*image.NRGBA, error) {
	if err := ValidateBuffer(width, height, pixels); err != nil {
		return nil, err
	}
	return &image.NRGBA{
		Pix:    pixels,
		Stride: width * RGBAChannels,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}
