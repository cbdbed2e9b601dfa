package safe

import (
	"errors"
	"fmt"
)

// MaxDimension bounds either side of an image accepted by the worker.
const MaxDimension = 32768

var ErrInvalidDimensions = errors.New("invalid dimensions")

func ValidateMatForOperation(mat *Mat, operation string) error {
	if mat == nil {
		return fmt.Errorf("Mat is nil for operation: %s", operation)
	}

	if !mat.IsValid() {
		return fmt.Errorf("Mat is invalid for operation: %s", operation)
	}

	if mat.Empty() {
		return fmt.Errorf("Mat is empty for operation: %s", operation)
	}

	return nil
}

func ValidateDimensions(width, height int, operation string) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w %dx%d for operation: %s", ErrInvalidDimensions, width, height, operation)
	}

	if width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("%w: %dx%d exceeds maximum size for operation: %s", ErrInvalidDimensions, width, height, operation)
	}

	return nil
}

// ValidateChannels checks that mat carries exactly want channels.
func ValidateChannels(mat *Mat, want int, operation string) error {
	if err := ValidateMatForOperation(mat, operation); err != nil {
		return err
	}

	if got := mat.Channels(); got != want {
		return fmt.Errorf("%s requires %d channels, got %d", operation, want, got)
	}

	return nil
}
