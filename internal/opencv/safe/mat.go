package safe

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// ErrReleased is returned when a released Mat is used again.
var ErrReleased = errors.New("mat already released")

// MemoryTracker receives allocation accounting for every tracked Mat.
type MemoryTracker interface {
	TrackAllocation(id uint64, size int64, tag string)
	TrackDeallocation(id uint64, tag string)
}

// Mat owns one native gocv.Mat. Close releases the native memory exactly
// once; later calls are no-ops.
type Mat struct {
	mat        gocv.Mat
	isValid    int32
	id         uint64
	memTracker MemoryTracker
	tag        string
}

var nextMatID uint64

// Wrap takes ownership of m.
func Wrap(m gocv.Mat, memTracker MemoryTracker, tag string) *Mat {
	safeMat := &Mat{
		mat:        m,
		isValid:    1,
		id:         atomic.AddUint64(&nextMatID, 1),
		memTracker: memTracker,
		tag:        tag,
	}

	if memTracker != nil {
		memTracker.TrackAllocation(safeMat.id, matSize(m), tag)
	}

	// last resort if Close is never called
	runtime.SetFinalizer(safeMat, (*Mat).finalize)

	return safeMat
}

// NewEmpty allocates a Mat with no data; OpenCV sizes it on first write.
func NewEmpty(memTracker MemoryTracker, tag string) *Mat {
	return Wrap(gocv.NewMat(), memTracker, tag)
}

func NewMat(rows, cols int, matType gocv.MatType, memTracker MemoryTracker, tag string) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, tag); err != nil {
		return nil, err
	}

	mat := gocv.NewMatWithSize(rows, cols, matType)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to create Mat with size %dx%d", cols, rows)
	}

	return Wrap(mat, memTracker, tag), nil
}

// FromBytes copies data into a new Mat of the given shape. The returned
// Mat does not alias data.
func FromBytes(rows, cols int, matType gocv.MatType, data []byte, memTracker MemoryTracker, tag string) (*Mat, error) {
	if err := ValidateDimensions(cols, rows, tag); err != nil {
		return nil, err
	}

	view, err := gocv.NewMatFromBytes(rows, cols, matType, data)
	if err != nil {
		return nil, fmt.Errorf("wrap %d bytes as %dx%d: %w", len(data), cols, rows, err)
	}
	defer view.Close()

	if view.Empty() {
		return nil, fmt.Errorf("decoded Mat is empty for %dx%d", cols, rows)
	}
	// the header does not read data; Clone does
	if need := view.Total() * view.ElemSize(); need != len(data) {
		return nil, fmt.Errorf("wrap %d bytes as %dx%d: need %d", len(data), cols, rows, need)
	}

	return Wrap(view.Clone(), memTracker, tag), nil
}

func (sm *Mat) IsValid() bool {
	return atomic.LoadInt32(&sm.isValid) == 1
}

func (sm *Mat) Empty() bool {
	if !sm.IsValid() {
		return true
	}
	return sm.mat.Empty()
}

func (sm *Mat) Rows() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Rows()
}

func (sm *Mat) Cols() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Cols()
}

func (sm *Mat) Channels() int {
	if !sm.IsValid() {
		return 0
	}
	return sm.mat.Channels()
}

func (sm *Mat) Type() gocv.MatType {
	if !sm.IsValid() {
		return gocv.MatTypeCV8UC1
	}
	return sm.mat.Type()
}

// Native exposes the wrapped matrix for gocv calls. It fails once the Mat
// has been released so a stale handle never reaches the binding.
func (sm *Mat) Native() (*gocv.Mat, error) {
	if !sm.IsValid() {
		return nil, fmt.Errorf("%s #%d: %w", sm.tag, sm.id, ErrReleased)
	}
	return &sm.mat, nil
}

// Bytes copies the matrix data out of native memory.
func (sm *Mat) Bytes() ([]byte, error) {
	if !sm.IsValid() {
		return nil, fmt.Errorf("%s #%d: %w", sm.tag, sm.id, ErrReleased)
	}
	return sm.mat.ToBytes(), nil
}

func (sm *Mat) ID() uint64 {
	return sm.id
}

func (sm *Mat) Tag() string {
	return sm.tag
}

func (sm *Mat) Close() {
	if !atomic.CompareAndSwapInt32(&sm.isValid, 1, 0) {
		return
	}

	if sm.memTracker != nil {
		sm.memTracker.TrackDeallocation(sm.id, sm.tag)
	}

	sm.mat.Close()
	runtime.SetFinalizer(sm, nil)
}

func (sm *Mat) finalize() {
	if atomic.LoadInt32(&sm.isValid) == 1 {
		sm.Close()
	}
}

func matSize(m gocv.Mat) int64 {
	if m.Empty() {
		return 0
	}
	return int64(m.Total()) * int64(m.ElemSize())
}
