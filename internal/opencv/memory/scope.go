package memory

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"vision-worker/internal/opencv/safe"
)

// Scope owns every native matrix acquired while servicing one request.
// Callers defer Release right after NewScope; Release closes all matrices
// in reverse acquisition order, exactly once, whatever path the request
// took.
type Scope struct {
	mats     []*safe.Mat
	tracker  safe.MemoryTracker
	released bool
	mu       sync.Mutex
}

func NewScope(tracker safe.MemoryTracker) *Scope {
	return &Scope{
		mats:    make([]*safe.Mat, 0, 4),
		tracker: tracker,
	}
}

func (s *Scope) adopt(mat *safe.Mat) (*safe.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		mat.Close()
		return nil, fmt.Errorf("scope already released, cannot hold %s", mat.Tag())
	}

	s.mats = append(s.mats, mat)
	return mat, nil
}

// Empty acquires a matrix that OpenCV sizes on first write.
func (s *Scope) Empty(tag string) (*safe.Mat, error) {
	return s.adopt(safe.NewEmpty(s.tracker, tag))
}

func (s *Scope) New(rows, cols int, matType gocv.MatType, tag string) (*safe.Mat, error) {
	mat, err := safe.NewMat(rows, cols, matType, s.tracker, tag)
	if err != nil {
		return nil, err
	}
	return s.adopt(mat)
}

func (s *Scope) FromBytes(rows, cols int, matType gocv.MatType, data []byte, tag string) (*safe.Mat, error) {
	mat, err := safe.FromBytes(rows, cols, matType, data, s.tracker, tag)
	if err != nil {
		return nil, err
	}
	return s.adopt(mat)
}

// Held reports how many matrices the scope currently owns.
func (s *Scope) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mats)
}

// Release closes every held matrix. It is safe to call more than once.
func (s *Scope) Release() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return 0
	}
	s.released = true

	count := len(s.mats)
	for i := len(s.mats) - 1; i >= 0; i-- {
		s.mats[i].Close()
	}
	s.mats = nil
	return count
}
