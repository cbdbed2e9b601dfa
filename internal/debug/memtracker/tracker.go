package memtracker

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"vision-worker/internal/debug/eventbus"
)

type AllocationInfo struct {
	ID          uint64
	Size        int64
	Tag         string
	AllocatedAt time.Time
	StackTrace  []uintptr
}

type MemoryStats struct {
	TotalAllocated   int64
	TotalDeallocated int64
	CurrentlyActive  int64
	AllocationCount  int64
	ReleaseCount     int64
	UntrackedCount   int64
}

type EventPublisher interface {
	Publish(event eventbus.Event)
}

// Tracker accounts native matrix allocations by matrix id. It is shared by
// every request of a worker; a request that returns with live allocations
// shows up as a non-zero CurrentlyActive.
type Tracker struct {
	allocations  map[uint64]AllocationInfo
	mu           sync.RWMutex
	eventBus     EventPublisher
	enabled      atomic.Bool
	stackTraces  atomic.Bool
	totalAlloc   int64
	totalDealloc int64
	allocCount   int64
	releaseCount int64
	untracked    int64
}

func NewTracker(eventBus EventPublisher, enableStackTraces bool) *Tracker {
	mt := &Tracker{
		allocations: make(map[uint64]AllocationInfo),
		eventBus:    eventBus,
	}
	mt.enabled.Store(true)
	mt.stackTraces.Store(enableStackTraces)
	return mt
}

func (mt *Tracker) TrackAllocation(id uint64, size int64, tag string) {
	if !mt.enabled.Load() {
		return
	}

	atomic.AddInt64(&mt.totalAlloc, size)
	atomic.AddInt64(&mt.allocCount, 1)

	info := AllocationInfo{
		ID:          id,
		Size:        size,
		Tag:         tag,
		AllocatedAt: time.Now(),
	}

	if mt.stackTraces.Load() {
		var pcs [32]uintptr
		n := runtime.Callers(3, pcs[:])
		info.StackTrace = pcs[:n]
	}

	mt.mu.Lock()
	mt.allocations[id] = info
	mt.mu.Unlock()

	if mt.eventBus != nil {
		mt.eventBus.Publish(eventbus.Event{
			Type: eventbus.TypeMatAllocated,
			Data: map[string]interface{}{
				"mat_id": id,
				"size":   size,
				"tag":    tag,
			},
		})
	}
}

func (mt *Tracker) TrackDeallocation(id uint64, tag string) {
	if !mt.enabled.Load() {
		return
	}

	mt.mu.Lock()
	info, exists := mt.allocations[id]
	if exists {
		delete(mt.allocations, id)
		atomic.AddInt64(&mt.totalDealloc, info.Size)
		atomic.AddInt64(&mt.releaseCount, 1)
	} else {
		atomic.AddInt64(&mt.untracked, 1)
	}
	mt.mu.Unlock()

	if mt.eventBus == nil {
		return
	}

	eventData := map[string]interface{}{
		"mat_id": id,
		"tag":    tag,
	}
	if exists {
		eventData["size"] = info.Size
		eventData["lifetime"] = time.Since(info.AllocatedAt).String()
		mt.eventBus.Publish(eventbus.Event{Type: eventbus.TypeMatReleased, Data: eventData})
		return
	}
	mt.eventBus.Publish(eventbus.Event{Type: eventbus.TypeMatUntracked, Data: eventData})
}

func (mt *Tracker) GetAllocations() []AllocationInfo {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	result := make([]AllocationInfo, 0, len(mt.allocations))
	for _, v := range mt.allocations {
		result = append(result, v)
	}
	return result
}

func (mt *Tracker) GetStats() MemoryStats {
	mt.mu.RLock()
	currentlyActive := int64(len(mt.allocations))
	mt.mu.RUnlock()

	return MemoryStats{
		TotalAllocated:   atomic.LoadInt64(&mt.totalAlloc),
		TotalDeallocated: atomic.LoadInt64(&mt.totalDealloc),
		CurrentlyActive:  currentlyActive,
		AllocationCount:  atomic.LoadInt64(&mt.allocCount),
		ReleaseCount:     atomic.LoadInt64(&mt.releaseCount),
		UntrackedCount:   atomic.LoadInt64(&mt.untracked),
	}
}

func (mt *Tracker) SetEnabled(enabled bool) {
	mt.enabled.Store(enabled)
}

func (mt *Tracker) SetStackTracingEnabled(enabled bool) {
	mt.stackTraces.Store(enabled)
}

func (mt *Tracker) DetectLeaks(olderThan time.Duration) []AllocationInfo {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	threshold := time.Now().Add(-olderThan)
	var leaks []AllocationInfo

	for _, info := range mt.allocations {
		if info.AllocatedAt.Before(threshold) {
			leaks = append(leaks, info)
		}
	}

	return leaks
}

func (mt *Tracker) GetAllocationsByTag(tag string) []AllocationInfo {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	var result []AllocationInfo
	for _, info := range mt.allocations {
		if info.Tag == tag {
			result = append(result, info)
		}
	}

	return result
}
