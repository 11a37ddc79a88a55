package scanning

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ResourceManager bounds the number of pipelines running at once.
type ResourceManager interface {
	// Acquire blocks until a slot is free for id or ctx is done.
	Acquire(ctx context.Context, id string) error

	// Release frees the slot held by id.
	Release(id string)

	// Active returns the number of held slots.
	Active() int

	// Available returns the number of free slots.
	Available() int

	// Close releases every slot and rejects further acquisitions.
	Close() error
}

// ResourceStats is a point-in-time view of a FixedResourceManager.
type ResourceStats struct {
	Capacity  int
	Active    int
	Available int
	Peak      int
	Oldest    time.Duration
	Closed    bool
}

// FixedResourceManager implements ResourceManager with a fixed number of
// slots backed by a buffered channel.
type FixedResourceManager struct {
	capacity  int
	semaphore chan struct{}
	active    map[string]time.Time
	peak      int
	mutex     sync.RWMutex
	closed    bool
}

// NewFixedResourceManager creates a resource manager with the given capacity.
func NewFixedResourceManager(capacity int) *FixedResourceManager {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedResourceManager{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		active:    make(map[string]time.Time),
	}
}

// Acquire attempts to acquire a slot for id. Ids must be unique among held
// slots.
func (rm *FixedResourceManager) Acquire(ctx context.Context, id string) error {
	rm.mutex.RLock()
	closed := rm.closed
	rm.mutex.RUnlock()
	if closed {
		return fmt.Errorf("resource manager is closed")
	}

	select {
	case rm.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if _, exists := rm.active[id]; exists {
		<-rm.semaphore
		return fmt.Errorf("slot %q already held", id)
	}
	rm.active[id] = time.Now()
	if n := len(rm.active); n > rm.peak {
		rm.peak = n
	}
	return nil
}

// Release releases the slot held by id. Unknown ids are ignored.
func (rm *FixedResourceManager) Release(id string) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if _, exists := rm.active[id]; !exists {
		return
	}
	delete(rm.active, id)

	select {
	case <-rm.semaphore:
	default:
	}
}

// Active returns the number of held slots.
func (rm *FixedResourceManager) Active() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return len(rm.active)
}

// Available returns the number of free slots.
func (rm *FixedResourceManager) Available() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return rm.capacity - len(rm.active)
}

// Peak returns the highest number of slots held at once.
func (rm *FixedResourceManager) Peak() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return rm.peak
}

// Close releases all slots.
func (rm *FixedResourceManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.closed {
		return nil
	}
	rm.closed = true
	rm.active = make(map[string]time.Time)

	for {
		select {
		case <-rm.semaphore:
		default:
			return nil
		}
	}
}

// Stats returns statistics about the resource manager.
func (rm *FixedResourceManager) Stats() ResourceStats {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	var oldest time.Duration
	now := time.Now()
	for _, started := range rm.active {
		if d := now.Sub(started); d > oldest {
			oldest = d
		}
	}

	return ResourceStats{
		Capacity:  rm.capacity,
		Active:    len(rm.active),
		Available: rm.capacity - len(rm.active),
		Peak:      rm.peak,
		Oldest:    oldest,
		Closed:    rm.closed,
	}
}
