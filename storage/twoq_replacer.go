package storage

import (
	"container/list"
	"sync"
)

// TwoQReplacer implements the 2Q replacement algorithm over the same
// evictable-set contract as LRUReplacer: Unpin makes a frame evictable,
// Pin withdraws it, Victim removes and returns one. 2Q resists scan
// pollution better than plain LRU by keeping first-time frames in a
// probationary FIFO and promoting only frames unpinned again after an A1
// eviction to the protected queue:
//   - A1:    probationary FIFO of frames unpinned once
//   - A2:    protected LRU of frames seen again after leaving A1
//   - A1out: ghost list of frame IDs recently victimized from A1; an
//     unpin that hits the ghost list goes straight to A2
type TwoQReplacer struct {
	mu sync.Mutex

	a1    *list.List
	a1Map map[uint32]*list.Element

	a2    *list.List
	a2Map map[uint32]*list.Element

	a1out        *list.List
	a1outMap     map[uint32]*list.Element
	a1outMaxSize int

	capacity int
}

// NewTwoQReplacer creates a new 2Q replacer with the given capacity.
// The ghost list holds up to half the capacity (ratio from the 2Q paper).
func NewTwoQReplacer(capacity int) *TwoQReplacer {
	if capacity < 1 {
		capacity = 1
	}

	a1outSize := capacity / 2
	if a1outSize < 1 {
		a1outSize = 1
	}

	return &TwoQReplacer{
		a1:           list.New(),
		a1Map:        make(map[uint32]*list.Element),
		a2:           list.New(),
		a2Map:        make(map[uint32]*list.Element),
		a1out:        list.New(),
		a1outMap:     make(map[uint32]*list.Element),
		a1outMaxSize: a1outSize,
		capacity:     capacity,
	}
}

// Victim evicts from the probationary queue first (FIFO), falling back to
// the protected queue (LRU). A1 victims leave a ghost entry so that a
// quick re-unpin promotes the frame to A2.
func (r *TwoQReplacer) Victim() (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.a1.Len() > 0 {
		elem := r.a1.Front()
		frameID := elem.Value.(uint32)

		r.a1.Remove(elem)
		delete(r.a1Map, frameID)
		r.addToA1out(frameID)

		return frameID, true
	}

	if r.a2.Len() > 0 {
		elem := r.a2.Front()
		frameID := elem.Value.(uint32)

		r.a2.Remove(elem)
		delete(r.a2Map, frameID)

		return frameID, true
	}

	return 0, false
}

// Pin withdraws a frame from both queues. The ghost entry, if any, is kept
// so that history survives the pin. Idempotent.
func (r *TwoQReplacer) Pin(frameID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, exists := r.a1Map[frameID]; exists {
		r.a1.Remove(elem)
		delete(r.a1Map, frameID)
	}

	if elem, exists := r.a2Map[frameID]; exists {
		r.a2.Remove(elem)
		delete(r.a2Map, frameID)
	}
}

// Unpin makes a frame evictable. A frame already tracked keeps its
// position. Frames with a ghost entry are placed in the protected queue;
// every other frame, including one withdrawn from A1 or A2 by Pin, enters
// the probationary queue.
func (r *TwoQReplacer) Unpin(frameID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.a1Map[frameID]; exists {
		return
	}
	if _, exists := r.a2Map[frameID]; exists {
		return
	}

	// Ghost hit: the frame cycled through A1 recently, promote
	if elem, exists := r.a1outMap[frameID]; exists {
		r.a1out.Remove(elem)
		delete(r.a1outMap, frameID)

		e := r.a2.PushBack(frameID)
		r.a2Map[frameID] = e
		return
	}

	e := r.a1.PushBack(frameID)
	r.a1Map[frameID] = e
}

// Size returns the number of evictable frames
func (r *TwoQReplacer) Size() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return uint32(len(r.a1Map) + len(r.a2Map))
}

// addToA1out records a ghost entry, dropping the oldest at capacity.
// Caller holds r.mu.
func (r *TwoQReplacer) addToA1out(frameID uint32) {
	if r.a1out.Len() >= r.a1outMaxSize {
		elem := r.a1out.Front()
		ghostID := elem.Value.(uint32)

		r.a1out.Remove(elem)
		delete(r.a1outMap, ghostID)
	}

	elem := r.a1out.PushBack(frameID)
	r.a1outMap[frameID] = elem
}

// GetStats returns statistics about the 2Q queues
func (r *TwoQReplacer) GetStats() TwoQStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return TwoQStats{
		A1Size:    r.a1.Len(),
		A2Size:    r.a2.Len(),
		A1outSize: r.a1out.Len(),
		Capacity:  r.capacity,
	}
}

// TwoQStats contains statistics about the 2Q replacer state
type TwoQStats struct {
	A1Size    int // Evictable frames in the probationary queue
	A2Size    int // Evictable frames in the protected queue
	A1outSize int // Ghost entries
	Capacity  int // Total capacity
}
