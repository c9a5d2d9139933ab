package storage

// Replacer is the page replacement policy consumed by the buffer pool.
// It tracks evictable frames only: a frame enters via Unpin once its pin
// count drops to zero and leaves via Pin or Victim. The policy knows
// nothing about pages, dirtiness, or disk.
type Replacer interface {
	// Victim selects a frame to evict and removes it from the replacer.
	// Returns the frame ID and true, or 0 and false if nothing is evictable.
	Victim() (uint32, bool)

	// Pin marks a frame as in-use (not evictable). Idempotent.
	Pin(frameID uint32)

	// Unpin marks a frame as available for eviction.
	Unpin(frameID uint32)

	// Size returns the number of evictable frames
	Size() uint32
}

// NewReplacer creates a replacer based on the specified algorithm
func NewReplacer(algorithm string, capacity uint32) Replacer {
	switch algorithm {
	case "2q":
		return NewTwoQReplacer(int(capacity))
	case "lru":
		return NewLRUReplacer(capacity)
	default:
		return NewLRUReplacer(capacity)
	}
}
