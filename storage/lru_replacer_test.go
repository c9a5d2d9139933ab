package storage

import (
	"testing"
)

// TestLRUReplacer tests basic LRU replacer construction
func TestLRUReplacer(t *testing.T) {
	replacer := NewLRUReplacer(5)

	if replacer == nil {
		t.Fatal("LRU replacer should not be nil")
	}

	if replacer.Size() != 0 {
		t.Errorf("Expected initial size 0, got %d", replacer.Size())
	}
}

// TestLRUVictim tests victim selection order
func TestLRUVictim(t *testing.T) {
	replacer := NewLRUReplacer(5)

	// Add frames in order: 0, 1, 2
	replacer.Unpin(0)
	replacer.Unpin(1)
	replacer.Unpin(2)

	// Oldest should be 0
	victim, ok := replacer.Victim()
	if !ok {
		t.Fatal("Should have a victim")
	}
	if victim != 0 {
		t.Errorf("Expected victim 0, got %d", victim)
	}

	// After evicting 0, next should be 1
	victim, ok = replacer.Victim()
	if !ok {
		t.Fatal("Should have a victim")
	}
	if victim != 1 {
		t.Errorf("Expected victim 1, got %d", victim)
	}
}

// TestLRUPin tests that pinned frames leave the replacer
func TestLRUPin(t *testing.T) {
	replacer := NewLRUReplacer(5)

	replacer.Unpin(0)
	replacer.Unpin(1)
	replacer.Unpin(2)

	if replacer.Size() != 3 {
		t.Errorf("Expected size 3, got %d", replacer.Size())
	}

	replacer.Pin(1)

	if replacer.Size() != 2 {
		t.Errorf("Expected size 2 after pin, got %d", replacer.Size())
	}

	victim, ok := replacer.Victim()
	if !ok {
		t.Fatal("Should have a victim")
	}
	if victim != 0 {
		t.Errorf("Expected victim 0, got %d", victim)
	}

	// Next victim should be 2 (frame 1 was pinned out)
	victim, ok = replacer.Victim()
	if !ok {
		t.Fatal("Should have a victim")
	}
	if victim != 2 {
		t.Errorf("Expected victim 2, got %d", victim)
	}
}

// TestLRUPinAbsent tests that pinning an untracked frame is a no-op
func TestLRUPinAbsent(t *testing.T) {
	replacer := NewLRUReplacer(5)

	replacer.Unpin(0)
	replacer.Pin(7)

	if replacer.Size() != 1 {
		t.Errorf("Expected size 1, got %d", replacer.Size())
	}
}

// TestLRUDuplicateUnpinNoRefresh tests that a redundant unpin does not
// refresh recency: an unpin of an already evictable frame is a redundant
// signal and must not bias victim choice
func TestLRUDuplicateUnpinNoRefresh(t *testing.T) {
	replacer := NewLRUReplacer(5)

	// Add frames in order: 0, 1, 2
	replacer.Unpin(0)
	replacer.Unpin(1)
	replacer.Unpin(2)

	// Redundant unpin of frame 0 keeps its position at the front
	replacer.Unpin(0)

	if replacer.Size() != 3 {
		t.Errorf("Expected size 3, got %d", replacer.Size())
	}

	victim, ok := replacer.Victim()
	if !ok {
		t.Fatal("Should have a victim")
	}
	if victim != 0 {
		t.Errorf("Expected victim 0 (duplicate unpin must not refresh), got %d", victim)
	}
}

// TestLRUPinUnpinRefreshes tests that a real pin/unpin cycle does move a
// frame to the back
func TestLRUPinUnpinRefreshes(t *testing.T) {
	replacer := NewLRUReplacer(5)

	replacer.Unpin(0)
	replacer.Unpin(1)

	// A fresh intervening pin makes the next unpin meaningful
	replacer.Pin(0)
	replacer.Unpin(0)

	victim, ok := replacer.Victim()
	if !ok {
		t.Fatal("Should have a victim")
	}
	if victim != 1 {
		t.Errorf("Expected victim 1, got %d", victim)
	}

	victim, ok = replacer.Victim()
	if !ok {
		t.Fatal("Should have a victim")
	}
	if victim != 0 {
		t.Errorf("Expected victim 0, got %d", victim)
	}
}

// TestLRUEmpty tests victim selection on an empty replacer
func TestLRUEmpty(t *testing.T) {
	replacer := NewLRUReplacer(5)

	victim, ok := replacer.Victim()
	if ok {
		t.Errorf("Should not have a victim when empty, got %d", victim)
	}

	if replacer.Size() != 0 {
		t.Errorf("Expected size 0, got %d", replacer.Size())
	}
}

// TestLRUCapacityDrop tests the defensive capacity branch: an unpin at
// capacity drops the front to make room
func TestLRUCapacityDrop(t *testing.T) {
	replacer := NewLRUReplacer(3)

	replacer.Unpin(0)
	replacer.Unpin(1)
	replacer.Unpin(2)

	if replacer.Size() != 3 {
		t.Errorf("Expected size 3, got %d", replacer.Size())
	}

	// At capacity: frame 0 (the front) is dropped for frame 3
	replacer.Unpin(3)

	if replacer.Size() != 3 {
		t.Errorf("Expected size 3 after capacity drop, got %d", replacer.Size())
	}

	victim, ok := replacer.Victim()
	if !ok {
		t.Fatal("Should have a victim")
	}
	if victim != 1 {
		t.Errorf("Expected victim 1 (0 was dropped at capacity), got %d", victim)
	}
}

// TestLRUMultipleVictims tests draining the replacer in LRU order
func TestLRUMultipleVictims(t *testing.T) {
	replacer := NewLRUReplacer(5)

	frames := []uint32{0, 1, 2, 3, 4}
	for _, frame := range frames {
		replacer.Unpin(frame)
	}

	for i, expected := range frames {
		victim, ok := replacer.Victim()
		if !ok {
			t.Fatalf("Should have victim at iteration %d", i)
		}
		if victim != expected {
			t.Errorf("At iteration %d: expected victim %d, got %d", i, expected, victim)
		}

		if replacer.Size() != uint32(len(frames)-i-1) {
			t.Errorf("Expected size %d, got %d", len(frames)-i-1, replacer.Size())
		}
	}

	_, ok := replacer.Victim()
	if ok {
		t.Error("Should not have victim after all evicted")
	}
}
