package storage

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// checkPoolInvariants asserts the frame-set invariants that must hold at
// every externally observable point:
//  1. |pageTable| + |freeList| == N
//  2. page table / residency bijection
//  3. free list, replacer, and pinned frames are pairwise disjoint
//  4. free frames are fully reset
//  5. replacer holds at most N frames, no duplicates
func checkPoolInvariants(t *testing.T, bpm *BufferPoolManager) {
	t.Helper()

	n := int(bpm.poolSize)

	require.Equal(t, n, len(bpm.pageTable)+len(bpm.freeList),
		"page table size plus free list size must equal pool size")

	// Residency bijection
	for pageID, frameID := range bpm.pageTable {
		require.Equal(t, pageID, bpm.frames[frameID].pageID,
			"page table entry must match the frame's resident page")
	}
	residentFrames := 0
	for _, frame := range bpm.frames {
		if frame.pageID != InvalidPageID {
			residentFrames++
		}
	}
	require.Equal(t, len(bpm.pageTable), residentFrames,
		"every resident frame must have a page table entry")

	freeSet := make(map[uint32]bool)
	for _, frameID := range bpm.freeList {
		require.False(t, freeSet[frameID], "free list must not contain duplicates")
		freeSet[frameID] = true

		frame := bpm.frames[frameID]
		require.Equal(t, InvalidPageID, frame.pageID, "free frame must hold no page")
		require.EqualValues(t, 0, frame.pinCount, "free frame must be unpinned")
		require.False(t, frame.isDirty, "free frame must be clean")
	}

	lru, ok := bpm.replacer.(*LRUReplacer)
	require.True(t, ok, "invariant check expects the LRU replacer")

	require.LessOrEqual(t, int(lru.Size()), n, "replacer must hold at most N frames")
	require.Equal(t, lru.lruList.Len(), len(lru.lruMap), "replacer list and index must agree")

	for frameID := range lru.lruMap {
		require.False(t, freeSet[frameID],
			"frame %d must not be in both the free list and the replacer", frameID)
		require.EqualValues(t, 0, bpm.frames[frameID].pinCount,
			"evictable frame %d must be unpinned", frameID)
		require.NotEqual(t, InvalidPageID, bpm.frames[frameID].pageID,
			"evictable frame %d must be resident", frameID)
	}

	// Pinned frames are tracked by neither set
	for frameID, frame := range bpm.frames {
		if frame.pinCount > 0 {
			_, inReplacer := lru.lruMap[uint32(frameID)]
			require.False(t, inReplacer, "pinned frame %d must not be evictable", frameID)
			require.False(t, freeSet[uint32(frameID)], "pinned frame %d must not be free", frameID)
		}
	}
}

// TestPoolInvariantsUnderRandomOps drives a small pool through a long
// random operation sequence and checks the invariants after every step
func TestPoolInvariantsUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	dm := newMemDiskManager()
	bpm, err := NewBufferPoolManager(4, dm)
	require.NoError(t, err)

	const pageUniverse = 8
	pinned := make(map[uint32]int)

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(10); {
		case op < 4: // fetch
			pageID := uint32(rng.Intn(pageUniverse))
			if _, err := bpm.FetchPage(pageID); err == nil {
				pinned[pageID]++
			} else {
				require.True(t, IsErrorCode(err, ErrCodeOutOfFrames),
					"fetch may only fail with out-of-frames, got %v", err)
			}

		case op < 8: // unpin, biased toward pages actually pinned
			var pageID uint32
			if len(pinned) > 0 && rng.Intn(4) != 0 {
				for p := range pinned {
					pageID = p
					break
				}
			} else {
				pageID = uint32(rng.Intn(pageUniverse))
			}
			dirty := rng.Intn(2) == 0
			if bpm.UnpinPage(pageID, dirty) {
				pinned[pageID]--
				if pinned[pageID] == 0 {
					delete(pinned, pageID)
				}
			}

		case op < 9: // delete
			pageID := uint32(rng.Intn(pageUniverse))
			wasPinned := pinned[pageID] > 0
			deleted := bpm.DeletePage(pageID)
			require.Equal(t, !wasPinned, deleted,
				"delete must be rejected iff the page is pinned")

		default: // flush
			pageID := uint32(rng.Intn(pageUniverse))
			_, err := bpm.FlushPage(pageID)
			require.NoError(t, err)
		}

		checkPoolInvariants(t, bpm)
	}
}

// TestCleanPagesNeverWrittenProperty checks across a random clean/dirty
// workload that only pages unpinned with dirty=true ever reach the disk
// manager (flush operations excluded from the sequence)
func TestCleanPagesNeverWrittenProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	dm := newMemDiskManager()
	bpm, err := NewBufferPoolManager(4, dm)
	require.NoError(t, err)

	const pageUniverse = 8
	dirtied := make(map[uint32]bool)
	pinned := make(map[uint32]int)

	for step := 0; step < 2000; step++ {
		if rng.Intn(2) == 0 {
			pageID := uint32(rng.Intn(pageUniverse))
			if _, err := bpm.FetchPage(pageID); err == nil {
				pinned[pageID]++
			}
		} else {
			var pageID uint32
			if len(pinned) > 0 {
				for p := range pinned {
					pageID = p
					break
				}
			} else {
				pageID = uint32(rng.Intn(pageUniverse))
			}
			dirty := rng.Intn(3) == 0
			if bpm.UnpinPage(pageID, dirty) {
				if dirty {
					dirtied[pageID] = true
				}
				pinned[pageID]--
				if pinned[pageID] == 0 {
					delete(pinned, pageID)
				}
			}
		}
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	for pageID := range dm.writeCounts {
		require.True(t, dirtied[pageID],
			"page %d was written back but never unpinned dirty", pageID)
	}
}
