package storage

import (
	"fmt"
	"sync"
	"time"
)

// BufferPoolManager mediates between the on-disk page file and the rest
// of the engine. It owns a fixed array of frames, a page table mapping
// resident page IDs to frames, a free list, and a replacement policy. Any
// page a caller holds a pin on stays at a stable in-memory address until
// the pin is released.
//
// A single mutex guards all mutable state and is held across every public
// operation, including the synchronous disk I/O during fetch and
// eviction. This serializes I/O but makes the pin/unpin lifecycle and the
// frame-set invariants easy to reason about; page content access by pin
// holders is synchronized separately through the per-frame latch.
type BufferPoolManager struct {
	poolSize    uint32
	frames      []*Frame
	pageTable   map[uint32]uint32 // pageID -> frameID
	freeList    []uint32
	diskManager DiskManager
	logManager  *LogManager // optional WAL integration
	replacer    Replacer
	metrics     *Metrics

	mutex sync.Mutex
}

// NewBufferPoolManager creates a buffer pool with the default LRU policy
func NewBufferPoolManager(poolSize uint32, diskManager DiskManager) (*BufferPoolManager, error) {
	return NewBufferPoolManagerWithReplacer(poolSize, diskManager, "lru")
}

// NewBufferPoolManagerWithReplacer creates a buffer pool with a specific
// replacement policy ("lru" or "2q")
func NewBufferPoolManagerWithReplacer(poolSize uint32, diskManager DiskManager, replacerAlg string) (*BufferPoolManager, error) {
	if poolSize == 0 {
		return nil, fmt.Errorf("pool size must be greater than 0")
	}
	if diskManager == nil {
		return nil, fmt.Errorf("disk manager must not be nil")
	}

	bpm := &BufferPoolManager{
		poolSize:    poolSize,
		frames:      make([]*Frame, poolSize),
		pageTable:   make(map[uint32]uint32, poolSize),
		freeList:    make([]uint32, 0, poolSize),
		diskManager: diskManager,
		replacer:    NewReplacer(replacerAlg, poolSize),
		metrics:     NewMetrics(),
	}

	// Initially every frame is free
	for i := uint32(0); i < poolSize; i++ {
		bpm.frames[i] = newFrame()
		bpm.freeList = append(bpm.freeList, i)
	}

	return bpm, nil
}

// NewBufferPoolManagerFromConfig creates a buffer pool from a validated
// configuration
func NewBufferPoolManagerFromConfig(config *Config, diskManager DiskManager) (*BufferPoolManager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return NewBufferPoolManagerWithReplacer(config.BufferPoolSize, diskManager, config.CacheReplacer)
}

// SetLogManager sets the log manager for WAL integration. When set, the
// WAL is flushed before any dirty page write-back.
func (bpm *BufferPoolManager) SetLogManager(logManager *LogManager) {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()
	bpm.logManager = logManager
	if logManager != nil {
		logManager.SetMetrics(bpm.metrics)
	}
}

// GetPoolSize returns the number of frames in the pool
func (bpm *BufferPoolManager) GetPoolSize() uint32 {
	return bpm.poolSize
}

// GetMetrics returns the buffer pool metrics
func (bpm *BufferPoolManager) GetMetrics() *Metrics {
	return bpm.metrics
}

// FetchPage returns the frame holding the on-disk image of pageID with its
// pin count incremented by one. On a miss the page is read from disk into
// a frame taken from the free list or, failing that, from the replacer,
// writing the victim's contents back first if dirty. Fails with the
// OutOfFrames error only when every resident frame is pinned and the free
// list is empty.
func (bpm *BufferPoolManager) FetchPage(pageID uint32) (*Frame, error) {
	start := time.Now()
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()
	defer func() {
		bpm.metrics.RecordPageFetchLatency(time.Since(start))
	}()

	if pageID == InvalidPageID {
		return nil, ErrInvalidPageID("FetchPage", pageID)
	}

	// Hit path
	if frameID, exists := bpm.pageTable[pageID]; exists {
		bpm.metrics.RecordCacheHit()
		frame := bpm.frames[frameID]
		frame.pinCount++
		bpm.replacer.Pin(frameID)
		return frame, nil
	}

	bpm.metrics.RecordCacheMiss()

	frameID, err := bpm.getFrameLocked("FetchPage")
	if err != nil {
		return nil, err
	}
	frame := bpm.frames[frameID]

	if err := bpm.diskManager.ReadPage(pageID, frame.data[:]); err != nil {
		// The frame holds no mapping at this point; return it to the
		// free list so the pool does not shrink on a failed read.
		frame.reset()
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, ErrDiskRead("FetchPage", pageID, err)
	}

	bpm.pageTable[pageID] = frameID
	frame.pageID = pageID
	if frame.pinCount < 1 {
		frame.pinCount = 1
	}
	frame.isDirty = false
	bpm.replacer.Pin(frameID)

	return frame, nil
}

// UnpinPage releases one pin on a resident page, ORing dirtyFlag into the
// frame's dirty bit. A frame whose pin count reaches zero becomes
// evictable. Returns true iff a real decrement occurred: unpinning a page
// that is not resident, or whose pin count is already zero, returns false
// without mutating anything.
func (bpm *BufferPoolManager) UnpinPage(pageID uint32, dirtyFlag bool) bool {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	frameID, exists := bpm.pageTable[pageID]
	if !exists {
		return false
	}

	frame := bpm.frames[frameID]
	if frame.pinCount <= 0 {
		return false
	}

	frame.pinCount--
	frame.isDirty = frame.isDirty || dirtyFlag
	if frame.pinCount == 0 {
		bpm.replacer.Unpin(frameID)
	}

	return true
}

// NewPage allocates a fresh page on disk and installs it in a frame with
// a zeroed buffer and pin count one. Victim selection happens before disk
// allocation so that a failure to find a frame cannot leak a freshly
// allocated page ID. Fails with the OutOfFrames error iff no victim is
// obtainable.
func (bpm *BufferPoolManager) NewPage() (*Frame, error) {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	frameID, err := bpm.getFrameLocked("NewPage")
	if err != nil {
		return nil, err
	}
	frame := bpm.frames[frameID]

	pageID := bpm.diskManager.AllocatePage()

	// The frame came reset from the free list or the eviction path, so
	// the buffer is already zeroed.
	bpm.pageTable[pageID] = frameID
	frame.pageID = pageID
	frame.pinCount = 1
	frame.isDirty = false
	bpm.replacer.Pin(frameID)

	return frame, nil
}

// DeletePage removes a page from the pool and deallocates it on disk.
// Deallocation happens unconditionally (the disk manager treats it as
// idempotent). A page that is not resident deletes trivially; a resident
// page still pinned by a caller is rejected. Returns true iff the page is
// no longer resident on return.
func (bpm *BufferPoolManager) DeletePage(pageID uint32) bool {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	bpm.diskManager.DeallocatePage(pageID)

	frameID, exists := bpm.pageTable[pageID]
	if !exists {
		return true
	}

	frame := bpm.frames[frameID]
	if frame.pinCount > 0 {
		return false
	}

	delete(bpm.pageTable, pageID)
	bpm.replacer.Pin(frameID) // withdraw from the evictable set
	frame.reset()
	bpm.freeList = append(bpm.freeList, frameID)

	return true
}

// FlushPage writes a resident page's frame to disk regardless of the
// dirty flag and clears the flag on success, so a later eviction will not
// write the same bytes a second time. Returns false if the page is not
// resident; disk errors propagate with the flag untouched.
func (bpm *BufferPoolManager) FlushPage(pageID uint32) (bool, error) {
	start := time.Now()
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()
	defer func() {
		bpm.metrics.RecordPageFlushLatency(time.Since(start))
	}()

	frameID, exists := bpm.pageTable[pageID]
	if !exists {
		return false, nil
	}

	frame := bpm.frames[frameID]
	if frame.isDirty {
		bpm.metrics.RecordDirtyPageFlush()
	}

	if err := bpm.writeFrameLocked(frame); err != nil {
		return false, err
	}

	frame.isDirty = false
	return true, nil
}

// FlushAllPages writes every resident page to disk. When the disk manager
// supports vectored writes the whole pool goes out under a single
// durability barrier. Successful writes leave their frames clean.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	if len(bpm.pageTable) == 0 {
		return nil
	}

	// Write-ahead rule: the WAL reaches disk before any page does
	if bpm.logManager != nil {
		if err := bpm.logManager.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL before page writes: %w", err)
		}
	}

	if bw, ok := bpm.diskManager.(BatchWriter); ok {
		writes := make([]PageWrite, 0, len(bpm.pageTable))
		for pageID, frameID := range bpm.pageTable {
			writes = append(writes, PageWrite{
				PageID: pageID,
				Data:   bpm.frames[frameID].data[:],
			})
		}
		if err := bw.WritePagesV(writes); err != nil {
			return fmt.Errorf("failed to batch write pages: %w", err)
		}
		for _, frameID := range bpm.pageTable {
			bpm.frames[frameID].isDirty = false
		}
		return nil
	}

	for pageID, frameID := range bpm.pageTable {
		frame := bpm.frames[frameID]
		if err := bpm.diskManager.WritePage(pageID, frame.data[:]); err != nil {
			return err
		}
		frame.isDirty = false
	}

	return nil
}

// GetDirtyPageCount returns the number of dirty frames in the pool
func (bpm *BufferPoolManager) GetDirtyPageCount() int {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	count := 0
	for _, frame := range bpm.frames {
		if frame.isDirty {
			count++
		}
	}
	return count
}

// GetCapacity returns the total number of frames
func (bpm *BufferPoolManager) GetCapacity() int {
	return int(bpm.poolSize)
}

// GetDirtyPages returns up to maxPages resident dirty page IDs
func (bpm *BufferPoolManager) GetDirtyPages(maxPages int) []uint32 {
	bpm.mutex.Lock()
	defer bpm.mutex.Unlock()

	dirtyPages := make([]uint32, 0, maxPages)
	for pageID, frameID := range bpm.pageTable {
		if len(dirtyPages) >= maxPages {
			break
		}
		if bpm.frames[frameID].isDirty {
			dirtyPages = append(dirtyPages, pageID)
		}
	}
	return dirtyPages
}

// getFrameLocked returns a frame holding no resident page, taking the
// free list first and evicting a victim otherwise. Caller holds bpm.mutex.
func (bpm *BufferPoolManager) getFrameLocked(op string) (uint32, error) {
	if len(bpm.freeList) > 0 {
		frameID := bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
		return frameID, nil
	}

	frameID, ok := bpm.replacer.Victim()
	if !ok {
		return 0, ErrOutOfFrames(op)
	}

	if err := bpm.evictLocked(frameID); err != nil {
		// Victim selection withdrew the frame from the replacer; put it
		// back so a failed write-back does not leak the frame. The page
		// table entry is still in place.
		bpm.replacer.Unpin(frameID)
		return 0, err
	}

	bpm.metrics.RecordPageEviction()
	return frameID, nil
}

// evictLocked writes back the frame's occupant if dirty, removes its page
// table entry, and resets the frame. Caller holds bpm.mutex.
func (bpm *BufferPoolManager) evictLocked(frameID uint32) error {
	frame := bpm.frames[frameID]
	if frame.pageID == InvalidPageID {
		return nil
	}

	if frame.isDirty {
		bpm.metrics.RecordDirtyPageFlush()
		if err := bpm.writeFrameLocked(frame); err != nil {
			return err
		}
	}

	delete(bpm.pageTable, frame.pageID)
	frame.reset()
	return nil
}

// writeFrameLocked hands a frame's bytes to the disk manager, flushing
// the WAL first when one is wired in. Caller holds bpm.mutex.
func (bpm *BufferPoolManager) writeFrameLocked(frame *Frame) error {
	if bpm.logManager != nil {
		if err := bpm.logManager.Flush(); err != nil {
			return fmt.Errorf("failed to flush WAL before page write: %w", err)
		}
	}
	return bpm.diskManager.WritePage(frame.pageID, frame.data[:])
}
