package storage

import (
	"fmt"
	"os"
	"sync"
)

// DiskManager is the raw page I/O interface consumed by the buffer pool.
// All operations are synchronous; durability on return is whatever the
// implementation provides.
type DiskManager interface {
	// ReadPage fills buf with the on-disk image of the page. buf must be
	// PageSize bytes. Reading a page that was never allocated is undefined.
	ReadPage(pageID uint32, buf []byte) error

	// WritePage writes data to disk under pageID. data must be PageSize bytes.
	WritePage(pageID uint32, data []byte) error

	// AllocatePage returns a fresh, never-before-issued page ID.
	AllocatePage() uint32

	// DeallocatePage marks a page ID for reuse. Idempotent, always succeeds.
	DeallocatePage(pageID uint32)

	// Close releases the underlying resources
	Close() error
}

// PageWrite represents a single page write operation
type PageWrite struct {
	PageID uint32
	Data   []byte
}

// BatchWriter is implemented by disk managers that can write multiple
// pages with a single durability barrier. The buffer pool uses it for
// FlushAllPages when available.
type BatchWriter interface {
	WritePagesV(writes []PageWrite) error
}

// FileDiskManager manages pages in a single file, one page per PageSize
// slot at offset pageID*PageSize. Every write is followed by an fsync.
type FileDiskManager struct {
	file        *os.File
	nextPageID  uint32
	deallocated map[uint32]struct{}
	mutex       sync.Mutex
}

// NewFileDiskManager opens or creates a page file
func NewFileDiskManager(fileName string) (*FileDiskManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create file %s: %w", fileName, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file %s: %w", fileName, err)
	}

	return &FileDiskManager{
		file:        file,
		nextPageID:  uint32(info.Size() / PageSize),
		deallocated: make(map[uint32]struct{}),
	}, nil
}

// AllocatePage allocates a new page and returns its page ID
func (dm *FileDiskManager) AllocatePage() uint32 {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	pageID := dm.nextPageID
	dm.nextPageID++
	return pageID
}

// DeallocatePage records a page ID as deallocated. AllocatePage never
// reissues it and the slot is left in place; reclamation of file space is
// a compaction concern, not the disk manager's. Idempotent.
func (dm *FileDiskManager) DeallocatePage(pageID uint32) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.deallocated[pageID] = struct{}{}
}

// DeallocatedCount returns how many page IDs have been deallocated
func (dm *FileDiskManager) DeallocatedCount() int {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	return len(dm.deallocated)
}

// ReadPage fills buf with the page's on-disk image
func (dm *FileDiskManager) ReadPage(pageID uint32, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("page buffer must be exactly %d bytes, got %d", PageSize, len(buf))
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	offset := int64(pageID) * PageSize
	n, err := dm.file.ReadAt(buf, offset)
	if err != nil {
		// A page allocated but never written reads short or empty; the
		// slot contents are zeroes by contract of the page file.
		if n == 0 && offset >= dm.sizeLocked() {
			clear(buf)
			return nil
		}
		return ErrDiskRead("FileDiskManager.ReadPage", pageID, err)
	}

	return nil
}

// WritePage writes a page to disk at the specified page ID
func (dm *FileDiskManager) WritePage(pageID uint32, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	offset := int64(pageID) * PageSize
	if _, err := dm.file.WriteAt(data, offset); err != nil {
		return ErrDiskWrite("FileDiskManager.WritePage", pageID, err)
	}

	return dm.file.Sync()
}

// WritePagesV writes multiple pages with a single fsync, amortizing the
// durability barrier across the batch.
func (dm *FileDiskManager) WritePagesV(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	for _, pw := range writes {
		if len(pw.Data) != PageSize {
			return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(pw.Data))
		}

		offset := int64(pw.PageID) * PageSize
		if _, err := dm.file.WriteAt(pw.Data, offset); err != nil {
			return ErrDiskWrite("FileDiskManager.WritePagesV", pw.PageID, err)
		}
	}

	return dm.file.Sync()
}

// Close closes the disk manager and its underlying file
func (dm *FileDiskManager) Close() error {
	if dm.file != nil {
		return dm.file.Close()
	}
	return nil
}

// sizeLocked returns the current file size. Caller holds dm.mutex.
func (dm *FileDiskManager) sizeLocked() int64 {
	info, err := dm.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}
