//go:build linux || darwin

package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapDiskManager provides zero-copy page access through a memory-mapped
// page file. Reads and writes are memcpys against the mapping; WritePage
// issues an msync so the durability contract matches FileDiskManager.
type MmapDiskManager struct {
	file        *os.File
	mmapData    []byte
	fileSize    int64
	nextPageID  uint32
	deallocated map[uint32]struct{}
	mutex       sync.RWMutex
	growMutex   sync.Mutex // serializes file growth and remapping
}

const (
	// Initial file size: 64MB (16K pages * 4KB)
	mmapInitialFileSize = 64 * 1024 * 1024
	// Grow by 64MB when the mapping runs out of space
	mmapFileGrowSize = 64 * 1024 * 1024
)

// NewMmapDiskManager creates a new memory-mapped disk manager
func NewMmapDiskManager(fileName string) (*MmapDiskManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open/create file %s: %w", fileName, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	fileSize := info.Size()
	nextPageID := uint32(fileSize / PageSize)

	if fileSize < mmapInitialFileSize {
		if err := file.Truncate(mmapInitialFileSize); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to grow file: %w", err)
		}
		fileSize = mmapInitialFileSize
	}

	dm := &MmapDiskManager{
		file:        file,
		fileSize:    fileSize,
		nextPageID:  nextPageID,
		deallocated: make(map[uint32]struct{}),
	}

	if err := dm.createMapping(); err != nil {
		file.Close()
		return nil, err
	}

	return dm, nil
}

// createMapping maps the whole page file read-write and shared
func (dm *MmapDiskManager) createMapping() error {
	data, err := unix.Mmap(
		int(dm.file.Fd()),
		0,
		int(dm.fileSize),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}

	dm.mmapData = data
	return nil
}

// AllocatePage allocates a new page, growing the mapping if needed
func (dm *MmapDiskManager) AllocatePage() uint32 {
	dm.mutex.Lock()
	pageID := dm.nextPageID
	dm.nextPageID++
	needed := int64(dm.nextPageID) * PageSize
	size := dm.fileSize
	dm.mutex.Unlock()

	if needed > size {
		// Growth failure surfaces on the first read/write past the mapping
		_ = dm.grow(needed)
	}

	return pageID
}

// DeallocatePage records a page ID as deallocated; AllocatePage never
// reissues it. Idempotent.
func (dm *MmapDiskManager) DeallocatePage(pageID uint32) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.deallocated[pageID] = struct{}{}
}

// ReadPage copies the page's bytes out of the mapping into buf
func (dm *MmapDiskManager) ReadPage(pageID uint32, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("page buffer must be exactly %d bytes, got %d", PageSize, len(buf))
	}

	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	offset := int64(pageID) * PageSize
	if offset+PageSize > dm.fileSize {
		return ErrDiskRead("MmapDiskManager.ReadPage", pageID,
			fmt.Errorf("page beyond mapped file size %d", dm.fileSize))
	}

	copy(buf, dm.mmapData[offset:offset+PageSize])
	return nil
}

// WritePage copies data into the mapping and msyncs the affected range
func (dm *MmapDiskManager) WritePage(pageID uint32, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	offset := int64(pageID) * PageSize

	dm.mutex.RLock()
	if offset+PageSize > dm.fileSize {
		dm.mutex.RUnlock()
		if err := dm.grow(offset + PageSize); err != nil {
			return ErrDiskWrite("MmapDiskManager.WritePage", pageID, err)
		}
		dm.mutex.RLock()
	}

	copy(dm.mmapData[offset:offset+PageSize], data)
	err := unix.Msync(dm.mmapData[offset:offset+PageSize], unix.MS_SYNC)
	dm.mutex.RUnlock()

	if err != nil {
		return ErrDiskWrite("MmapDiskManager.WritePage", pageID, err)
	}
	return nil
}

// WritePagesV writes multiple pages with a single msync over the whole
// mapping, amortizing the durability barrier.
func (dm *MmapDiskManager) WritePagesV(writes []PageWrite) error {
	if len(writes) == 0 {
		return nil
	}

	// Ensure capacity for the highest page in the batch
	var maxEnd int64
	for _, pw := range writes {
		if end := int64(pw.PageID)*PageSize + PageSize; end > maxEnd {
			maxEnd = end
		}
	}

	dm.mutex.RLock()
	if maxEnd > dm.fileSize {
		dm.mutex.RUnlock()
		if err := dm.grow(maxEnd); err != nil {
			return err
		}
		dm.mutex.RLock()
	}
	defer dm.mutex.RUnlock()

	for _, pw := range writes {
		if len(pw.Data) != PageSize {
			return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(pw.Data))
		}
		offset := int64(pw.PageID) * PageSize
		copy(dm.mmapData[offset:offset+PageSize], pw.Data)
	}

	if err := unix.Msync(dm.mmapData, unix.MS_SYNC); err != nil {
		return fmt.Errorf("failed to msync mapping: %w", err)
	}
	return nil
}

// grow extends the file to cover at least minSize and remaps
func (dm *MmapDiskManager) grow(minSize int64) error {
	dm.growMutex.Lock()
	defer dm.growMutex.Unlock()

	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if minSize <= dm.fileSize {
		return nil // another grower got here first
	}

	newSize := dm.fileSize
	for newSize < minSize {
		newSize += mmapFileGrowSize
	}

	if err := unix.Munmap(dm.mmapData); err != nil {
		return fmt.Errorf("failed to unmap before grow: %w", err)
	}
	dm.mmapData = nil

	if err := dm.file.Truncate(newSize); err != nil {
		return fmt.Errorf("failed to grow file: %w", err)
	}
	dm.fileSize = newSize

	return dm.createMapping()
}

// Close syncs, unmaps, and closes the page file
func (dm *MmapDiskManager) Close() error {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if dm.mmapData != nil {
		if err := unix.Msync(dm.mmapData, unix.MS_SYNC); err != nil {
			return fmt.Errorf("failed to msync on close: %w", err)
		}
		if err := unix.Munmap(dm.mmapData); err != nil {
			return fmt.Errorf("failed to munmap on close: %w", err)
		}
		dm.mmapData = nil
	}

	if dm.file != nil {
		return dm.file.Close()
	}
	return nil
}
