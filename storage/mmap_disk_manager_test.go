//go:build linux || darwin

package storage

import (
	"bytes"
	"os"
	"testing"
)

func TestMmapDiskManager(t *testing.T) {
	testFileName := "test_mmap.db"
	defer os.Remove(testFileName)

	dm, err := NewMmapDiskManager(testFileName)
	if err != nil {
		t.Fatalf("Failed to create MmapDiskManager: %v", err)
	}
	defer dm.Close()

	pageID := dm.AllocatePage()
	if pageID != 0 {
		t.Errorf("Expected first page ID 0, got %d", pageID)
	}
}

func TestMmapDiskManagerReadWrite(t *testing.T) {
	testFileName := "test_mmap_rw.db"
	defer os.Remove(testFileName)

	dm, err := NewMmapDiskManager(testFileName)
	if err != nil {
		t.Fatalf("Failed to create MmapDiskManager: %v", err)
	}
	defer dm.Close()

	pageID := dm.AllocatePage()

	data := bytes.Repeat([]byte{0xCD}, PageSize)
	if err := dm.WritePage(pageID, data); err != nil {
		t.Fatalf("Failed to write page: %v", err)
	}

	buf := make([]byte, PageSize)
	if err := dm.ReadPage(pageID, buf); err != nil {
		t.Fatalf("Failed to read page: %v", err)
	}

	if !bytes.Equal(buf, data) {
		t.Error("Read data does not match written data")
	}
}

func TestMmapDiskManagerPersistence(t *testing.T) {
	testFileName := "test_mmap_persist.db"
	defer os.Remove(testFileName)

	dm, err := NewMmapDiskManager(testFileName)
	if err != nil {
		t.Fatalf("Failed to create MmapDiskManager: %v", err)
	}

	pageID := dm.AllocatePage()
	data := bytes.Repeat([]byte{0x5A}, PageSize)
	if err := dm.WritePage(pageID, data); err != nil {
		t.Fatalf("Failed to write page: %v", err)
	}

	if err := dm.Close(); err != nil {
		t.Fatalf("Failed to close MmapDiskManager: %v", err)
	}

	dm2, err := NewMmapDiskManager(testFileName)
	if err != nil {
		t.Fatalf("Failed to reopen MmapDiskManager: %v", err)
	}
	defer dm2.Close()

	buf := make([]byte, PageSize)
	if err := dm2.ReadPage(pageID, buf); err != nil {
		t.Fatalf("Failed to read page after reopen: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Error("Page contents lost across reopen")
	}
}

func TestMmapDiskManagerWithBufferPool(t *testing.T) {
	testFileName := "test_mmap_bpm.db"
	defer os.Remove(testFileName)

	dm, err := NewMmapDiskManager(testFileName)
	if err != nil {
		t.Fatalf("Failed to create MmapDiskManager: %v", err)
	}
	defer dm.Close()

	bpm, err := NewBufferPoolManager(3, dm)
	if err != nil {
		t.Fatalf("Failed to create BufferPoolManager: %v", err)
	}

	frame, err := bpm.NewPage()
	if err != nil {
		t.Fatalf("Failed to create new page: %v", err)
	}
	pageID := frame.PageID()
	fillFrame(frame, pageID)
	bpm.UnpinPage(pageID, true)

	if _, err := bpm.FlushPage(pageID); err != nil {
		t.Fatalf("Failed to flush page: %v", err)
	}

	// Force the page out of the pool and back in
	for i := 0; i < 3; i++ {
		f, err := bpm.NewPage()
		if err != nil {
			t.Fatalf("Failed to create filler page: %v", err)
		}
		bpm.UnpinPage(f.PageID(), false)
	}

	refetched, err := bpm.FetchPage(pageID)
	if err != nil {
		t.Fatalf("Failed to refetch page: %v", err)
	}
	expected := bytes.Repeat([]byte{pagePattern(pageID)}, PageSize)
	if !bytes.Equal(refetched.Data(), expected) {
		t.Error("Page contents mismatch through the mmap disk manager")
	}
}

func TestMmapDiskManagerWritePagesV(t *testing.T) {
	testFileName := "test_mmap_batch.db"
	defer os.Remove(testFileName)

	dm, err := NewMmapDiskManager(testFileName)
	if err != nil {
		t.Fatalf("Failed to create MmapDiskManager: %v", err)
	}
	defer dm.Close()

	writes := make([]PageWrite, 0, 3)
	for i := 0; i < 3; i++ {
		pageID := dm.AllocatePage()
		writes = append(writes, PageWrite{
			PageID: pageID,
			Data:   bytes.Repeat([]byte{byte(0x20 + i)}, PageSize),
		})
	}

	if err := dm.WritePagesV(writes); err != nil {
		t.Fatalf("Failed to batch write pages: %v", err)
	}

	for _, pw := range writes {
		buf := make([]byte, PageSize)
		if err := dm.ReadPage(pw.PageID, buf); err != nil {
			t.Fatalf("Failed to read page %d: %v", pw.PageID, err)
		}
		if !bytes.Equal(buf, pw.Data) {
			t.Errorf("Page %d contents mismatch after batch write", pw.PageID)
		}
	}
}
