package storage

const (
	// PageSize is the size of a page in bytes. The disk manager and the
	// buffer pool must agree on this constant.
	PageSize = 4096

	// InvalidPageID marks a frame that holds no resident page.
	InvalidPageID uint32 = 0xFFFFFFFF
)

// Frame is a fixed-size in-memory slot that can hold one disk page at a
// time. The buffer pool owns all frames for its lifetime; callers borrow a
// frame by fetching its page and must unpin it when done. While a pin is
// held the frame's address and resident page are stable.
//
// pinCount and isDirty are guarded by the buffer pool mutex, not by the
// frame itself. The embedded latch synchronizes byte-level access to the
// page contents between concurrent pin holders.
type Frame struct {
	data     [PageSize]byte
	pageID   uint32 // resident page, InvalidPageID when free
	pinCount int32
	isDirty  bool
	latch    *RWLatch
}

func newFrame() *Frame {
	return &Frame{
		pageID: InvalidPageID,
		latch:  NewRWLatch(),
	}
}

// PageID returns the page currently resident in this frame, or
// InvalidPageID if the frame is free.
func (f *Frame) PageID() uint32 {
	return f.pageID
}

// PinCount returns the number of outstanding pins on this frame.
func (f *Frame) PinCount() int32 {
	return f.pinCount
}

// IsDirty reports whether the in-memory contents differ from the last disk
// image of the resident page.
func (f *Frame) IsDirty() bool {
	return f.isDirty
}

// Data returns the frame's page buffer. The slice aliases the frame's
// backing array; it is valid only while the caller holds a pin.
func (f *Frame) Data() []byte {
	return f.data[:]
}

// RLock acquires the page latch in shared mode for reading page contents.
func (f *Frame) RLock() {
	f.latch.RLock()
}

// RUnlock releases a shared page latch.
func (f *Frame) RUnlock() {
	f.latch.RUnlock()
}

// WLock acquires the page latch exclusively for writing page contents.
func (f *Frame) WLock() {
	f.latch.Lock()
}

// WUnlock releases an exclusive page latch.
func (f *Frame) WUnlock() {
	f.latch.Unlock()
}

// reset returns the frame to its freshly constructed state. The caller
// must hold the buffer pool mutex and the frame must be unpinned.
func (f *Frame) reset() {
	clear(f.data[:])
	f.pageID = InvalidPageID
	f.pinCount = 0
	f.isDirty = false
}
