package channel

import "unsafe"

// ShmWindow records the shared-memory window established by shfile, per
// spec.md §4.4: a base address in client space and a size. Buffers that
// fall entirely inside [Base, Base+Size) are sent to the driver as
// offset-only requests instead of carrying inline data.
type ShmWindow struct {
	Base uintptr
	Size uintptr
}

// Contains reports whether the [addr, addr+n) range lies entirely
// inside the window, mirroring channel.cc's useSharedMem helper.
func (w *ShmWindow) Contains(addr uintptr, n int) bool {
	if w == nil {
		return false
	}
	end := addr + uintptr(n)
	if end < addr { // overflow
		return false
	}
	return addr >= w.Base && end <= w.Base+w.Size
}

// Offset returns addr's offset within the window. Caller must have
// already checked Contains.
func (w *ShmWindow) Offset(addr uintptr) int64 {
	return int64(addr - w.Base)
}

// AddrOf returns buf's address, for building the ShmWindow a shfile
// call records.
func AddrOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

// ShmOffsetFor returns buf's offset within this channel's established
// shared-memory window, or -1 if ShFile was never called or buf does
// not lie entirely inside that window, per spec.md §4.4's offset-only
// fast path: a buffer the caller already mapped into the shfile window
// travels as a bare offset instead of inline bytes.
func (c *Channel) ShmOffsetFor(buf []byte) int64 {
	if len(buf) == 0 {
		return -1
	}
	c.bus.Mu.Lock()
	w := c.shm
	c.bus.Mu.Unlock()
	if w == nil {
		return -1
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	if !w.Contains(addr, len(buf)) {
		return -1
	}
	return w.Offset(addr)
}
