package mm

// PhysAddr identifies a byte in physical memory. A PhysAddr cannot be
// dereferenced; it has to be mapped into a virtual range first. There is
// deliberately no conversion method to VirtAddr.
type PhysAddr uintptr

// Add returns the physical address offset bytes after p.
func (p PhysAddr) Add(offset uintptr) PhysAddr {
	return p + PhysAddr(offset)
}

// Less reports whether p orders before other.
func (p PhysAddr) Less(other PhysAddr) bool {
	return p < other
}

// PageAligned returns true if p is a multiple of PageSize.
func (p PhysAddr) PageAligned() bool {
	return uintptr(p)&(PageSize-1) == 0
}

// PageDown rounds p down to the start of the frame that contains it.
func (p PhysAddr) PageDown() PhysAddr {
	return p &^ PhysAddr(PageSize-1)
}

// VirtAddr identifies a byte in the address space that is currently loaded
// on a processor.
type VirtAddr uintptr

// Add returns the virtual address offset bytes after v.
func (v VirtAddr) Add(offset uintptr) VirtAddr {
	return v + VirtAddr(offset)
}

// Sub returns the length in bytes of the range [other, v).
func (v VirtAddr) Sub(other VirtAddr) uintptr {
	return uintptr(v - other)
}

// Less reports whether v orders before other.
func (v VirtAddr) Less(other VirtAddr) bool {
	return v < other
}

// PageAligned returns true if v is a multiple of PageSize.
func (v VirtAddr) PageAligned() bool {
	return uintptr(v)&(PageSize-1) == 0
}

// PageDown rounds v down to the start of the page that contains it.
func (v VirtAddr) PageDown() VirtAddr {
	return v &^ VirtAddr(PageSize-1)
}

// PageOffset returns the offset of v within its page.
func (v VirtAddr) PageOffset() uintptr {
	return uintptr(v) & (PageSize - 1)
}

// PageAlignUp rounds size up to the nearest multiple of PageSize.
func PageAlignUp(size uintptr) uintptr {
	return (size + PageSize - 1) &^ (PageSize - 1)
}
