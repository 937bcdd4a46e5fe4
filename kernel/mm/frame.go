package mm

import "kcore/kernel"

var (
	// ErrOutOfMemory is the error that frame allocators should return when
	// physical memory is exhausted.
	ErrOutOfMemory = &kernel.Error{Module: "mm", Message: "out of physical memory"}

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}

	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn
)

// FrameAllocatorFn is a function that hands out a single free, page-aligned
// physical frame. It must be safe to call from any processor; callers never
// serialize access to it.
type FrameAllocatorFn func() (PhysAddr, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (PhysAddr, *kernel.Error) {
	if frameAllocator == nil {
		return 0, errNoFrameAllocator
	}
	return frameAllocator()
}
