// Package pmm provides the physical frame allocator that backs mm.AllocFrame
// during boot.
package pmm

import (
	"kcore/kernel"
	"kcore/kernel/mm"
	"kcore/kernel/sync"
)

var (
	// bootAllocator is the allocator registered by Init.
	bootAllocator BumpAllocator

	errEmptyRange = &kernel.Error{Module: "pmm", Message: "usable physical memory range is empty"}
)

// BumpAllocator hands out consecutive frames from a single physical range and
// never reclaims them. Frames occupied by the kernel image are skipped.
type BumpAllocator struct {
	lock sync.Spinlock

	// next is the next frame to hand out; end is the first frame past the
	// usable range.
	next, end mm.PhysAddr

	// kernelStart and kernelEnd delimit the (page-rounded) kernel image.
	kernelStart, kernelEnd mm.PhysAddr

	allocCount uint64
}

// Init resets the allocator to serve frames from [start, end), skipping any
// frames in [kernelStart, kernelEnd). Unaligned bounds are rounded inwards
// for the usable range and outwards for the kernel image.
func (alloc *BumpAllocator) Init(start, end, kernelStart, kernelEnd mm.PhysAddr) *kernel.Error {
	alloc.next = mm.PhysAddr(mm.PageAlignUp(uintptr(start)))
	alloc.end = end.PageDown()
	alloc.kernelStart = kernelStart.PageDown()
	alloc.kernelEnd = mm.PhysAddr(mm.PageAlignUp(uintptr(kernelEnd)))
	alloc.allocCount = 0

	if !alloc.next.Less(alloc.end) {
		return errEmptyRange
	}

	return nil
}

// AllocFrame reserves the next free frame. It returns mm.ErrOutOfMemory once
// the range is exhausted.
func (alloc *BumpAllocator) AllocFrame() (mm.PhysAddr, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.next.Less(alloc.kernelStart) && alloc.next.Less(alloc.kernelEnd) {
		alloc.next = alloc.kernelEnd
	}

	if !alloc.next.Less(alloc.end) {
		return 0, mm.ErrOutOfMemory
	}

	frame := alloc.next
	alloc.next = alloc.next.Add(mm.PageSize)
	alloc.allocCount++
	return frame, nil
}

// AllocCount returns the number of frames handed out since Init.
func (alloc *BumpAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// Init sets up the boot frame allocator over [start, end) and registers it
// with mm.SetFrameAllocator.
func Init(start, end, kernelStart, kernelEnd mm.PhysAddr) *kernel.Error {
	if err := bootAllocator.Init(start, end, kernelStart, kernelEnd); err != nil {
		return err
	}

	mm.SetFrameAllocator(bootAllocFrame)
	return nil
}

func bootAllocFrame() (mm.PhysAddr, *kernel.Error) {
	return bootAllocator.AllocFrame()
}
