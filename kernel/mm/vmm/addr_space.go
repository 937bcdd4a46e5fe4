package vmm

import (
	"kcore/kernel"
	"kcore/kernel/mm"
	"kcore/kernel/sync"
)

var (
	errRegionNotFound = &kernel.Error{Module: "vmm", Message: "no region starts at the requested address"}
	errZeroLength     = &kernel.Error{Module: "vmm", Message: "region length must be positive"}

	errRangeNotReserved = &kernel.Error{Module: "vmm", Message: "range is not covered by a single region"}
)

// SpaceKind distinguishes the shared kernel address space from per-process
// user address spaces.
type SpaceKind uint8

const (
	// KindKernel marks the single address space shared by all kernel tasks.
	KindKernel SpaceKind = iota

	// KindUser marks an address space owned by one user process.
	KindUser
)

// AddressSpace owns a root page table and the ordered set of regions mapped
// through it.
//
// Mutating an address space (mapping pages or allocating and unmapping
// regions) is only valid while the space is not active on any other
// processor, or while the caller holds it via WithLocked. Loading a root
// table affects the whole processor, so a space must not be activated while
// preemption can occur.
type AddressSpace struct {
	lock sync.Spinlock

	kind      SpaceKind
	root      mm.PhysAddr
	heapStart mm.VirtAddr
	regions   RegionSet
}

// NewAddressSpace allocates and clears a root page table frame and returns
// an empty address space of the requested kind. Once the kernel space exists,
// user spaces share its kernel-half tables.
func NewAddressSpace(kind SpaceKind) (*AddressSpace, *kernel.Error) {
	as := new(AddressSpace)
	if err := as.init(kind); err != nil {
		return nil, err
	}

	return as, nil
}

// init resets as to an empty address space of the requested kind backed by
// a freshly allocated root table.
func (as *AddressSpace) init(kind SpaceKind) *kernel.Error {
	root, err := allocZeroedFrame()
	if err != nil {
		return err
	}

	if kind == KindUser && kernelSpace != nil {
		for index := uint16(kernelHalfFirstEntry); index < entriesPerTable; index++ {
			*entryPtr(root, index) = *entryPtr(kernelSpace.root, index)
		}
	}

	*as = AddressSpace{kind: kind, root: root, heapStart: mm.VirtAddr(UserHeapStart)}
	if kind == KindKernel {
		as.heapStart = mm.VirtAddr(KernelHeapStart)
	}

	return nil
}

// Kind returns the kind of this address space.
func (as *AddressSpace) Kind() SpaceKind { return as.kind }

// Root returns the physical address of the top-level page table.
func (as *AddressSpace) Root() mm.PhysAddr { return as.root }

// HeapStart returns the base used by the first AllocateRegion call.
func (as *AddressSpace) HeapStart() mm.VirtAddr { return as.heapStart }

// Activate installs this address space as the active translation root of
// the calling processor.
func (as *AddressSpace) Activate() {
	switchPDTFn(uintptr(as.root))
	activeSpace = as
}

// WithLocked runs fn with interrupts disabled on the calling processor and
// the space's lock held. The interrupt state on entry is restored once fn
// returns, so WithLocked sections nest.
func (as *AddressSpace) WithLocked(fn func(*AddressSpace) *kernel.Error) *kernel.Error {
	intEnabled := disableInterruptsFn()
	as.lock.Acquire()
	err := fn(as)
	as.lock.Release()
	if intEnabled {
		enableInterruptsFn()
	}
	return err
}

// FindRegion returns the region that contains virtAddr.
func (as *AddressSpace) FindRegion(virtAddr mm.VirtAddr) (Region, bool) {
	return as.regions.Find(virtAddr)
}

// VisitRegions invokes visitor for each region in ascending address order
// until visitor returns false.
func (as *AddressSpace) VisitRegions(visitor func(Region) bool) {
	as.regions.Visit(visitor)
}

// AllocateRegion reserves a readable, writable and user-accessible region of
// at least length bytes and backs each of its pages with a freshly allocated,
// zero-filled frame. The region is placed guardGapPages pages after the end
// of the highest region in the space, or at the space's heap start if the
// space holds no regions yet. It returns the base of the new region.
func (as *AddressSpace) AllocateRegion(length uintptr) (mm.VirtAddr, *kernel.Error) {
	base := as.nextRegionBase()
	if err := as.AllocateRegionAt(base, length, RegionReadable|RegionWritable|RegionUser); err != nil {
		return 0, err
	}

	return base, nil
}

// ReserveRegion places a region the same way AllocateRegion does but leaves
// its pages unbacked until CommitRange is called for them.
func (as *AddressSpace) ReserveRegion(length uintptr, flags RegionFlag) (mm.VirtAddr, *kernel.Error) {
	if length == 0 {
		return 0, errZeroLength
	}

	base := as.nextRegionBase()
	if err := as.regions.Insert(Region{Base: base, Length: mm.PageAlignUp(length), Flags: flags}); err != nil {
		return 0, err
	}

	return base, nil
}

// CommitRange backs each unmapped page overlapping [virtAddr, virtAddr+length)
// with a zero-filled frame using the flags of the enclosing region. The range
// must lie within a single region. Pages committed before a failure stay
// mapped.
func (as *AddressSpace) CommitRange(virtAddr mm.VirtAddr, length uintptr) *kernel.Error {
	if length == 0 {
		return errZeroLength
	}

	end := virtAddr.Add(length)
	region, ok := as.regions.Find(virtAddr)
	if !ok || region.End().Less(end) {
		return errRangeNotReserved
	}

	leafFlags := as.leafFlags(region)
	for page := virtAddr.PageDown(); page.Less(end); page = page.Add(mm.PageSize) {
		if _, err := as.Translate(page); err == nil {
			continue
		}

		frame, err := allocZeroedFrame()
		if err != nil {
			return err
		}

		if _, err = as.mapPage(page, frame, leafFlags, false); err != nil {
			return err
		}
	}

	return nil
}

// nextRegionBase returns the base for a region placed guardGapPages pages
// after the highest region, or the heap start of an empty space.
func (as *AddressSpace) nextRegionBase() mm.VirtAddr {
	if last, ok := as.regions.Last(); ok {
		return last.End().Add(guardGapPages << mm.PageShift)
	}
	return as.heapStart
}

// AllocateRegionAt behaves like AllocateRegion but places the region at the
// page-aligned address base using the supplied access flags. A region that
// overlaps an existing one is rejected with ErrRegionOverlap.
//
// If any page cannot be backed, the pages mapped so far are unmapped and the
// region is removed before the error is returned. Frames already handed out
// by the frame allocator are not reclaimed.
func (as *AddressSpace) AllocateRegionAt(base mm.VirtAddr, length uintptr, flags RegionFlag) *kernel.Error {
	if length == 0 {
		return errZeroLength
	}

	region := Region{Base: base, Length: mm.PageAlignUp(length), Flags: flags}
	if err := as.regions.Insert(region); err != nil {
		return err
	}

	var (
		leafFlags = as.leafFlags(region)
		page      = region.Base
		mapped    uintptr
		frame     mm.PhysAddr
		err       *kernel.Error
	)

	for ; mapped < region.PageCount(); mapped, page = mapped+1, page.Add(mm.PageSize) {
		if frame, err = allocZeroedFrame(); err != nil {
			break
		}

		if _, err = as.mapPage(page, frame, leafFlags, false); err != nil {
			break
		}
	}

	if err != nil {
		log.Errorf("allocating region at 0x%16x failed after %d of %d pages: %s", uintptr(base), mapped, region.PageCount(), err.Message)
		for page = region.Base; mapped > 0; mapped, page = mapped-1, page.Add(mm.PageSize) {
			_ = as.unmapPage(page)
		}
		as.regions.Remove(region.Base)
		return err
	}

	return nil
}

// MapRegion inserts a region at base and maps it onto the physically
// contiguous range starting at physAddr. No frames are allocated for the
// region pages themselves.
func (as *AddressSpace) MapRegion(base mm.VirtAddr, physAddr mm.PhysAddr, length uintptr, flags RegionFlag) *kernel.Error {
	if length == 0 {
		return errZeroLength
	}

	region := Region{Base: base, Length: mm.PageAlignUp(length), Flags: flags}
	if err := as.regions.Insert(region); err != nil {
		return err
	}

	leafFlags := as.leafFlags(region)
	for offset := uintptr(0); offset < region.Length; offset += mm.PageSize {
		if _, err := as.mapPage(base.Add(offset), physAddr.Add(offset).PageDown(), leafFlags, false); err != nil {
			for undo := uintptr(0); undo < offset; undo += mm.PageSize {
				_ = as.unmapPage(base.Add(undo))
			}
			as.regions.Remove(region.Base)
			return err
		}
	}

	return nil
}

// UnmapRegion removes the region starting at base and clears the mappings
// for all its pages. The backing frames are not returned to the allocator.
func (as *AddressSpace) UnmapRegion(base mm.VirtAddr) *kernel.Error {
	region, ok := as.regions.Remove(base)
	if !ok {
		return errRegionNotFound
	}

	for page := region.Base; page.Less(region.End()); page = page.Add(mm.PageSize) {
		if err := as.unmapPage(page); err != nil {
			return err
		}
	}

	return nil
}

// CopyIn copies src to the virtual range starting at virtAddr. The range
// must already be mapped; the space does not need to be active.
func (as *AddressSpace) CopyIn(virtAddr mm.VirtAddr, src []byte) *kernel.Error {
	return as.forEachChunk(virtAddr, uintptr(len(src)), func(done uintptr, dst uintptr, n uintptr) {
		kernel.Memcopy(uintptr(unsafePointer(src, done)), dst, n)
	})
}

// CopyOut copies len(dst) bytes starting at virtAddr into dst.
func (as *AddressSpace) CopyOut(virtAddr mm.VirtAddr, dst []byte) *kernel.Error {
	return as.forEachChunk(virtAddr, uintptr(len(dst)), func(done uintptr, src uintptr, n uintptr) {
		kernel.Memcopy(src, uintptr(unsafePointer(dst, done)), n)
	})
}

// ZeroRange clears size bytes starting at virtAddr.
func (as *AddressSpace) ZeroRange(virtAddr mm.VirtAddr, size uintptr) *kernel.Error {
	return as.forEachChunk(virtAddr, size, func(_ uintptr, dst uintptr, n uintptr) {
		kernel.Memset(dst, 0, n)
	})
}

// forEachChunk splits [virtAddr, virtAddr+size) at page boundaries and
// invokes fn with the number of bytes already processed, the kernel-visible
// address of the chunk and its length.
func (as *AddressSpace) forEachChunk(virtAddr mm.VirtAddr, size uintptr, fn func(done, addr, n uintptr)) *kernel.Error {
	for done := uintptr(0); done < size; {
		cur := virtAddr.Add(done)
		phys, err := as.Translate(cur)
		if err != nil {
			return err
		}

		n := mm.PageSize - cur.PageOffset()
		if rem := size - done; n > rem {
			n = rem
		}

		fn(done, physToVirtFn(phys), n)
		done += n
	}

	return nil
}

// populateKernelHalf installs a table for each kernel-half top-level entry
// that is not present yet.
func (as *AddressSpace) populateKernelHalf() *kernel.Error {
	for index := uint16(kernelHalfFirstEntry); index < entriesPerTable; index++ {
		pte := entryPtr(as.root, index)
		if pte.HasFlags(FlagPresent) {
			continue
		}

		frame, err := allocZeroedFrame()
		if err != nil {
			return err
		}

		*pte = 0
		pte.SetFrame(frame)
		pte.SetFlags(FlagPresent | FlagRW)
	}

	return nil
}

// leafFlags returns the entry flags for pages backing region in this space.
// Kernel space entries are never user-accessible.
func (as *AddressSpace) leafFlags(region Region) PageTableEntryFlag {
	flags := region.entryFlags()
	if as.kind == KindKernel {
		flags &^= FlagUserAccessible
	}
	return flags
}
