package vmm

import (
	"kcore/kernel"
	"kcore/kernel/mm"
	"unsafe"
)

var (
	// ErrAlreadyMapped is returned by MapPhysicalPage when the target page
	// is already backed by a physical frame.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual address is already mapped"}
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the table stored in the root frame. It calls the supplied walkFn with the
// page table entry that corresponds to each page table level. Tables are
// accessed through physToVirtFn so the walk works for inactive address
// spaces too. walkFn may install a table into a non-present entry before
// returning true; walking into a non-present entry is otherwise the caller's
// responsibility to prevent.
func walk(root mm.PhysAddr, virtAddr mm.VirtAddr, walkFn pageTableWalker) {
	var (
		level     uint8
		tableAddr mm.PhysAddr
		pte       *pageTableEntry
	)

	for level, tableAddr = uint8(0), root; level < pageLevels; level++ {
		entryIndex := tableIndex(uintptr(virtAddr), int(level))
		pte = entryPtr(tableAddr, entryIndex)

		if !walkFn(level, pte) {
			return
		}

		tableAddr = pte.Frame()
	}
}

// entryPtr returns a pointer to the entry at index in the table stored at
// the physical address table.
func entryPtr(table mm.PhysAddr, index uint16) *pageTableEntry {
	entryAddr := table.Add(uintptr(index) << mm.PointerShift)
	return (*pageTableEntry)(unsafe.Pointer(physToVirtFn(entryAddr)))
}

// allocZeroedFrame reserves a physical frame and clears its contents.
func allocZeroedFrame() (mm.PhysAddr, *kernel.Error) {
	frame, err := mm.AllocFrame()
	if err != nil {
		return 0, err
	}

	kernel.Memset(physToVirtFn(frame), 0, mm.PageSize)
	return frame, nil
}

// mapPage establishes a mapping between virtAddr and frame using the supplied
// leaf flags. Missing intermediate tables are allocated and cleared. If
// replace is false and the leaf entry is already present the call fails
// with ErrAlreadyMapped; otherwise the previously mapped frame (if any) is
// returned.
func (as *AddressSpace) mapPage(virtAddr mm.VirtAddr, frame mm.PhysAddr, flags PageTableEntryFlag, replace bool) (mm.PhysAddr, *kernel.Error) {
	var (
		err       *kernel.Error
		prevFrame mm.PhysAddr
	)

	tableFlags := FlagPresent | FlagRW
	if as.kind == KindUser {
		tableFlags |= FlagUserAccessible
	}

	walk(as.root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flush its TLB entry
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				prevFrame = pte.Frame()
				if !replace {
					log.Warnf("refusing to remap 0x%16x (currently backed by frame 0x%x)", uintptr(virtAddr), uintptr(prevFrame))
					err = ErrAlreadyMapped
					return false
				}
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(uintptr(virtAddr))
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.PhysAddr
			if newTableFrame, err = allocZeroedFrame(); err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(tableFlags)
		}

		return true
	})

	return prevFrame, err
}

// leafEntry returns the last level page table entry for virtAddr or
// ErrInvalidMapping if any table along the way is not present.
func (as *AddressSpace) leafEntry(virtAddr mm.VirtAddr) (*pageTableEntry, *kernel.Error) {
	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	walk(as.root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		if pteLevel < pageLevels-1 && pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}

// unmapPage removes the leaf mapping for virtAddr.
func (as *AddressSpace) unmapPage(virtAddr mm.VirtAddr) *kernel.Error {
	pte, err := as.leafEntry(virtAddr)
	if err != nil {
		return err
	}

	pte.ClearFlags(FlagPresent)
	flushTLBEntryFn(uintptr(virtAddr))
	return nil
}

// MapPhysicalPage establishes a mapping between the page containing virtAddr
// and the physical frame containing physAddr. The leaf entry is marked as
// present and writable, and also user-accessible for user address spaces.
// Missing intermediate tables are allocated using mm.AllocFrame.
//
// Mapping a page that is already present fails with ErrAlreadyMapped; use
// RemapPhysicalPage to replace an existing mapping.
func (as *AddressSpace) MapPhysicalPage(virtAddr mm.VirtAddr, physAddr mm.PhysAddr) *kernel.Error {
	_, err := as.mapPage(virtAddr.PageDown(), physAddr.PageDown(), as.defaultLeafFlags(), false)
	return err
}

// RemapPhysicalPage points an existing mapping at a different physical frame
// keeping its access flags and returns the frame that previously backed it.
func (as *AddressSpace) RemapPhysicalPage(virtAddr mm.VirtAddr, physAddr mm.PhysAddr) (mm.PhysAddr, *kernel.Error) {
	pte, err := as.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}

	prevFrame := pte.Frame()
	pte.SetFrame(physAddr.PageDown())
	flushTLBEntryFn(uintptr(virtAddr.PageDown()))
	return prevFrame, nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virtAddr mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	pte, err := as.leafEntry(virtAddr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Add(virtAddr.PageOffset()), nil
}

func (as *AddressSpace) defaultLeafFlags() PageTableEntryFlag {
	if as.kind == KindUser {
		return FlagPresent | FlagRW | FlagUserAccessible
	}
	return FlagPresent | FlagRW
}
