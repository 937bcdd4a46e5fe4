package kmain

import (
	"kcore/kernel"
	"kcore/kernel/exec"
	"kcore/kernel/mm"
	"kcore/kernel/mm/vmm"
	"kcore/kernel/multiboot"
	"strings"
	"unsafe"

	"golang.org/x/exp/slices"
)

const (
	// bootWindowAlign is the granularity of the identity-mapped bootstrap
	// window.
	bootWindowAlign = uintptr(2 << 20)

	// maxKernelSegments bounds the number of allocated kernel sections.
	maxKernelSegments = 16
)

var (
	// segmentBuf holds the kernel segments; the layout is computed before
	// the Go allocator is available.
	segmentBuf [maxKernelSegments]vmm.KernelSegment

	// initrd serves the boot modules to the executable loader.
	initrd exec.StaticFS

	errTooManySections = &kernel.Error{Module: "kmain", Message: "kernel image has too many allocated sections"}
)

// bootReservedEnd returns the end of the physical range that holds the
// kernel image and every boot module loaded after it.
func bootReservedEnd(kernelEnd uintptr) uintptr {
	end := kernelEnd
	visitModulesFn(func(mod multiboot.Module) bool {
		end = max(end, mod.End)
		return true
	})
	return end
}

// usableMemory returns the available memory region that contains the kernel
// image or, if no such region exists, the largest available region.
func usableMemory(kernelStart uintptr) (start, end uintptr, ok bool) {
	var bestLen uint64

	visitMemRegionsFn(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable {
			return true
		}

		regionEnd := entry.PhysAddress + entry.Length
		if uint64(kernelStart) >= entry.PhysAddress && uint64(kernelStart) < regionEnd {
			start, end, ok = uintptr(entry.PhysAddress), uintptr(regionEnd), true
			return false
		}

		if entry.Length > bestLen {
			bestLen = entry.Length
			start, end, ok = uintptr(entry.PhysAddress), uintptr(regionEnd), true
		}
		return true
	})

	return start, end, ok
}

// sectionRegionFlags maps kernel ELF section flags to region flags.
func sectionRegionFlags(flags multiboot.ElfSectionFlag) vmm.RegionFlag {
	regionFlags := vmm.RegionReadable
	if flags&multiboot.ElfSectionWritable != 0 {
		regionFlags |= vmm.RegionWritable
	}
	if flags&multiboot.ElfSectionExecutable != 0 {
		regionFlags |= vmm.RegionExecutable
	}
	return regionFlags
}

// kernelLayout builds the layout of the kernel space from the allocated
// sections of the kernel image that are linked at or above
// kernelPageOffset. Sections are widened to page boundaries; sections that
// share a page are merged with the union of their flags and adjacent
// sections with identical flags are coalesced.
func kernelLayout(kernelPageOffset, identityWindow uintptr) (vmm.KernelLayout, *kernel.Error) {
	var (
		count int
		err   *kernel.Error
	)

	visitElfSectionsFn(func(_ string, flags multiboot.ElfSectionFlag, address uintptr, size uint64) {
		if err != nil || flags&multiboot.ElfSectionAllocated == 0 || address < kernelPageOffset {
			return
		}

		if count == maxKernelSegments {
			err = errTooManySections
			return
		}

		start := mm.VirtAddr(address).PageDown()
		segmentBuf[count] = vmm.KernelSegment{
			VirtAddr: start,
			PhysAddr: mm.PhysAddr(uintptr(start) - kernelPageOffset),
			Size:     mm.PageAlignUp(address+uintptr(size)) - uintptr(start),
			Flags:    sectionRegionFlags(flags),
		}
		count++
	})

	if err != nil {
		return vmm.KernelLayout{}, err
	}

	segments := segmentBuf[:count]
	slices.SortFunc(segments, func(a, b vmm.KernelSegment) int {
		switch {
		case a.VirtAddr < b.VirtAddr:
			return -1
		case a.VirtAddr > b.VirtAddr:
			return 1
		default:
			return 0
		}
	})

	merged := 0
	for _, seg := range segments {
		if merged > 0 {
			last := &segments[merged-1]
			lastEnd := last.VirtAddr.Add(last.Size)
			segEnd := seg.VirtAddr.Add(seg.Size)

			if seg.VirtAddr.Less(lastEnd) || (seg.VirtAddr == lastEnd && seg.Flags == last.Flags) {
				last.Size = max(lastEnd, segEnd).Sub(last.VirtAddr)
				last.Flags |= seg.Flags
				continue
			}
		}

		segments[merged] = seg
		merged++
	}

	return vmm.KernelLayout{
		IdentityWindow: identityWindow,
		Segments:       segments[:merged],
	}, nil
}

// physMapSlice returns the bytes of [start, end) through the PhysMapBase
// mapping.
func physMapSlice(start, end uintptr) []byte {
	if end <= start {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(vmm.PhysMapBase+start)), end-start)
}

// loadInitrd adds each boot module to the initial ramdisk under the path
// given by the first word of its command line.
func loadInitrd() *exec.StaticFS {
	visitModulesFn(func(mod multiboot.Module) bool {
		fields := strings.Fields(mod.CmdLine)
		if len(fields) == 0 {
			log.Warnf("skipping boot module at 0x%x without a path", mod.Start)
			return true
		}

		// the command line aliases the boot information block which is
		// not mapped in user spaces.
		path := strings.Clone(fields[0])
		if err := initrd.AddFile(path, physSliceFn(mod.Start, mod.End)); err != nil {
			log.Warnf("unable to add boot module %s: %s", path, err.Message)
			return true
		}

		log.Printf("boot module %s: %d bytes", path, uint64(mod.End-mod.Start))
		return true
	})

	return &initrd
}
