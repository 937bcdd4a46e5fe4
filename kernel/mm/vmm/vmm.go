// Package vmm implements four-level amd64 page tables, address spaces and the
// regions mapped inside them.
package vmm

import (
	"kcore/kernel"
	"kcore/kernel/cpu"
	"kcore/kernel/kfmt"
	"kcore/kernel/mm"
	"unsafe"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	flushTLBEntryFn     = cpu.FlushTLBEntry
	switchPDTFn         = cpu.SwitchPDT
	readCR2Fn           = cpu.ReadCR2
	disableInterruptsFn = cpu.DisableInterruptsSave
	enableInterruptsFn  = cpu.EnableInterrupts

	// physToVirtFn returns the kernel-visible address of a physical byte.
	physToVirtFn = func(physAddr mm.PhysAddr) uintptr {
		return uintptr(physAddr) + physMapOffset
	}

	// physMapOffset is zero while physical memory is accessed through the
	// bootstrap identity mapping and PhysMapBase afterwards.
	physMapOffset uintptr

	// kernelSpace is the address space shared by all kernel tasks. It
	// points to kernelSpaceStorage once initialized; the storage is static
	// so that InitKernelSpace does not depend on the Go allocator.
	kernelSpace        *AddressSpace
	kernelSpaceStorage AddressSpace

	// kernelRegionStorage backs the kernel space region set. Kernel regions
	// are inserted while the kernel space lock is held, and growing a heap
	// backed set at that point could re-enter WithKernelSpace through the
	// Go runtime memory hooks.
	kernelRegionStorage [maxKernelRegions]Region

	// activeSpace tracks the space most recently installed via Activate.
	activeSpace *AddressSpace

	log = kfmt.Logger{Module: "vmm"}

	errKernelSpaceExists = &kernel.Error{Module: "vmm", Message: "kernel address space already initialized"}
	errNoKernelSpace     = &kernel.Error{Module: "vmm", Message: "kernel address space not initialized"}
)

// KernelSegment describes one section of the loaded kernel image.
type KernelSegment struct {
	// VirtAddr is the link-time address of the segment.
	VirtAddr mm.VirtAddr

	// PhysAddr is the load address of the segment.
	PhysAddr mm.PhysAddr

	Size  uintptr
	Flags RegionFlag
}

// KernelLayout describes what InitKernelSpace maps into a fresh kernel
// address space.
type KernelLayout struct {
	// IdentityWindow is the number of bytes of low physical memory that
	// are identity mapped.
	IdentityWindow uintptr

	Segments []KernelSegment
}

// InitKernelSpace creates the kernel address space: it maps the bootstrap
// window both at its identity address and at PhysMapBase, maps each kernel
// segment at its link address and populates every kernel-half top-level
// entry so that user spaces created later observe all future kernel
// mappings. It may only be called once.
func InitKernelSpace(layout KernelLayout) (*AddressSpace, *kernel.Error) {
	if kernelSpace != nil {
		return nil, errKernelSpaceExists
	}

	as := &kernelSpaceStorage
	err := as.init(KindKernel)
	if err != nil {
		return nil, err
	}
	as.regions.useStorage(kernelRegionStorage[:])

	if layout.IdentityWindow != 0 {
		if err = as.MapRegion(0, 0, layout.IdentityWindow, RegionReadable|RegionWritable); err != nil {
			return nil, err
		}
		if err = as.MapRegion(mm.VirtAddr(PhysMapBase), 0, layout.IdentityWindow, RegionReadable|RegionWritable); err != nil {
			return nil, err
		}
	}

	for _, seg := range layout.Segments {
		if err = as.MapRegion(seg.VirtAddr.PageDown(), seg.PhysAddr.PageDown(), seg.Size+seg.VirtAddr.PageOffset(), seg.Flags); err != nil {
			log.Errorf("unable to map kernel segment at 0x%16x: %s", uintptr(seg.VirtAddr), err.Message)
			return nil, err
		}
	}

	if err = as.populateKernelHalf(); err != nil {
		return nil, err
	}

	log.Printf("kernel space ready: root=0x%x, %d regions", uintptr(as.root), as.regions.Len())
	kernelSpace = as
	return as, nil
}

// EnablePhysMap switches physical memory accesses from the bootstrap
// identity mapping to the PhysMapBase mapping. It must be called once the
// kernel space is active and before any user space is activated.
func EnablePhysMap() {
	physMapOffset = PhysMapBase
}

// KernelSpace returns the shared kernel address space or nil if
// InitKernelSpace has not been called yet.
func KernelSpace() *AddressSpace {
	return kernelSpace
}

// WithKernelSpace runs fn with exclusive access to the kernel address space.
// Interrupts stay disabled on the calling processor while fn runs and are
// re-enabled afterwards only if they were enabled on entry.
func WithKernelSpace(fn func(*AddressSpace) *kernel.Error) *kernel.Error {
	if kernelSpace == nil {
		return errNoKernelSpace
	}
	return kernelSpace.WithLocked(fn)
}

// ActiveSpace returns the space most recently installed via Activate.
func ActiveSpace() *AddressSpace {
	return activeSpace
}

// unsafePointer returns a pointer to the byte at offset in buf.
func unsafePointer(buf []byte, offset uintptr) unsafe.Pointer {
	return unsafe.Pointer(&buf[offset])
}
