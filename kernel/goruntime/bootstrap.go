// Package goruntime contains code for bootstrapping Go runtime features such
// as the memory allocator.
package goruntime

import (
	"kcore/kernel"
	"kcore/kernel/mm"
	"kcore/kernel/mm/vmm"
	"unsafe"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	kernelSpaceFn   = vmm.KernelSpace
	reserveRegionFn = reserveHeapRegion
	commitRangeFn   = commitHeapRange
	allocRegionFn   = allocHeapRegion
	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit

	// A seed for the pseudo-random number generator used by getRandomData
	prngSeed = 0xdeadc0de

	// monotonic tick count reported by nanotime1 until a clock source
	// is available.
	ticks int64

	errNoKernelSpace = &kernel.Error{Module: "goruntime", Message: "kernel address space not initialized"}
)

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

func reserveHeapRegion(size uintptr) (mm.VirtAddr, *kernel.Error) {
	var base mm.VirtAddr
	err := vmm.WithKernelSpace(func(as *vmm.AddressSpace) *kernel.Error {
		var err *kernel.Error
		base, err = as.ReserveRegion(size, vmm.RegionReadable|vmm.RegionWritable)
		return err
	})
	return base, err
}

func commitHeapRange(virtAddr mm.VirtAddr, size uintptr) *kernel.Error {
	return vmm.WithKernelSpace(func(as *vmm.AddressSpace) *kernel.Error {
		return as.CommitRange(virtAddr, size)
	})
}

func allocHeapRegion(size uintptr) (mm.VirtAddr, *kernel.Error) {
	var base mm.VirtAddr
	err := vmm.WithKernelSpace(func(as *vmm.AddressSpace) *kernel.Error {
		var err *kernel.Error
		base, err = as.AllocateRegion(size)
		return err
	})
	return base, err
}

// sysReserveOS reserves address space in the kernel address space without
// backing it with physical memory.
//
// This function replaces runtime.sysReserveOS and is required for
// initializing the Go allocator.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserveOS(_ unsafe.Pointer, size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	regionStartAddr, err := reserveRegionFn(mm.PageAlignUp(size))
	if err != nil {
		panic(err)
	}

	return unsafe.Pointer(uintptr(regionStartAddr))
}

// sysMapOS backs a range previously returned by sysReserveOS with zeroed
// frames.
//
// This function replaces runtime.sysMapOS and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMapOS(virtAddr unsafe.Pointer, size uintptr) {
	if size == 0 {
		return
	}

	if err := commitRangeFn(mm.VirtAddr(uintptr(virtAddr)), size); err != nil {
		panic(err)
	}
}

// sysAllocOS allocates a zeroed, mapped region large enough to satisfy the
// allocation request and returns a pointer to its start, or nil if the
// request cannot be satisfied.
//
// This function replaces runtime.sysAllocOS and is required for
// initializing the Go allocator.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAllocOS(size uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}

	regionStartAddr, err := allocRegionFn(mm.PageAlignUp(size))
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	return unsafe.Pointer(uintptr(regionStartAddr))
}

// nanotime1 returns a monotonically increasing clock value. It advances by
// one on every call until a clock source is available.
//
// This function replaces runtime.nanotime1 and is invoked by the Go allocator
// when a span allocation is performed.
//
//go:redirect-from runtime.nanotime1
//go:nosplit
func nanotime1() int64 {
	ticks++
	return ticks
}

// getRandomData populates the given slice with random data. The implementation
// is the runtime package reads a random stream from /dev/random but since this
// is not available, we use a prng instead.
//
//go:redirect-from runtime.getRandomData
func getRandomData(r []byte) {
	for i := 0; i < len(r); i++ {
		prngSeed = (prngSeed * 58321) + 11113
		r[i] = byte((prngSeed >> 16) & 255)
	}
}

// Init enables support for various Go runtime features. After a call to init
// the following runtime features become available for use:
//   - heap memory allocation (new, make e.t.c)
//   - map primitives
//   - interfaces
//
// The kernel address space must be initialized before calling Init.
func Init() *kernel.Error {
	if kernelSpaceFn() == nil {
		return errNoKernelSpace
	}

	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var zeroPtr = unsafe.Pointer(uintptr(0))

	sysReserveOS(zeroPtr, 0)
	sysMapOS(zeroPtr, 0)
	sysAllocOS(0)
	getRandomData(nil)
	nanotime1()
}
