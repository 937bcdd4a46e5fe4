package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// entriesPerTable is the number of entries in a table at any page level.
	entriesPerTable = 512

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uint64(0x000ffffffffff000)

	// canonicalSignBit is the most significant implemented virtual address
	// bit. Bits 48-63 of a canonical address are copies of it.
	canonicalSignBit = 47

	// canonicalHighBits selects bits 48-63 of a virtual address.
	canonicalHighBits = ^uintptr(1<<(canonicalSignBit+1) - 1)

	// maxKernelRegions is the capacity of the kernel space region set.
	maxKernelRegions = 4096

	// guardGapPages is the number of unmapped pages that AllocateRegion
	// leaves between the end of the last region and the next one.
	guardGapPages = 8192

	// KernelHeapStart is the base of the first region allocated by
	// AllocateRegion in the kernel address space.
	KernelHeapStart = uintptr(0xffffc00000000000)

	// PhysMapBase is the kernel address where the bootstrap window of
	// physical memory is mapped once EnablePhysMap has been called.
	PhysMapBase = uintptr(0xffff800000000000)

	// kernelHalfFirstEntry is the first top-level table entry that maps the
	// kernel half of the address space. All address spaces share the
	// tables these entries point to.
	kernelHalfFirstEntry = entriesPerTable / 2

	// UserHeapStart is the base of the first region allocated by
	// AllocateRegion in a user address space.
	UserHeapStart = uintptr(0x0000100000000000)
)

var (
	// pageLevelBits defines the number of virtual address bits that correspond to each
	// page level. For the amd64 architecture each PageLevel uses 9 bits which amounts to
	// 512 entries for each page level.
	pageLevelBits = [pageLevels]uint8{
		9,
		9,
		9,
		9,
	}

	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified. Leaf only.
	FlagDirty

	// FlagHugePage is set if when using 2Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)
