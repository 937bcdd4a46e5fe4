// Package multiboot decodes the boot information block that a multiboot2
// compliant loader passes to the kernel.
package multiboot

import "unsafe"

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// tagHeader precedes each tag. Tags start at 8-byte aligned addresses and
// size covers the header but not the trailing padding.
type tagHeader struct {
	tagType tagType
	size    uint32
}

// mmapHeader precedes the entries of the memory map tag.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// moduleHeader precedes the NULL-terminated command line of a module tag.
type moduleHeader struct {
	start uint32
	end   uint32
}

// elfSectionsHeader precedes the section header table of the ELF symbols tag.
type elfSectionsHeader struct {
	numSections uint32
	sectionSize uint32
	strtabIndex uint32
}

type elfSection64 struct {
	nameIndex   uint32
	sectionType uint32
	flags       uint64
	address     uint64
	offset      uint64
	size        uint64
	link        uint32
	info        uint32
	addrAlign   uint64
	entSize     uint64
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a physical memory region reported by the loader.
type MemoryMapEntry struct {
	PhysAddress uint64
	Length      uint64
	Type        MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region. It
// returns false to stop the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// Module describes a file that the loader placed in physical memory along
// with the kernel, such as an initial ramdisk entry.
type Module struct {
	// Start and End delimit the module contents; End is exclusive.
	Start, End uintptr

	// CmdLine is the string the loader associated with the module.
	CmdLine string
}

// ModuleVisitor is invoked by VisitModules for each module. It returns false
// to stop the scan.
type ModuleVisitor func(Module) bool

// ElfSectionFlag defines an OR-able flag associated with a kernel section.
type ElfSectionFlag uint32

const (
	// ElfSectionWritable marks the section as writable.
	ElfSectionWritable ElfSectionFlag = 1 << iota

	// ElfSectionAllocated means that the section occupies memory at run
	// time.
	ElfSectionAllocated

	// ElfSectionExecutable marks the section as executable.
	ElfSectionExecutable
)

// ElfSectionVisitor is invoked by VisitElfSections for each non-empty
// section of the loaded kernel image.
type ElfSectionVisitor func(name string, flags ElfSectionFlag, address uintptr, size uint64)

var infoData uintptr

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
// Entries with an unknown type are reported as MemReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += unsafe.Sizeof(mmapHeader{})

	for ; curPtr < endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		entry := (*MemoryMapEntry)(unsafe.Pointer(curPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// VisitModules invokes visitor for each boot module in the order the loader
// listed them.
func VisitModules(visitor ModuleVisitor) {
	visitTags(tagModules, func(curPtr uintptr, size uint32) bool {
		hdr := (*moduleHeader)(unsafe.Pointer(curPtr))
		hdrSize := uint32(unsafe.Sizeof(moduleHeader{}))

		var cmdLine string
		if size > hdrSize {
			cmdLine = cString(curPtr+uintptr(hdrSize), size-hdrSize)
		}

		return visitor(Module{
			Start:   uintptr(hdr.start),
			End:     uintptr(hdr.end),
			CmdLine: cmdLine,
		})
	})
}

// CmdLine returns the kernel command line or an empty string if the loader
// did not supply one.
func CmdLine() string {
	curPtr, size := findTagByType(tagBootCmdLine)
	if size == 0 {
		return ""
	}

	return cString(curPtr, size)
}

// VisitElfSections invokes visitor for each ELF section that belongs to the
// loaded kernel image.
func VisitElfSections(visitor ElfSectionVisitor) {
	curPtr, size := findTagByType(tagElfSymbols)
	if size == 0 {
		return
	}

	hdr := (*elfSectionsHeader)(unsafe.Pointer(curPtr))
	tablePtr := curPtr + unsafe.Sizeof(elfSectionsHeader{})
	strTable := (*elfSection64)(unsafe.Pointer(tablePtr + uintptr(hdr.strtabIndex*hdr.sectionSize)))

	for secIndex := uint32(0); secIndex < hdr.numSections; secIndex++ {
		sec := (*elfSection64)(unsafe.Pointer(tablePtr + uintptr(secIndex*hdr.sectionSize)))
		if sec.size == 0 {
			continue
		}

		namePtr := uintptr(strTable.address) + uintptr(sec.nameIndex)
		name := cString(namePtr, uint32(strTable.size-uint64(sec.nameIndex)))

		visitor(name, ElfSectionFlag(sec.flags), uintptr(sec.address), sec.size)
	}
}

// cString returns the NULL-terminated string stored in the maxLen bytes at
// ptr. The returned string aliases the boot information block.
func cString(ptr uintptr, maxLen uint32) string {
	var n uint32
	for ; n < maxLen && *(*byte)(unsafe.Pointer(ptr + uintptr(n))) != 0; n++ {
	}

	if n == 0 {
		return ""
	}

	return unsafe.String((*byte)(unsafe.Pointer(ptr)), int(n))
}

// findTagByType returns a pointer to the contents of the first tag of the
// requested type and the content length excluding the tag header. If the tag
// is not present it returns (0, 0).
func findTagByType(tagType tagType) (uintptr, uint32) {
	var (
		foundPtr  uintptr
		foundSize uint32
	)

	visitTags(tagType, func(curPtr uintptr, size uint32) bool {
		foundPtr, foundSize = curPtr, size
		return false
	})

	return foundPtr, foundSize
}

// visitTags invokes fn with the content pointer and length of each tag of
// the requested type until fn returns false.
func visitTags(tagType tagType, fn func(uintptr, uint32) bool) {
	hdrSize := unsafe.Sizeof(tagHeader{})

	curPtr := infoData + 8
	for ptrTagHeader := (*tagHeader)(unsafe.Pointer(curPtr)); ptrTagHeader.tagType != tagMbSectionEnd; ptrTagHeader = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if ptrTagHeader.tagType == tagType {
			if !fn(curPtr+hdrSize, ptrTagHeader.size-uint32(hdrSize)) {
				return
			}
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += uintptr((ptrTagHeader.size + 7) &^ 7)
	}
}
