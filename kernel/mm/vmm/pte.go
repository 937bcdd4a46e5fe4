package vmm

import (
	"kcore/kernel"
	"kcore/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

// pageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The actual format
// of the entry and flags is architecture-dependent.
type pageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (pageTableEntry)(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte pageTableEntry) Frame() mm.PhysAddr {
	return mm.PhysAddr(uint64(pte) & ptePhysPageMask)
}

// SetFrame updates the page table entry to point the the given physical frame.
// Bits of frame below the page boundary are discarded.
func (pte *pageTableEntry) SetFrame(frame mm.PhysAddr) {
	*pte = (pageTableEntry)((uint64(*pte) &^ ptePhysPageMask) | (uint64(frame) & ptePhysPageMask))
}

// EntryFields is the unpacked form of a page table entry.
type EntryFields struct {
	// Frame is the page-aligned physical address the entry points to.
	Frame mm.PhysAddr

	Present      bool
	Writable     bool
	User         bool
	WriteThrough bool
	DoNotCache   bool
	Accessed     bool
	Dirty        bool
	HugePage     bool
	Global       bool
	NoExecute    bool
}

// entryFlagFields pairs each defined flag with its EntryFields member.
var entryFlagFields = [...]struct {
	flag  PageTableEntryFlag
	field func(*EntryFields) *bool
}{
	{FlagPresent, func(f *EntryFields) *bool { return &f.Present }},
	{FlagRW, func(f *EntryFields) *bool { return &f.Writable }},
	{FlagUserAccessible, func(f *EntryFields) *bool { return &f.User }},
	{FlagWriteThroughCaching, func(f *EntryFields) *bool { return &f.WriteThrough }},
	{FlagDoNotCache, func(f *EntryFields) *bool { return &f.DoNotCache }},
	{FlagAccessed, func(f *EntryFields) *bool { return &f.Accessed }},
	{FlagDirty, func(f *EntryFields) *bool { return &f.Dirty }},
	{FlagHugePage, func(f *EntryFields) *bool { return &f.HugePage }},
	{FlagGlobal, func(f *EntryFields) *bool { return &f.Global }},
	{FlagNoExecute, func(f *EntryFields) *bool { return &f.NoExecute }},
}

// EncodeEntry packs fields into the 8-byte hardware page table entry format.
func EncodeEntry(fields EntryFields) uint64 {
	var pte pageTableEntry
	pte.SetFrame(fields.Frame)
	for _, ff := range entryFlagFields {
		if *ff.field(&fields) {
			pte.SetFlags(ff.flag)
		}
	}
	return uint64(pte)
}

// DecodeEntry unpacks a hardware page table entry. Reserved and
// software-available bits are ignored.
func DecodeEntry(raw uint64) EntryFields {
	var (
		pte    = pageTableEntry(raw)
		fields = EntryFields{Frame: pte.Frame()}
	)
	for _, ff := range entryFlagFields {
		*ff.field(&fields) = pte.HasFlags(ff.flag)
	}
	return fields
}

// Indices holds the per-level table indices and the in-page offset that a
// virtual address selects during a page table walk.
type Indices struct {
	L4, L3, L2, L1 uint16
	Offset         uint16
}

// Decompose splits a virtual address into its page table indices.
func Decompose(virtAddr mm.VirtAddr) Indices {
	var idx [pageLevels]uint16
	for level := 0; level < pageLevels; level++ {
		idx[level] = tableIndex(uintptr(virtAddr), level)
	}

	return Indices{
		L4:     idx[0],
		L3:     idx[1],
		L2:     idx[2],
		L1:     idx[3],
		Offset: uint16(virtAddr.PageOffset()),
	}
}

// Recompose is the inverse of Decompose. Indices and offset are truncated to
// their field widths and the result is sign-extended into a canonical
// address.
func Recompose(indices Indices) mm.VirtAddr {
	var (
		idx  = [pageLevels]uint16{indices.L4, indices.L3, indices.L2, indices.L1}
		addr = uintptr(indices.Offset) & (mm.PageSize - 1)
	)

	for level := 0; level < pageLevels; level++ {
		addr |= (uintptr(idx[level]) & ((1 << pageLevelBits[level]) - 1)) << pageLevelShifts[level]
	}

	if addr&(1<<canonicalSignBit) != 0 {
		addr |= canonicalHighBits
	}

	return mm.VirtAddr(addr)
}

// tableIndex returns the index into the page table at the given level that
// virtAddr selects.
func tableIndex(virtAddr uintptr, level int) uint16 {
	return uint16((virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1))
}
