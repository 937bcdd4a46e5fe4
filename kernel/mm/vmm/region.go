package vmm

import (
	"kcore/kernel"
	"kcore/kernel/mm"

	"golang.org/x/exp/slices"
)

var (
	// ErrRegionOverlap is returned when a region would share at least one
	// page with a region already present in the same address space.
	ErrRegionOverlap = &kernel.Error{Module: "vmm", Message: "region overlaps an existing region"}

	errBadRegion      = &kernel.Error{Module: "vmm", Message: "region base and length must be page-aligned and length must be positive"}
	errTooManyRegions = &kernel.Error{Module: "vmm", Message: "region storage exhausted"}
)

// RegionFlag describes the access rights of a Region.
type RegionFlag uint8

const (
	// RegionReadable allows loads from the region.
	RegionReadable RegionFlag = 1 << iota

	// RegionWritable allows stores to the region.
	RegionWritable

	// RegionExecutable allows instruction fetches from the region.
	RegionExecutable

	// RegionUser allows user-mode access to the region.
	RegionUser
)

// Region is the half-open virtual range [Base, Base+Length).
type Region struct {
	Base   mm.VirtAddr
	Length uintptr
	Flags  RegionFlag
}

// End returns the first address past the region.
func (r Region) End() mm.VirtAddr {
	return r.Base.Add(r.Length)
}

// Contains returns true if virtAddr falls inside the region.
func (r Region) Contains(virtAddr mm.VirtAddr) bool {
	return !virtAddr.Less(r.Base) && virtAddr.Less(r.End())
}

// PageCount returns the number of pages spanned by the region.
func (r Region) PageCount() uintptr {
	return r.Length >> mm.PageShift
}

// entryFlags returns the page table flags used for leaf entries that back
// this region.
func (r Region) entryFlags() PageTableEntryFlag {
	flags := FlagPresent
	if r.Flags&RegionWritable != 0 {
		flags |= FlagRW
	}
	if r.Flags&RegionUser != 0 {
		flags |= FlagUserAccessible
	}
	if r.Flags&RegionExecutable == 0 {
		flags |= FlagNoExecute
	}
	return flags
}

// compareRegionToAddr orders a region relative to a single address: a region
// that contains the address compares equal to it.
func compareRegionToAddr(r Region, virtAddr mm.VirtAddr) int {
	switch {
	case virtAddr.Less(r.Base):
		return 1
	case !virtAddr.Less(r.End()):
		return -1
	default:
		return 0
	}
}

// compareRegionBase orders a region by its base address only.
func compareRegionBase(r Region, base mm.VirtAddr) int {
	switch {
	case r.Base.Less(base):
		return -1
	case base.Less(r.Base):
		return 1
	default:
		return 0
	}
}

// inlineRegions is the number of regions a RegionSet stores before it needs
// the Go allocator. The kernel space inserts its boot regions before the
// allocator is initialized.
const inlineRegions = 32

// RegionSet keeps a collection of non-overlapping regions sorted by base
// address. The zero value is an empty set. A RegionSet must not be copied
// after the first Insert.
type RegionSet struct {
	regions []Region
	inline  [inlineRegions]Region

	// fixed is set when the set is bound to caller supplied storage and
	// must never grow through the Go allocator.
	fixed bool
}

// useStorage binds an empty set to buf. Once bound, Insert never allocates
// and fails with errTooManyRegions when buf is full.
func (s *RegionSet) useStorage(buf []Region) {
	s.regions = buf[:0]
	s.fixed = true
}

// Len returns the number of regions in the set.
func (s *RegionSet) Len() int {
	return len(s.regions)
}

// Find returns the region that contains virtAddr.
func (s *RegionSet) Find(virtAddr mm.VirtAddr) (Region, bool) {
	index, found := slices.BinarySearchFunc(s.regions, virtAddr, compareRegionToAddr)
	if !found {
		return Region{}, false
	}
	return s.regions[index], true
}

// Insert adds r to the set keeping it sorted. It fails with ErrRegionOverlap
// if r shares any address with a region already in the set.
func (s *RegionSet) Insert(r Region) *kernel.Error {
	// regions may not wrap past the top of the address space
	if r.Length == 0 || !r.Base.PageAligned() || r.Length&(mm.PageSize-1) != 0 || r.End() <= r.Base {
		return errBadRegion
	}

	index, found := slices.BinarySearchFunc(s.regions, r.Base, compareRegionBase)
	if found ||
		(index > 0 && r.Base.Less(s.regions[index-1].End())) ||
		(index < len(s.regions) && s.regions[index].Base.Less(r.End())) {
		return ErrRegionOverlap
	}

	if s.regions == nil {
		s.regions = s.inline[:0]
	}
	if s.fixed && len(s.regions) == cap(s.regions) {
		return errTooManyRegions
	}
	s.regions = slices.Insert(s.regions, index, r)
	return nil
}

// Remove deletes the region that starts at base. It returns false if no
// such region exists.
func (s *RegionSet) Remove(base mm.VirtAddr) (Region, bool) {
	index, found := slices.BinarySearchFunc(s.regions, base, compareRegionBase)
	if !found {
		return Region{}, false
	}

	r := s.regions[index]
	s.regions = slices.Delete(s.regions, index, index+1)
	return r, true
}

// Last returns the region with the highest base address.
func (s *RegionSet) Last() (Region, bool) {
	if len(s.regions) == 0 {
		return Region{}, false
	}
	return s.regions[len(s.regions)-1], true
}

// Visit invokes visitor for each region in ascending base order until
// visitor returns false.
func (s *RegionSet) Visit(visitor func(Region) bool) {
	for _, r := range s.regions {
		if !visitor(r) {
			return
		}
	}
}
