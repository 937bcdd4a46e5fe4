package kmain

import (
	"bytes"
	"kcore/kernel/exec"
	"kcore/kernel/kfmt"
	"kcore/kernel/mm/vmm"
	"kcore/kernel/multiboot"
	"reflect"
	"strings"
	"testing"
)

type fakeSection struct {
	flags   multiboot.ElfSectionFlag
	address uintptr
	size    uint64
}

func mockBootInfo(regions []multiboot.MemoryMapEntry, modules []multiboot.Module, sections []fakeSection) func() {
	origMemRegions := visitMemRegionsFn
	origModules := visitModulesFn
	origSections := visitElfSectionsFn

	visitMemRegionsFn = func(visitor multiboot.MemRegionVisitor) {
		for i := range regions {
			if !visitor(&regions[i]) {
				return
			}
		}
	}
	visitModulesFn = func(visitor multiboot.ModuleVisitor) {
		for _, mod := range modules {
			if !visitor(mod) {
				return
			}
		}
	}
	visitElfSectionsFn = func(visitor multiboot.ElfSectionVisitor) {
		for _, sec := range sections {
			visitor("", sec.flags, sec.address, sec.size)
		}
	}

	return func() {
		visitMemRegionsFn = origMemRegions
		visitModulesFn = origModules
		visitElfSectionsFn = origSections
	}
}

func TestBootReservedEnd(t *testing.T) {
	specs := []struct {
		modules []multiboot.Module
		exp     uintptr
	}{
		{nil, 0x200000},
		{[]multiboot.Module{{Start: 0x100000, End: 0x180000}}, 0x200000},
		{[]multiboot.Module{{Start: 0x200000, End: 0x280000}, {Start: 0x280000, End: 0x2c0123}}, 0x2c0123},
	}

	for specIndex, spec := range specs {
		restore := mockBootInfo(nil, spec.modules, nil)
		if got := bootReservedEnd(0x200000); got != spec.exp {
			t.Errorf("[spec %d] expected reserved end 0x%x; got 0x%x", specIndex, spec.exp, got)
		}
		restore()
	}
}

func TestUsableMemory(t *testing.T) {
	specs := []struct {
		regions  []multiboot.MemoryMapEntry
		expStart uintptr
		expEnd   uintptr
		expOK    bool
	}{
		{
			nil,
			0, 0, false,
		},
		{
			[]multiboot.MemoryMapEntry{
				{PhysAddress: 0, Length: 0x9fc00, Type: multiboot.MemAvailable},
				{PhysAddress: 0xf0000, Length: 0x10000, Type: multiboot.MemReserved},
				{PhysAddress: 0x100000, Length: 0x7ee0000, Type: multiboot.MemAvailable},
			},
			0x100000, 0x7fe0000, true,
		},
		{
			// kernel region is smaller than another available region
			[]multiboot.MemoryMapEntry{
				{PhysAddress: 0x100000, Length: 0x400000, Type: multiboot.MemAvailable},
				{PhysAddress: 0x100000000, Length: 0x40000000, Type: multiboot.MemAvailable},
			},
			0x100000, 0x500000, true,
		},
		{
			// no region contains the kernel; pick the largest one
			[]multiboot.MemoryMapEntry{
				{PhysAddress: 0, Length: 0x9fc00, Type: multiboot.MemAvailable},
				{PhysAddress: 0x1000000, Length: 0x1000000, Type: multiboot.MemAvailable},
				{PhysAddress: 0x3000000, Length: 0x800000, Type: multiboot.MemAvailable},
				{PhysAddress: 0x100000, Length: 0x800000, Type: multiboot.MemAcpiReclaimable},
			},
			0x1000000, 0x2000000, true,
		},
	}

	for specIndex, spec := range specs {
		restore := mockBootInfo(spec.regions, nil, nil)
		start, end, ok := usableMemory(0x100000)
		restore()

		if start != spec.expStart || end != spec.expEnd || ok != spec.expOK {
			t.Errorf("[spec %d] expected (0x%x, 0x%x, %t); got (0x%x, 0x%x, %t)", specIndex, spec.expStart, spec.expEnd, spec.expOK, start, end, ok)
		}
	}
}

func TestKernelLayout(t *testing.T) {
	const offset = 0xffffffff80000000

	alloc := multiboot.ElfSectionAllocated
	sections := []fakeSection{
		// .data (listed before .text to exercise sorting)
		{alloc | multiboot.ElfSectionWritable, offset + 0x105000, 0x800},
		// .text spans two pages
		{alloc | multiboot.ElfSectionExecutable, offset + 0x100000, 0x1100},
		// .rodata shares the second .text page
		{alloc, offset + 0x101800, 0x2000},
		// .rodata2 is adjacent to the merged .text range but its flags differ
		{alloc, offset + 0x104000, 0x10},
		// .bss shares the .data page
		{alloc | multiboot.ElfSectionWritable, offset + 0x105800, 0x3000},
		// .data2 is adjacent to .bss with identical flags
		{alloc | multiboot.ElfSectionWritable, offset + 0x109000, 0x1000},
		// not allocated
		{0, offset + 0x200000, 0x1000},
		// linked below the kernel offset
		{alloc, 0x100000, 0x1000},
	}

	restore := mockBootInfo(nil, nil, sections)
	defer restore()

	layout, err := kernelLayout(offset, 0x8000000)
	if err != nil {
		t.Fatal(err)
	}

	exp := vmm.KernelLayout{
		IdentityWindow: 0x8000000,
		Segments: []vmm.KernelSegment{
			{
				VirtAddr: offset + 0x100000,
				PhysAddr: 0x100000,
				Size:     0x4000,
				Flags:    vmm.RegionReadable | vmm.RegionExecutable,
			},
			{
				VirtAddr: offset + 0x104000,
				PhysAddr: 0x104000,
				Size:     0x1000,
				Flags:    vmm.RegionReadable,
			},
			{
				VirtAddr: offset + 0x105000,
				PhysAddr: 0x105000,
				Size:     0x5000,
				Flags:    vmm.RegionReadable | vmm.RegionWritable,
			},
		},
	}

	if !reflect.DeepEqual(layout, exp) {
		t.Fatalf("expected layout:\n%+v\ngot:\n%+v", exp, layout)
	}
}

func TestKernelLayoutTooManySections(t *testing.T) {
	sections := make([]fakeSection, maxKernelSegments+1)
	for i := range sections {
		sections[i] = fakeSection{multiboot.ElfSectionAllocated, uintptr(i) * 0x10000, 0x1000}
	}

	restore := mockBootInfo(nil, nil, sections)
	defer restore()

	if _, err := kernelLayout(0, 0); err != errTooManySections {
		t.Fatalf("expected to get errTooManySections; got %v", err)
	}
}

func TestLoadInitrd(t *testing.T) {
	defer func() {
		physSliceFn = physMapSlice
		initrd = exec.StaticFS{}
		kfmt.SetOutputSink(nil)
	}()

	backing := map[uintptr][]byte{
		0x400000: []byte("init image"),
		0x500000: []byte("motd"),
	}
	physSliceFn = func(start, end uintptr) []byte {
		return backing[start][:end-start]
	}

	modules := []multiboot.Module{
		{Start: 0x400000, End: 0x40000a, CmdLine: "/sbin/init  verbose"},
		{Start: 0x500000, End: 0x500004, CmdLine: "/etc/motd"},
		{Start: 0x600000, End: 0x600000, CmdLine: "  "},
		{Start: 0x500000, End: 0x500004, CmdLine: "relative/path"},
	}

	restore := mockBootInfo(nil, modules, nil)
	defer restore()

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	fs := loadInitrd()

	for path, exp := range map[string]string{"/sbin/init": "init image", "/etc/motd": "motd"} {
		data, err := fs.Lookup(path)
		if err != nil {
			t.Errorf("lookup %s: %v", path, err)
			continue
		}
		if string(data) != exp {
			t.Errorf("expected %s to contain %q; got %q", path, exp, data)
		}
	}

	for _, exp := range []string{
		"[kmain] boot module /sbin/init: 10 bytes",
		"[kmain] warning: skipping boot module at 0x600000 without a path",
		"[kmain] warning: unable to add boot module relative/path",
	} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected output to contain %q; got %q", exp, buf.String())
		}
	}
}
