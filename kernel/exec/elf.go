package exec

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"kcore/kernel"
	"kcore/kernel/mm"
	"kcore/kernel/mm/vmm"
	"unsafe"
)

const (
	// progHeaderSize is the only program-header entry size accepted for
	// 64-bit images.
	progHeaderSize = uint16(unsafe.Sizeof(elf.Prog64{}))

	fileHeaderSize = int(unsafe.Sizeof(elf.Header64{}))

	// userSpaceLimit is the first address past the canonical lower half.
	userSpaceLimit = uint64(1) << 47
)

var (
	// ErrBadMagic is returned for data that does not start with the ELF
	// identification bytes.
	ErrBadMagic = &kernel.Error{Module: "exec", Message: "bad ELF magic"}

	// ErrBadClass is returned for images that are not 64-bit little-endian
	// x86-64 executables.
	ErrBadClass = &kernel.Error{Module: "exec", Message: "unsupported ELF class, encoding or machine"}

	// ErrBadEntrySize is returned when the declared program-header entry size
	// does not match the 64-bit layout.
	ErrBadEntrySize = &kernel.Error{Module: "exec", Message: "unexpected program header entry size"}

	// ErrTruncated is returned when a header table or segment extends past
	// the end of the image.
	ErrTruncated = &kernel.Error{Module: "exec", Message: "truncated ELF image"}

	errBadSegment = &kernel.Error{Module: "exec", Message: "invalid loadable segment"}
)

// Segment describes a loadable (PT_LOAD) program header.
type Segment struct {
	VirtAddr mm.VirtAddr
	Offset   uint64
	FileSize uint64
	MemSize  uint64
	Flags    elf.ProgFlag
}

// RegionFlags maps the segment permissions to region flags.
func (s Segment) RegionFlags() vmm.RegionFlag {
	var flags vmm.RegionFlag
	if s.Flags&elf.PF_R != 0 {
		flags |= vmm.RegionReadable
	}
	if s.Flags&elf.PF_W != 0 {
		flags |= vmm.RegionWritable
	}
	if s.Flags&elf.PF_X != 0 {
		flags |= vmm.RegionExecutable
	}
	return flags
}

// Image is a validated executable ready to be loaded.
type Image struct {
	Entry    mm.VirtAddr
	Segments []Segment

	data []byte
}

// SegmentData returns the file-backed bytes of seg.
func (img *Image) SegmentData(seg Segment) []byte {
	return img.data[seg.Offset : seg.Offset+seg.FileSize]
}

// ParseImage validates data as a 64-bit x86-64 ELF executable and extracts
// its entry point and loadable segments. Program headers of any type other
// than PT_LOAD are ignored, as are loadable segments with a zero memory
// size.
func ParseImage(data []byte) (*Image, *kernel.Error) {
	if len(data) < elf.EI_NIDENT || !bytes.Equal(data[:len(elf.ELFMAG)], []byte(elf.ELFMAG)) {
		return nil, ErrBadMagic
	}

	if elf.Class(data[elf.EI_CLASS]) != elf.ELFCLASS64 || elf.Data(data[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, ErrBadClass
	}

	if len(data) < fileHeaderSize {
		return nil, ErrTruncated
	}

	var hdr elf.Header64
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, ErrTruncated
	}

	if elf.Machine(hdr.Machine) != elf.EM_X86_64 {
		return nil, ErrBadClass
	}

	if hdr.Phentsize != progHeaderSize {
		return nil, ErrBadEntrySize
	}

	tableEnd := hdr.Phoff + uint64(hdr.Phnum)*uint64(progHeaderSize)
	if tableEnd < hdr.Phoff || tableEnd > uint64(len(data)) {
		return nil, ErrTruncated
	}

	img := &Image{
		Entry: mm.VirtAddr(hdr.Entry),
		data:  data,
	}

	reader := bytes.NewReader(data[hdr.Phoff:tableEnd])
	for i := 0; i < int(hdr.Phnum); i++ {
		var prog elf.Prog64
		if err := binary.Read(reader, binary.LittleEndian, &prog); err != nil {
			return nil, ErrTruncated
		}

		if elf.ProgType(prog.Type) != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}

		if prog.Filesz > prog.Memsz || prog.Vaddr+prog.Memsz < prog.Vaddr || prog.Vaddr+prog.Memsz > userSpaceLimit {
			return nil, errBadSegment
		}

		fileEnd := prog.Off + prog.Filesz
		if fileEnd < prog.Off || fileEnd > uint64(len(data)) {
			return nil, ErrTruncated
		}

		img.Segments = append(img.Segments, Segment{
			VirtAddr: mm.VirtAddr(prog.Vaddr),
			Offset:   prog.Off,
			FileSize: prog.Filesz,
			MemSize:  prog.Memsz,
			Flags:    elf.ProgFlag(prog.Flags),
		})
	}

	return img, nil
}
