package gate

import "unsafe"

const (
	// tssSelector is the GDT selector of the task state segment
	// descriptor. The descriptor occupies two GDT slots.
	tssSelector = 0x28

	// tssSize is the size of the 64-bit task state segment in bytes.
	tssSize = 104

	gdtEntryCount = 7

	// segment descriptors for the flat long mode segments. Selectors
	// 0x08-0x20 match the layout the boot code loads, so the segment
	// registers stay valid across loadGDT.
	gdtKernelCode = uint64(0x00af9a000000ffff)
	gdtKernelData = uint64(0x00cf92000000ffff)
	gdtUserCode   = uint64(0x00affa000000ffff)
	gdtUserData   = uint64(0x00cff2000000ffff)

	// tssDescriptorType marks a present, available 64-bit TSS.
	tssDescriptorType = uint64(0x89)

	// DoubleFaultIST is the interrupt stack table slot used by the double
	// fault gate so that it always runs on a known good stack.
	DoubleFaultIST = 1

	doubleFaultStackSize = 4096
)

// taskStateSegment is the packed 64-bit TSS. It is stored as 32-bit words
// because its 64-bit fields are not naturally aligned.
type taskStateSegment [tssSize / 4]uint32

// setRSP0 sets the stack pointer loaded by the CPU when an interrupt or trap
// arrives while running in ring 3.
func (t *taskStateSegment) setRSP0(rsp uint64) {
	t[1] = uint32(rsp)
	t[2] = uint32(rsp >> 32)
}

// rsp0 returns the ring 0 stack pointer.
func (t *taskStateSegment) rsp0() uint64 {
	return uint64(t[1]) | uint64(t[2])<<32
}

// setIST sets the stack pointer for interrupt stack table slot n (1-7).
func (t *taskStateSegment) setIST(n int, rsp uint64) {
	word := 9 + 2*(n-1)
	t[word] = uint32(rsp)
	t[word+1] = uint32(rsp >> 32)
}

// ist returns the stack pointer for interrupt stack table slot n (1-7).
func (t *taskStateSegment) ist(n int) uint64 {
	word := 9 + 2*(n-1)
	return uint64(t[word]) | uint64(t[word+1])<<32
}

var (
	tss taskStateSegment
	gdt [gdtEntryCount]uint64

	doubleFaultStack [doubleFaultStackSize]byte

	// the following functions are mocked by tests.
	loadGDTFn = loadGDT
	loadTRFn  = loadTR
)

// installGDT builds the GDT including the TSS descriptor, loads it and
// loads the task register.
func installGDT() {
	tss = taskStateSegment{}
	// an I/O map base past the segment limit means no I/O permission bitmap
	tss[tssSize/4-1] = tssSize << 16
	tss.setIST(DoubleFaultIST, uint64(uintptr(unsafe.Pointer(&doubleFaultStack[0]))+doubleFaultStackSize))

	base := uint64(uintptr(unsafe.Pointer(&tss)))
	limit := uint64(tssSize - 1)

	gdt[0] = 0
	gdt[1] = gdtKernelCode
	gdt[2] = gdtKernelData
	gdt[3] = gdtUserCode
	gdt[4] = gdtUserData
	gdt[5] = limit&0xffff | (base&0xffffff)<<16 | tssDescriptorType<<40 | (limit>>16&0xf)<<48 | (base>>24&0xff)<<56
	gdt[6] = base >> 32

	loadGDTFn(uintptr(unsafe.Pointer(&gdt[0])), uint16(unsafe.Sizeof(gdt)-1))
	loadTRFn(tssSelector)
}

// SetKernelStack sets the stack the CPU switches to when a trap interrupts
// code running in ring 3. It must be called with interrupts disabled before
// resuming a user task.
func SetKernelStack(top uintptr) {
	tss.setRSP0(uint64(top))
}

// loadGDT loads the GDT register with the table at base.
func loadGDT(base uintptr, limit uint16)

// loadTR loads the task register with the given TSS selector.
func loadTR(selector uint16)
