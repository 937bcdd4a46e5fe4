package exec

import (
	"kcore/kernel"
	"kcore/kernel/kfmt"
	"kcore/kernel/mm"
	"kcore/kernel/mm/vmm"
	"kcore/kernel/task"
)

// UserStackSize is the size of the stack region allocated for each user
// task.
const UserStackSize = 16 * mm.PageSize

// loadTarget is the subset of the address space API used while populating
// a user image.
type loadTarget interface {
	Activate()
	AllocateRegion(length uintptr) (mm.VirtAddr, *kernel.Error)
	AllocateRegionAt(base mm.VirtAddr, length uintptr, flags vmm.RegionFlag) *kernel.Error
	CopyIn(virtAddr mm.VirtAddr, src []byte) *kernel.Error
	ZeroRange(virtAddr mm.VirtAddr, size uintptr) *kernel.Error
}

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	newUserSpaceFn = func() (*vmm.AddressSpace, *kernel.Error) {
		return vmm.NewAddressSpace(vmm.KindUser)
	}
	withLockedFn       = (*vmm.AddressSpace).WithLocked
	loaderSpaceFn      = func(as *vmm.AddressSpace) loadTarget { return as }
	allocKernelStackFn = task.AllocKernelStack
	activeSpaceFn      = vmm.ActiveSpace
	activateFn         = (*vmm.AddressSpace).Activate

	log = kfmt.Logger{Module: "exec"}
)

// CreateUserTask loads the executable at path into a new user address space
// and returns a task that starts at the image entry point.
//
// The new space is installed as the active translation root while it is
// populated and remains active when CreateUserTask returns. If loading fails
// the previously active space is reinstalled. Images whose
// header violates the 64-bit x86-64 layout cause a panic; lookup, truncation
// and allocation failures are returned to the caller.
func CreateUserTask(path string) (*task.Task, *kernel.Error) {
	if activeFS == nil {
		return nil, errNoFilesystem
	}

	data, err := activeFS.Lookup(path)
	if err != nil {
		return nil, err
	}

	img, err := ParseImage(data)
	switch err {
	case nil:
	case ErrBadMagic, ErrBadClass, ErrBadEntrySize:
		panic(err)
	default:
		return nil, err
	}

	space, err := newUserSpaceFn()
	if err != nil {
		return nil, err
	}

	var (
		stackTop  mm.VirtAddr
		prevSpace = activeSpaceFn()
	)
	err = withLockedFn(space, func(as *vmm.AddressSpace) *kernel.Error {
		target := loaderSpaceFn(as)
		target.Activate()

		for _, seg := range img.Segments {
			if err := loadSegment(target, img, seg); err != nil {
				return err
			}
		}

		stackBase, err := target.AllocateRegion(UserStackSize)
		if err != nil {
			return err
		}
		stackTop = stackBase.Add(UserStackSize)
		return nil
	})
	if err != nil {
		log.Errorf("loading %s failed: %s", path, err.Message)
		reactivate(prevSpace)
		return nil, err
	}

	kernelStack, err := allocKernelStackFn()
	if err != nil {
		reactivate(prevSpace)
		return nil, err
	}

	log.Printf("loaded %s: %d segments, entry 0x%x", path, len(img.Segments), uintptr(img.Entry))
	return task.NewUserTask(img.Entry, space, stackTop, kernelStack)
}

// reactivate reinstalls the space that was active before a failed load.
func reactivate(prev *vmm.AddressSpace) {
	if prev != nil {
		activateFn(prev)
	}
}

// loadSegment backs the pages spanned by seg, copies its file contents and
// zero-fills the rest of its memory size.
func loadSegment(target loadTarget, img *Image, seg Segment) *kernel.Error {
	base := seg.VirtAddr.PageDown()
	length := mm.PageAlignUp(uintptr(seg.MemSize) + seg.VirtAddr.PageOffset())

	if err := target.AllocateRegionAt(base, length, seg.RegionFlags()|vmm.RegionUser); err != nil {
		return err
	}

	if seg.FileSize != 0 {
		if err := target.CopyIn(seg.VirtAddr, img.SegmentData(seg)); err != nil {
			return err
		}
	}

	if seg.MemSize > seg.FileSize {
		return target.ZeroRange(seg.VirtAddr.Add(uintptr(seg.FileSize)), uintptr(seg.MemSize-seg.FileSize))
	}

	return nil
}
