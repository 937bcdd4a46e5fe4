package goruntime

import (
	"kcore/kernel"
	"kcore/kernel/mm"
	"kcore/kernel/mm/vmm"
	"testing"
	"unsafe"
)

func restoreHooks() {
	kernelSpaceFn = vmm.KernelSpace
	reserveRegionFn = reserveHeapRegion
	commitRangeFn = commitHeapRange
	allocRegionFn = allocHeapRegion
	mallocInitFn = mallocInit
	algInitFn = algInit
	modulesInitFn = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn = itabsInit
}

func TestSysReserveOS(t *testing.T) {
	defer restoreHooks()

	t.Run("success", func(t *testing.T) {
		specs := []struct {
			reqSize       uintptr
			expRegionSize uintptr
		}{
			// exact multiple of page size
			{100 << mm.PageShift, 100 << mm.PageShift},
			// size should be rounded up to nearest page size
			{2*mm.PageSize - 1, 2 * mm.PageSize},
		}

		for specIndex, spec := range specs {
			reserveRegionFn = func(rsvSize uintptr) (mm.VirtAddr, *kernel.Error) {
				if rsvSize != spec.expRegionSize {
					t.Errorf("[spec %d] expected reservation size to be %d; got %d", specIndex, spec.expRegionSize, rsvSize)
				}

				return 0xffffc00000000000, nil
			}

			if ptr := sysReserveOS(nil, spec.reqSize); uintptr(ptr) != 0xffffc00000000000 {
				t.Errorf("[spec %d] expected reservation at 0xffffc00000000000; got 0x%x", specIndex, uintptr(ptr))
			}
		}
	})

	t.Run("zero size", func(t *testing.T) {
		reserveRegionFn = func(uintptr) (mm.VirtAddr, *kernel.Error) {
			t.Error("expected no reservation for a zero-sized request")
			return 0, nil
		}

		if ptr := sysReserveOS(nil, 0); ptr != nil {
			t.Errorf("expected nil; got 0x%x", uintptr(ptr))
		}
	})

	t.Run("fail", func(t *testing.T) {
		defer func() {
			if err := recover(); err == nil {
				t.Fatal("expected sysReserveOS to panic")
			}
		}()

		reserveRegionFn = func(uintptr) (mm.VirtAddr, *kernel.Error) {
			return 0, &kernel.Error{Module: "test", Message: "consumed available address space"}
		}

		sysReserveOS(nil, uintptr(0xf00))
	})
}

func TestSysMapOS(t *testing.T) {
	defer restoreHooks()

	t.Run("success", func(t *testing.T) {
		var calls int
		commitRangeFn = func(virtAddr mm.VirtAddr, size uintptr) *kernel.Error {
			calls++
			if virtAddr != 0xffffc00000001000 || size != 3*mm.PageSize {
				t.Errorf("unexpected commit of %d bytes at 0x%x", size, uintptr(virtAddr))
			}
			return nil
		}

		sysMapOS(unsafe.Pointer(uintptr(0xffffc00000001000)), 3*mm.PageSize)
		sysMapOS(nil, 0)

		if calls != 1 {
			t.Errorf("expected a single commit; got %d", calls)
		}
	})

	t.Run("commit fails", func(t *testing.T) {
		expErr := &kernel.Error{Module: "test", Message: "out of memory"}
		commitRangeFn = func(mm.VirtAddr, uintptr) *kernel.Error { return expErr }

		defer func() {
			if err := recover(); err != expErr {
				t.Fatalf("expected sysMapOS to panic with %v; got %v", expErr, err)
			}
		}()

		sysMapOS(unsafe.Pointer(uintptr(0xffffc00000001000)), 1)
	})
}

func TestSysAllocOS(t *testing.T) {
	defer restoreHooks()

	t.Run("success", func(t *testing.T) {
		allocRegionFn = func(size uintptr) (mm.VirtAddr, *kernel.Error) {
			if size != 2*mm.PageSize {
				t.Errorf("expected a page-rounded request; got %d", size)
			}
			return 0xffffc00000004000, nil
		}

		if ptr := sysAllocOS(mm.PageSize + 1); uintptr(ptr) != 0xffffc00000004000 {
			t.Errorf("expected allocation at 0xffffc00000004000; got 0x%x", uintptr(ptr))
		}
	})

	t.Run("fail", func(t *testing.T) {
		allocRegionFn = func(uintptr) (mm.VirtAddr, *kernel.Error) {
			return 0, &kernel.Error{Module: "test", Message: "out of memory"}
		}

		if ptr := sysAllocOS(1); ptr != nil {
			t.Errorf("expected sysAllocOS to return nil on failure; got 0x%x", uintptr(ptr))
		}
	})
}

func TestNanotime1(t *testing.T) {
	first := nanotime1()
	if second := nanotime1(); second <= first {
		t.Fatalf("expected nanotime1 to increase; got %d then %d", first, second)
	}
}

func TestGetRandomData(t *testing.T) {
	sample1 := make([]byte, 128)
	sample2 := make([]byte, 128)

	getRandomData(sample1)
	getRandomData(sample2)

	if string(sample1) == string(sample2) {
		t.Fatal("expected getRandomData to return different values for each invocation")
	}
}

func TestInit(t *testing.T) {
	defer restoreHooks()

	var order []string
	mallocInitFn = func() { order = append(order, "malloc") }
	algInitFn = func() { order = append(order, "alg") }
	modulesInitFn = func() { order = append(order, "modules") }
	typeLinksInitFn = func() { order = append(order, "typelinks") }
	itabsInitFn = func() { order = append(order, "itabs") }

	t.Run("without kernel space", func(t *testing.T) {
		kernelSpaceFn = func() *vmm.AddressSpace { return nil }

		if err := Init(); err != errNoKernelSpace {
			t.Fatalf("expected errNoKernelSpace; got %v", err)
		}

		if len(order) != 0 {
			t.Fatalf("expected no runtime init calls; got %v", order)
		}
	})

	t.Run("success", func(t *testing.T) {
		kernelSpaceFn = func() *vmm.AddressSpace { return new(vmm.AddressSpace) }

		if err := Init(); err != nil {
			t.Fatal(err)
		}

		exp := []string{"malloc", "alg", "modules", "typelinks", "itabs"}
		if len(order) != len(exp) {
			t.Fatalf("expected init calls %v; got %v", exp, order)
		}
		for i := range exp {
			if order[i] != exp[i] {
				t.Errorf("expected init call %d to be %s; got %s", i, exp[i], order[i])
			}
		}
	})
}
