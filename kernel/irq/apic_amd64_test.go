package irq

import "testing"

type mmioWrite struct {
	addr uintptr
	val  uint32
}

func TestAPIC(t *testing.T) {
	origWrite := mmioWrite32Fn
	defer func() { mmioWrite32Fn = origWrite }()

	var writes []mmioWrite
	mmioWrite32Fn = func(addr uintptr, val uint32) {
		writes = append(writes, mmioWrite{addr, val})
	}

	var ctrl Controller = NewAPIC(0xfee00000, 0xfec00000, 48)

	specs := []struct {
		name string
		fn   func()
		exp  []mmioWrite
	}{
		{
			"send EOI",
			func() { ctrl.SendEOI(50) },
			[]mmioWrite{{0xfee000b0, 0}},
		},
		{
			"enable line",
			func() { ctrl.EnableLine(50) },
			[]mmioWrite{
				{0xfec00000, 0x14}, {0xfec00010, 50},
				{0xfec00000, 0x15}, {0xfec00010, 0},
			},
		},
		{
			"disable line",
			func() { ctrl.DisableLine(48) },
			[]mmioWrite{
				{0xfec00000, 0x10}, {0xfec00010, 48 | 1<<16},
				{0xfec00000, 0x11}, {0xfec00010, 0},
			},
		},
		{
			"line below the offset",
			func() { ctrl.EnableLine(47) },
			nil,
		},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			writes = nil
			spec.fn()

			if len(writes) != len(spec.exp) {
				t.Fatalf("expected %d writes; got %d: %v", len(spec.exp), len(writes), writes)
			}
			for i := range spec.exp {
				if writes[i] != spec.exp[i] {
					t.Errorf("[write %d] expected %+v; got %+v", i, spec.exp[i], writes[i])
				}
			}
		})
	}
}
