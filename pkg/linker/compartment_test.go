package linker

import "testing"

func TestParseCompartmentExports(t *testing.T) {
	data := []byte{
		// FunctionStart=0x10, StackSize=2, Flags packs usedArgRegs=3,
		// interruptState=CompartmentInterruptEnabled (1<<3).
		0x10, 0x00, 0x02, 0b0000_1011,
	}
	exports := ParseCompartmentExports(data)
	if len(exports) != 1 {
		t.Fatalf("expected 1 export, got %d", len(exports))
	}
	e := exports[0]
	if e.FunctionStart != 0x10 || e.StackSize != 2 {
		t.Fatalf("unexpected export: %+v", e)
	}
	if e.InterruptState() != CompartmentInterruptEnabled {
		t.Fatalf("InterruptState() = %d, want CompartmentInterruptEnabled", e.InterruptState())
	}
	if e.UsedArgRegs() != 3 {
		t.Fatalf("UsedArgRegs() = %d, want 3", e.UsedArgRegs())
	}
}

func TestCompartmentExportInterruptDisabled(t *testing.T) {
	e := CompartmentExport{Flags: 2<<CompartmentExportInterruptShift | 5}
	if e.InterruptState() != CompartmentInterruptDisabled {
		t.Fatalf("InterruptState() = %d, want CompartmentInterruptDisabled", e.InterruptState())
	}
	if e.UsedArgRegs() != 5 {
		t.Fatalf("UsedArgRegs() = %d, want 5", e.UsedArgRegs())
	}
}

func TestClampStackSize(t *testing.T) {
	cases := []struct {
		bytes uint64
		want  uint8
	}{
		{0, 0},
		{8, 1},
		{9, 2},
		{255 * 8, 255},
		{1 << 20, 255}, // saturates
	}
	for _, c := range cases {
		if got := ClampStackSize(c.bytes); got != c.want {
			t.Fatalf("ClampStackSize(%d) = %d, want %d", c.bytes, got, c.want)
		}
	}
}

func TestCompartmentImportRoundTrip(t *testing.T) {
	for _, imp := range []CompartmentImport{
		{ExportTableAddr: 0x1000, IsLibraryCall: false},
		{ExportTableAddr: 0x2000, IsLibraryCall: true},
	} {
		buf := make([]byte, 8)
		EncodeCompartmentImport(buf, imp, 8)
		got := ParseCompartmentImports(buf, 8)
		if len(got) != 1 {
			t.Fatalf("expected 1 import, got %d", len(got))
		}
		if got[0] != imp {
			t.Fatalf("round-trip mismatch: got %+v, want %+v", got[0], imp)
		}
	}
}
