package linker

import (
	"encoding/binary"
	"testing"
)

// fakeObjWithFlags builds the minimal ObjectFile needed for MergeEflags:
// only File.Contents needs a valid Ehdr prefix, since GetEhdr reads it
// directly off the front of the file.
func fakeObjWithFlags(name string, flags uint32) *ObjectFile {
	contents := make([]byte, 64)
	binary.LittleEndian.PutUint32(contents[48:], flags) // Ehdr.Flags offset
	o := &ObjectFile{}
	o.File = &File{Name: name, Contents: contents}
	o.IsAlive = true
	return o
}

func TestMergeEflags_NoObjects(t *testing.T) {
	ctx := NewContext()
	if got := MergeEflags(ctx); got != 0 {
		t.Fatalf("MergeEflags with zero objects = %#x, want 0", got)
	}
}

func TestMergeEflags_ORsInRVC(t *testing.T) {
	ctx := NewContext()
	ctx.Objs = []*ObjectFile{
		fakeObjWithFlags("a.o", 0),
		fakeObjWithFlags("b.o", EF_RISCV_RVC),
	}
	got := MergeEflags(ctx)
	if got&EF_RISCV_RVC == 0 {
		t.Fatalf("MergeEflags = %#x, want EF_RISCV_RVC set", got)
	}
	if ctx.Diag.HasErrors() {
		t.Fatalf("unexpected diagnostics for compatible objects")
	}
}

func TestMergeEflags_FloatAbiMismatchErrors(t *testing.T) {
	ctx := NewContext()
	const floatAbiSoft = 0b00 << 1
	const floatAbiDouble = 0b10 << 1
	ctx.Objs = []*ObjectFile{
		fakeObjWithFlags("soft.o", floatAbiSoft),
		fakeObjWithFlags("double.o", floatAbiDouble),
	}
	MergeEflags(ctx)
	if !ctx.Diag.HasErrors() {
		t.Fatalf("expected a diagnostic for FLOAT_ABI mismatch")
	}
}

// TestMergeEflags_Associative checks that merging {A, B, C} in any order
// that doesn't error yields the same merged flags.
func TestMergeEflags_Associative(t *testing.T) {
	mk := func(order []int) uint32 {
		all := []*ObjectFile{
			fakeObjWithFlags("a.o", EF_RISCV_RVC|EF_RISCV_CAP_MODE),
			fakeObjWithFlags("b.o", EF_RISCV_CAP_MODE),
			fakeObjWithFlags("c.o", EF_RISCV_RVC|EF_RISCV_CAP_MODE),
		}
		ctx := NewContext()
		for _, i := range order {
			ctx.Objs = append(ctx.Objs, all[i])
		}
		return MergeEflags(ctx)
	}

	want := mk([]int{0, 1, 2})
	for _, order := range [][]int{{1, 0, 2}, {2, 1, 0}, {0, 2, 1}} {
		if got := mk(order); got != want {
			t.Fatalf("MergeEflags(%v) = %#x, want %#x (order-independence)", order, got, want)
		}
	}
}

func TestCalcIsCheriAbi(t *testing.T) {
	ctx := NewContext()
	if calcIsCheriAbi(ctx, 0) {
		t.Fatalf("calcIsCheriAbi(0) = true, want false")
	}
	if !calcIsCheriAbi(ctx, EF_RISCV_CHERIABI) {
		t.Fatalf("calcIsCheriAbi(EF_RISCV_CHERIABI) = false, want true")
	}
}
