package linker

import (
	"github.com/rvld-cheri/rvld/pkg/utils"
	"testing"
)

func TestGetImplicitAddend_AbsWidths(t *testing.T) {
	buf32 := make([]byte, 4)
	utils.Write[uint32](buf32, 0xfffffffe) // -2 as a sign-extended 32-bit value
	if got := GetImplicitAddend(buf32, R_RISCV_32, true); got != -2 {
		t.Fatalf("GetImplicitAddend(R_RISCV_32) = %d, want -2", got)
	}
	if got := GetImplicitAddend(buf32, R_RISCV_TLS_DTPREL32, true); got != -2 {
		t.Fatalf("GetImplicitAddend(R_RISCV_TLS_DTPREL32) = %d, want -2", got)
	}

	buf64 := make([]byte, 8)
	utils.Write[uint64](buf64, 0x1122334455667788)
	if got := GetImplicitAddend(buf64, R_RISCV_64, true); got != int64(0x1122334455667788) {
		t.Fatalf("GetImplicitAddend(R_RISCV_64) = %#x, want %#x", got, int64(0x1122334455667788))
	}
}

func TestGetImplicitAddend_RelativeByWidth(t *testing.T) {
	buf64 := make([]byte, 8)
	utils.Write[uint64](buf64, 42)
	if got := GetImplicitAddend(buf64, R_RISCV_RELATIVE, true); got != 42 {
		t.Fatalf("GetImplicitAddend(R_RISCV_RELATIVE, is64) = %d, want 42", got)
	}

	buf32 := make([]byte, 4)
	utils.Write[uint32](buf32, 42)
	if got := GetImplicitAddend(buf32, R_RISCV_IRELATIVE, false); got != 42 {
		t.Fatalf("GetImplicitAddend(R_RISCV_IRELATIVE, !is64) = %d, want 42", got)
	}
}

func TestGetImplicitAddend_NoneAndJumpSlotAreZero(t *testing.T) {
	buf := make([]byte, 8)
	utils.Write[uint64](buf, 0xdeadbeef)
	if got := GetImplicitAddend(buf, R_RISCV_NONE, true); got != 0 {
		t.Fatalf("GetImplicitAddend(R_RISCV_NONE) = %d, want 0", got)
	}
	if got := GetImplicitAddend(buf, R_RISCV_JUMP_SLOT, true); got != 0 {
		t.Fatalf("GetImplicitAddend(R_RISCV_JUMP_SLOT) = %d, want 0", got)
	}
}

func TestGetDynRel_SymbolicByWidth(t *testing.T) {
	ctx64 := NewContext()
	ctx64.Is64 = true
	if got := GetDynRel(ctx64, R_RISCV_64); got != R_RISCV_64 {
		t.Fatalf("GetDynRel(is64, R_RISCV_64) = %v, want R_RISCV_64", got)
	}
	if got := GetDynRel(ctx64, R_RISCV_32); got != R_RISCV_NONE {
		t.Fatalf("GetDynRel(is64, R_RISCV_32) = %v, want R_RISCV_NONE", got)
	}

	ctx32 := NewContext()
	ctx32.Is64 = false
	if got := GetDynRel(ctx32, R_RISCV_32); got != R_RISCV_32 {
		t.Fatalf("GetDynRel(!is64, R_RISCV_32) = %v, want R_RISCV_32", got)
	}
}

func TestGetDynRel_NonSymbolicDegradesToNone(t *testing.T) {
	ctx := NewContext()
	for _, k := range []RelType{R_RISCV_RELATIVE, R_RISCV_JUMP_SLOT, R_RISCV_BRANCH, R_RISCV_CALL} {
		if got := GetDynRel(ctx, k); got != R_RISCV_NONE {
			t.Fatalf("GetDynRel(%v) = %v, want R_RISCV_NONE", k, got)
		}
	}
}
