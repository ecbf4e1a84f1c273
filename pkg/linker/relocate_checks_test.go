package linker

import "testing"

func fakeSectionForChecks() *InputSection {
	sym := NewSymbol("target")
	return &InputSection{
		File: &ObjectFile{
			InputFile: InputFile{Symbols: []*Symbol{sym}},
		},
	}
}

// TestCheckInt_Range checks that a JAL displacement that exceeds the signed
// range is reported, not silently truncated.
func TestCheckInt_Range(t *testing.T) {
	s := fakeSectionForChecks()
	ctx := NewContext()
	rel := &Rela{Offset: 0, Type: uint32(R_RISCV_JAL), Sym: 0}

	if !s.checkInt(ctx, rel, 0, 20) {
		t.Fatalf("checkInt(0, 20) should pass")
	}
	if !s.checkInt(ctx, rel, (1<<19)-1, 20) {
		t.Fatalf("checkInt at the positive boundary should pass")
	}
	if !s.checkInt(ctx, rel, -(1 << 19), 20) {
		t.Fatalf("checkInt at the negative boundary should pass")
	}
	if ctx.Diag.HasErrors() {
		t.Fatalf("no diagnostics expected yet")
	}

	// +0x100001 exceeds 2^20 and must be rejected.
	if s.checkInt(ctx, rel, 0x100001, 20) {
		t.Fatalf("checkInt should reject a displacement beyond the signed-20 range")
	}
	if !ctx.Diag.HasErrors() {
		t.Fatalf("expected a diagnostic for the out-of-range displacement")
	}
}

func TestCheckAlignment(t *testing.T) {
	s := fakeSectionForChecks()
	ctx := NewContext()
	rel := &Rela{Offset: 0, Type: uint32(R_RISCV_BRANCH), Sym: 0}

	if !s.checkAlignment(ctx, rel, 252, 2) {
		t.Fatalf("252 is 2-byte aligned, should pass")
	}
	if ctx.Diag.HasErrors() {
		t.Fatalf("no diagnostics expected for an aligned value")
	}
	if s.checkAlignment(ctx, rel, 253, 2) {
		t.Fatalf("253 is not 2-byte aligned, should fail")
	}
	if !ctx.Diag.HasErrors() {
		t.Fatalf("expected a diagnostic for the misaligned value")
	}
}

func TestCheckUInt(t *testing.T) {
	s := fakeSectionForChecks()
	ctx := NewContext()
	rel := &Rela{Offset: 0, Type: uint32(R_RISCV_CHERIOT_COMPARTMENT_SIZE), Sym: 0}

	if !s.checkUInt(ctx, rel, 4095, 12) {
		t.Fatalf("4095 fits unsigned 12 bits")
	}
	if s.checkUInt(ctx, rel, 4096, 12) {
		t.Fatalf("4096 does not fit unsigned 12 bits")
	}
	if s.checkUInt(ctx, rel, -1, 12) {
		t.Fatalf("negative value must fail checkUInt")
	}
}
