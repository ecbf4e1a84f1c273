package linker

import (
	"debug/elf"
	"github.com/rvld-cheri/rvld/pkg/utils"
	"testing"
)

func fakeRelaxableSection(rels []Rela) *InputSection {
	osec := NewOutputSection(".text", uint32(elf.SHT_PROGBITS),
		uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0)
	file := &ObjectFile{InputFile: InputFile{
		ElfSections: []Shdr{{Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)}},
	}}
	return &InputSection{
		File:          file,
		IsAlive:       true,
		Shndx:         0,
		OutputSection: osec,
		Rels:          rels,
		RelsecIdx:     0,
		OrigShSize:    64,
		ShSize:        64,
	}
}

// TestShrinkSection_AlignCollapsesFullyAlignedPadding checks shrink
// non-negativity against an ALIGN relocation whose location is already on
// the requested boundary, so the entire padding run is removable.
func TestShrinkSection_AlignCollapsesFullyAlignedPadding(t *testing.T) {
	ctx := NewContext()
	ctx.Arg.Relax = true
	isec := fakeRelaxableSection([]Rela{
		{Offset: 0, Type: uint32(R_RISCV_ALIGN), Addend: 6}, // alignment = 8
	})

	changed := shrinkSection(ctx, isec)
	if !changed {
		t.Fatalf("expected shrinkSection to report a change")
	}
	if len(isec.Deltas) != 2 {
		t.Fatalf("expected one delta entry per relocation plus a trailing total, got %d", len(isec.Deltas))
	}
	if isec.Deltas[0] != 0 {
		t.Fatalf("delta before the first relocation must be 0, got %d", isec.Deltas[0])
	}
	if isec.Deltas[1] != 6 {
		t.Fatalf("expected the fully-aligned padding to be removed entirely, got delta %d", isec.Deltas[1])
	}
	if isec.ShSize != isec.OrigShSize-6 {
		t.Fatalf("ShSize should shrink by the removed padding: got %d, want %d", isec.ShSize, isec.OrigShSize-6)
	}
}

// TestShrinkSection_Idempotent checks that running shrinkSection again from
// the same (already-shrunk) state with no further relaxable sites left is a
// no-op, reporting no further change.
func TestShrinkSection_Idempotent(t *testing.T) {
	ctx := NewContext()
	ctx.Arg.Relax = true
	isec := fakeRelaxableSection([]Rela{
		{Offset: 0, Type: uint32(R_RISCV_ALIGN), Addend: 6},
	})

	shrinkSection(ctx, isec)
	if shrinkSection(ctx, isec) {
		t.Fatalf("a second pass over an already-shrunk, fully-aligned section must report no change")
	}
}

// TestShrinkSection_DisabledWithoutRelax confirms an R_RISCV_ALIGN
// relocation removes no padding when relaxation is off.
func TestShrinkSection_DisabledWithoutRelax(t *testing.T) {
	ctx := NewContext()
	ctx.Arg.Relax = false
	isec := fakeRelaxableSection([]Rela{
		{Offset: 0, Type: uint32(R_RISCV_ALIGN), Addend: 6},
	})

	// The first call always reports a change (it's the pass that allocates
	// isec.Deltas in the first place); the byte count it settles on is what
	// matters here, not that one return value.
	shrinkSection(ctx, isec)
	if isec.ShSize != isec.OrigShSize {
		t.Fatalf("ShSize must be unchanged when relax is disabled, got %d want %d", isec.ShSize, isec.OrigShSize)
	}
	if shrinkSection(ctx, isec) {
		t.Fatalf("a second pass with relax disabled must settle immediately (no shrink to discover)")
	}
}

// rvCallSection builds an 8-byte CALL macro (auipc rd,0 ; jalr rd,rd,0)
// at offset 0, with rd encoded in the jalr's rd field (bits 7..11), and a
// single absolute target symbol at the given value.
func rvCallSection(ctx *Context, rd uint32, targetVal uint64) (*InputSection, []Rela) {
	ctx.Arg.Relax = true
	rels := []Rela{{Offset: 0, Type: uint32(R_RISCV_CALL)}}
	isec := fakeRelaxableSection(rels)
	isec.Contents = make([]byte, 64)
	jalr := rd<<7 | 0b1100111
	utils.Write[uint32](isec.Contents[4:], jalr)

	sym := NewSymbol("target")
	sym.File = isec.File
	sym.Value = targetVal
	sym.SymIdx = 0
	isec.File.ElfSyms = []Sym{{Shndx: uint16(elf.SHN_ABS)}}
	isec.File.Symbols = []*Symbol{sym}
	return isec, rels
}

// TestShrinkSection_CallCollapsesToCompressedJump checks that a CALL macro
// with RVC enabled, destination register x0, and a target in range of
// c.j's 12-bit signed displacement collapses to a 2-byte c.j, shrinking
// the section by 6 bytes.
func TestShrinkSection_CallCollapsesToCompressedJump(t *testing.T) {
	ctx := NewContext()
	ctx.MergedFlags = EF_RISCV_RVC
	isec, _ := rvCallSection(ctx, 0, 8)

	if !shrinkSection(ctx, isec) {
		t.Fatalf("expected shrinkSection to report a change")
	}
	if isec.RelaxedCall[0] != CallRelaxCJ {
		t.Fatalf("expected CALL to collapse to c.j, got %v", isec.RelaxedCall[0])
	}
	if isec.Deltas[1] != 6 {
		t.Fatalf("expected c.j collapse to remove 6 bytes, got delta %d", isec.Deltas[1])
	}
}

// TestShrinkSection_CallCollapsesToCompressedJal checks the c.jal branch:
// RV32C, RVC enabled, destination register x1 (ra), in range.
func TestShrinkSection_CallCollapsesToCompressedJal(t *testing.T) {
	ctx := NewContext()
	ctx.MergedFlags = EF_RISCV_RVC
	ctx.Is64 = false
	isec, _ := rvCallSection(ctx, 1, 8)

	shrinkSection(ctx, isec)
	if isec.RelaxedCall[0] != CallRelaxCJal {
		t.Fatalf("expected CALL to collapse to c.jal, got %v", isec.RelaxedCall[0])
	}
	if isec.Deltas[1] != 6 {
		t.Fatalf("expected c.jal collapse to remove 6 bytes, got delta %d", isec.Deltas[1])
	}
}

// TestShrinkSection_CallCollapsesToJalWithoutRvc confirms the existing
// 21-bit JAL collapse path still fires when RVC isn't set, even for an
// rd==0 target that would otherwise prefer c.j.
func TestShrinkSection_CallCollapsesToJalWithoutRvc(t *testing.T) {
	ctx := NewContext()
	isec, _ := rvCallSection(ctx, 0, 8)

	shrinkSection(ctx, isec)
	if isec.RelaxedCall[0] != CallRelaxJal {
		t.Fatalf("expected CALL to collapse to jal, got %v", isec.RelaxedCall[0])
	}
	if isec.Deltas[1] != 4 {
		t.Fatalf("expected jal collapse to remove 4 bytes, got delta %d", isec.Deltas[1])
	}
}

// TestShrinkSection_CheriotCgpCollapse checks that an AUICGP + paired
// low half whose CGP offset fits entirely in lo12 (hi20 == 0) collapses:
// the HI is deleted (4 bytes) and the paired LO_I is flagged for the
// rs1-to-cgp rewrite, without itself losing any bytes.
func TestShrinkSection_CheriotCgpCollapse(t *testing.T) {
	ctx := NewContext()
	ctx.Arg.Relax = true
	ctx.Arg.Cheriot = true
	ctx.SymbolsAux = []SymbolAux{NewSymbolAux()}
	ctx.SymbolsAux[0].CapTableIdx = 0
	ctx.CapabilitySize = 16

	rels := []Rela{
		{Offset: 0, Type: uint32(R_RISCV_CHERIOT_COMPARTMENT_HI), Sym: 0},
		{Offset: 0, Type: uint32(R_RISCV_RELAX)},
		{Offset: 4, Type: uint32(R_RISCV_CHERIOT_COMPARTMENT_LO_I), Sym: 1},
	}
	isec := fakeRelaxableSection(rels)
	isec.Contents = make([]byte, 64)

	target := NewSymbol("cgp_target")
	target.File = isec.File
	target.AuxIdx = 0 // CapTableIdx*16 + addend(0) == 0 -> hi20 == 0

	hiLabel := NewSymbol(".Lhi0")
	hiLabel.File = isec.File
	hiLabel.InputSection = isec
	hiLabel.Value = 0 // same offset as the HI relocation

	isec.File.Symbols = []*Symbol{target, hiLabel}

	if !shrinkSection(ctx, isec) {
		t.Fatalf("expected shrinkSection to report a change")
	}
	if !isec.RelaxedCgp[0] {
		t.Fatalf("expected the COMPARTMENT_HI to collapse")
	}
	if !isec.CgpLoRewrite[2] {
		t.Fatalf("expected the paired LO_I to be flagged for the cgp rewrite")
	}
	if isec.Deltas[3] != 4 {
		t.Fatalf("expected the collapse to remove 4 bytes, got delta %d", isec.Deltas[3])
	}
}

// TestAdjustSymbolValues_ShrinksSizeAcrossCollapsedCall checks that a
// symbol whose own byte range contains a relocation site that shrinkSection
// collapsed gets its ELF size reduced by the same delta as its value: a
// function symbol spanning an 8-byte CALL macro that collapses to a 4-byte
// JAL must report Size 4 afterward, the same way a COMPARTMENT_SIZE
// relocation reading that size later would see the post-relaxation layout.
func TestAdjustSymbolValues_ShrinksSizeAcrossCollapsedCall(t *testing.T) {
	ctx := NewContext()
	isec, _ := rvCallSection(ctx, 0, 8)

	fn := NewSymbol("fn")
	fn.File = isec.File
	fn.InputSection = isec
	fn.Value = 0
	fn.SymIdx = 0
	isec.File.ElfSyms = []Sym{{Size: 8}}
	isec.File.Symbols = append(isec.File.Symbols, fn)

	ctx.Objs = []*ObjectFile{isec.File}

	if !shrinkSection(ctx, isec) {
		t.Fatalf("expected shrinkSection to report a change")
	}
	if isec.Deltas[1] != 4 {
		t.Fatalf("expected the CALL collapse to remove 4 bytes, got delta %d", isec.Deltas[1])
	}

	adjustSymbolValues(ctx)

	if got := fn.ElfSym().Size; got != 4 {
		t.Fatalf("expected fn's size to shrink by the collapsed CALL's 4 bytes, got %d want 4", got)
	}
	if fn.Value != 0 {
		t.Fatalf("fn starts at the collapse site, so no bytes are removed before it and its value shouldn't move: got %d", fn.Value)
	}
}

func TestIsRelaxable(t *testing.T) {
	exec := fakeRelaxableSection(nil)
	if !isRelaxable(exec) {
		t.Fatalf("an ALLOC|EXECINSTR section should be relaxable")
	}

	data := &InputSection{
		File: &ObjectFile{InputFile: InputFile{
			ElfSections: []Shdr{{Flags: uint64(elf.SHF_ALLOC | elf.SHF_WRITE)}},
		}},
		IsAlive: true,
		Shndx:   0,
	}
	if isRelaxable(data) {
		t.Fatalf("a non-executable section must not be relaxable")
	}

	if isRelaxable(nil) {
		t.Fatalf("nil section must not be relaxable")
	}
}
