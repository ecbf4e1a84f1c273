package linker

import (
	"debug/elf"
	"github.com/rvld-cheri/rvld/pkg/utils"
	"testing"
)

// TestApplyRelocAlloc_CompartmentHiPCRelative checks the AUIPCC branch of a
// COMPARTMENT_HI relocation whose symbol lives in an input section (so it's
// classified PC-relative): ApplyRelocAlloc must round-trip through the
// stash (raw S+A-P) and finalize (arithmetic shift right by 11, opcode
// forced to AUIPCC) passes and land on the exact encoded word, not the
// generic hi20 U-type bias every other HI20-family kind uses.
func TestApplyRelocAlloc_CompartmentHiPCRelative(t *testing.T) {
	ctx := NewContext()
	ctx.Arg.Cheriot = true
	ctx.Got = NewGotSection()

	targetSec := &InputSection{
		OutputSection: NewOutputSection(".text", uint32(elf.SHT_PROGBITS),
			uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0),
		IsAlive: true,
	}
	targetSec.OutputSection.Shdr.Addr = 0x5000

	target := NewSymbol("callee")
	target.InputSection = targetSec
	target.Value = 0x40 // S = 0x5040

	isec := fakeRelaxableSection([]Rela{
		{Offset: 0, Type: uint32(R_RISCV_CHERIOT_COMPARTMENT_HI), Sym: 0},
	})
	isec.OutputSection.Shdr.Addr = 0x1000 // P = 0x1000
	target.File = isec.File
	isec.File.Symbols = []*Symbol{target}

	const rd = 5
	isec.Contents = make([]byte, 8)
	utils.Write[uint32](isec.Contents, rd<<7)
	buf := make([]byte, 8)
	copy(buf, isec.Contents)

	isec.ApplyRelocAlloc(ctx, buf)

	// delta = S+A-P = 0x5040-0x1000 = 0x4040, positive so no rounding;
	// 0x4040>>11 = 8.
	got := utils.Read[uint32](buf)
	want := uint32(rd<<7) | uint32(8)<<12 | cheriotAuipcc
	if got != want {
		t.Fatalf("got instruction word 0x%08x, want 0x%08x", got, want)
	}
}

// TestApplyRelocAlloc_CompartmentHiPCRelativeNegative checks the negative-
// delta rounding branch: a small negative PC-relative delta (still inside
// the AUIPCC instruction's own 2048-byte granule) must round up to the
// granule boundary before the shift, landing on immediate 0 rather than a
// small negative value a plain arithmetic shift would produce.
func TestApplyRelocAlloc_CompartmentHiPCRelativeNegative(t *testing.T) {
	ctx := NewContext()
	ctx.Arg.Cheriot = true
	ctx.Got = NewGotSection()

	targetSec := &InputSection{
		OutputSection: NewOutputSection(".text", uint32(elf.SHT_PROGBITS),
			uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0),
		IsAlive: true,
	}
	targetSec.OutputSection.Shdr.Addr = 0xF00

	target := NewSymbol("callee")
	target.InputSection = targetSec
	target.Value = 0x9C // S = 0xF9C

	isec := fakeRelaxableSection([]Rela{
		{Offset: 0, Type: uint32(R_RISCV_CHERIOT_COMPARTMENT_HI), Sym: 0},
	})
	isec.OutputSection.Shdr.Addr = 0x1000 // P = 0x1000, so S+A-P = -100
	target.File = isec.File
	isec.File.Symbols = []*Symbol{target}

	const rd = 5
	isec.Contents = make([]byte, 8)
	utils.Write[uint32](isec.Contents, rd<<7)
	buf := make([]byte, 8)
	copy(buf, isec.Contents)

	isec.ApplyRelocAlloc(ctx, buf)

	got := utils.Read[uint32](buf)
	want := uint32(rd<<7) | uint32(0)<<12 | cheriotAuipcc
	if got != want {
		t.Fatalf("got instruction word 0x%08x, want 0x%08x", got, want)
	}
}

// TestApplyRelocAlloc_CompartmentHiCgpRelative checks the AUICGP branch: a
// symbol with no input section is classified CGP-relative, and the
// finalized immediate is the raw captable-relative offset (idx*capSize+A),
// unbiased and unshifted, with the opcode forced to AUICGP.
func TestApplyRelocAlloc_CompartmentHiCgpRelative(t *testing.T) {
	ctx := NewContext()
	ctx.Arg.Cheriot = true
	ctx.Got = NewGotSection()
	ctx.CapabilitySize = 16
	ctx.Captable = NewCapTableSection()
	ctx.Captable.Shdr.Addr = 0x9000
	ctx.SymbolsAux = []SymbolAux{NewSymbolAux()}
	ctx.SymbolsAux[0].CapTableIdx = 3

	isec := fakeRelaxableSection([]Rela{
		{Offset: 0, Type: uint32(R_RISCV_CHERIOT_COMPARTMENT_HI), Sym: 0},
	})
	isec.OutputSection.Shdr.Addr = 0x1000

	target := NewSymbol("global")
	target.AuxIdx = 0
	isec.File.Symbols = []*Symbol{target}
	target.File = isec.File

	const rd = 5
	isec.Contents = make([]byte, 8)
	utils.Write[uint32](isec.Contents, rd<<7)
	buf := make([]byte, 8)
	copy(buf, isec.Contents)

	isec.ApplyRelocAlloc(ctx, buf)

	// val = CapTableIdx*CapabilitySize + A = 3*16 = 48, written raw.
	got := utils.Read[uint32](buf)
	want := uint32(rd<<7) | uint32(48)<<12 | cheriotAuicgp
	if got != want {
		t.Fatalf("got instruction word 0x%08x, want 0x%08x", got, want)
	}
}
