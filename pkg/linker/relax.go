package linker

import (
	"debug/elf"
	"github.com/rvld-cheri/rvld/pkg/utils"
	"sort"
)

// shrinkSection runs the linker relaxation engine: a fixed-point pass that
// collapses R_RISCV_ALIGN padding to the minimum required NOP run, collapses
// CALL/CALL_PLT/CHERI_CCALL macros into a single JAL/c.j/c.jal, and collapses
// a CHERIOT_COMPARTMENT_HI's AUICGP into a direct CGP-relative access on its
// paired LO_I/LO_S, when the target turns out to be in range.

// maxRelaxPasses bounds the fixed-point loop. Address-dependent relaxation
// isn't guaranteed to converge in general; a pass cap turns a hypothetical
// non-terminating case into a hard stop instead of an infinite loop.
const maxRelaxPasses = 10

// maxSectionShrink is the largest byte count any single section may shrink
// by across the whole relaxation run; exceeding it aborts the link rather
// than silently emitting inconsistent offsets.
const maxSectionShrink = 65535

// jalRange is the reach of a jal's 21-bit signed, 2-byte-scaled immediate.
const jalRange = 1 << 20

// rvcBranchRange is the reach of c.j/c.jal's 12-bit signed, 2-byte-scaled
// immediate.
const rvcBranchRange = 1 << 11

func isRelaxable(isec *InputSection) bool {
	return isec != nil && isec.IsAlive &&
		isec.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0 &&
		isec.Shdr().Flags&uint64(elf.SHF_EXECINSTR) != 0
}

// cgpOffset computes the CGP-relative displacement a CHERIOT_COMPARTMENT_HI
// classified ExprCheriotCGPRel encodes: the symbol's captable slot, offset
// from the base of .captable (which cgp is defined to point at), plus the
// relocation's own addend. Mirrors applyCompartmentHi's CGP branch exactly,
// since relax_cgp's collapse decision must agree with what the applier
// would otherwise have written.
func cgpOffset(ctx *Context, sym *Symbol, addend int64) int64 {
	return int64(sym.GetCapTableIdx(ctx))*int64(ctx.CapabilitySize) + addend
}

// relaxCgpLoPair marks, in cgpLo, every COMPARTMENT_LO_I/LO_S relocation in
// rels whose pairing symbol resolves to hiOffset within isec — the paired
// low halves of the AUICGP at hiOffset that relax_cgp is about to delete.
// The rewrite itself — rs1 to cgp, relocation kind unchanged — happens at
// ApplyRelocAlloc time (inputsection.go); this only records which indices
// need it.
func relaxCgpLoPair(isec *InputSection, rels []Rela, hiOffset uint64, cgpLo []bool) {
	for j := range rels {
		switch RelType(rels[j].Type) {
		case R_RISCV_CHERIOT_COMPARTMENT_LO_I, R_RISCV_CHERIOT_COMPARTMENT_LO_S:
			loSym := isec.File.Symbols[rels[j].Sym]
			if loSym.InputSection == isec && loSym.Value == hiOffset {
				cgpLo[j] = true
			}
		}
	}
}

// shrinkSection recomputes isec.Deltas, RelaxedCall, RelaxedCgp, and
// CgpLoRewrite from scratch given the section's current output address and
// symbol addresses, returning whether anything changed since the last pass.
func shrinkSection(ctx *Context, isec *InputSection) bool {
	rels := isec.GetRels()
	newDeltas := make([]int32, len(rels)+1)
	newRelaxed := make([]CallRelaxKind, len(rels))
	newCgp := make([]bool, len(rels))
	newCgpLo := make([]bool, len(rels))
	rvc := ctx.MergedFlags&EF_RISCV_RVC != 0

	delta := int32(0)
	for i := 0; i < len(rels); i++ {
		r := rels[i]
		newDeltas[i] = delta

		switch RelType(r.Type) {
		case R_RISCV_ALIGN:
			if !ctx.Arg.Relax {
				break
			}
			loc := isec.GetAddr() + r.Offset - uint64(delta)
			nextLoc := loc + uint64(r.Addend)
			alignment := utils.BitCeil(uint64(r.Addend + 1))
			delta += int32(nextLoc - utils.AlignTo(loc, alignment))

		case R_RISCV_CALL, R_RISCV_CALL_PLT, R_RISCV_CHERI_CCALL:
			if !ctx.Arg.Relax {
				break
			}
			sym := isec.File.Symbols[r.Sym]
			if sym.File == nil || sym.ElfSym().IsUndefWeak() {
				break
			}

			P := isec.GetAddr() + r.Offset - uint64(delta)
			S := sym.GetAddr(ctx)
			val := int64(S) + r.Addend - int64(P)

			rd := (utils.Read[uint32](isec.Contents[r.Offset+4:]) >> 7) & 0x1f
			switch {
			case rvc && val > -rvcBranchRange && val < rvcBranchRange && rd == 0:
				newRelaxed[i] = CallRelaxCJ
				delta += 6
			case rvc && val > -rvcBranchRange && val < rvcBranchRange && rd == 1 && !ctx.Is64:
				newRelaxed[i] = CallRelaxCJal
				delta += 6
			case val > -jalRange && val < jalRange:
				newRelaxed[i] = CallRelaxJal
				delta += 4
			}

		case R_RISCV_CHERIOT_COMPARTMENT_HI:
			if !ctx.Arg.Relax || !ctx.Arg.Cheriot {
				break
			}
			if i+1 >= len(rels) || RelType(rels[i+1].Type) != R_RISCV_RELAX {
				break
			}
			sym := isec.File.Symbols[r.Sym]
			if sym.File == nil || ClassifyCheriotCompartmentHi(sym) != ExprCheriotCGPRel {
				break
			}
			off := cgpOffset(ctx, sym, r.Addend)
			if (off+0x800)>>12 != 0 {
				break
			}
			newCgp[i] = true
			relaxCgpLoPair(isec, rels, r.Offset, newCgpLo)
			delta += 4
		}
	}

	newDeltas[len(rels)] = delta
	if int64(delta) > maxSectionShrink {
		utils.Fatal("relaxation shrunk a section by more than 65535 bytes")
	}

	changed := len(isec.Deltas) != len(newDeltas)
	if !changed {
		for i := range newDeltas {
			if newDeltas[i] != isec.Deltas[i] {
				changed = true
				break
			}
		}
	}

	isec.Deltas = newDeltas
	isec.RelaxedCall = newRelaxed
	isec.RelaxedCgp = newCgp
	isec.CgpLoRewrite = newCgpLo
	isec.ShSize = isec.OrigShSize - uint32(delta)

	return changed
}

func adjustSymbolValues(ctx *Context) {
	for _, file := range ctx.Objs {
		for _, sym := range file.Symbols {
			if sym.File != file {
				continue
			}

			isec := sym.InputSection
			if isec == nil || len(isec.Deltas) == 0 {
				continue
			}

			rels := isec.GetRels()
			start := sort.Search(len(rels), func(i int) bool {
				return rels[i].Offset >= sym.Value
			})

			// A symbol's on-disk size covers [Value, Value+Size): any CALL/CGP
			// collapse or ALIGN shrink whose relocation falls strictly inside
			// that range removed bytes the symbol itself used to span, so
			// COMPARTMENT_SIZE (and any other size-reading relocation) must see
			// the shrunk size, not the original one.
			elfSym := sym.ElfSym()
			end := sort.Search(len(rels), func(i int) bool {
				return rels[i].Offset >= sym.Value+elfSym.Size
			})
			elfSym.Size -= uint64(isec.Deltas[end] - isec.Deltas[start])

			sym.Value -= uint64(isec.Deltas[start])
		}
	}
}

// Relax runs the relaxation engine to a fixed point (or maxRelaxPasses,
// whichever comes first): each pass re-derives every relaxable section's
// shrink deltas against the current addresses, repositions symbols and
// section offsets, and checks whether anything still changed. Every pass
// recomputes each section's deltas from its original contents, so a
// section can regain bytes from one pass to the next (an ALIGN site's
// removable padding depends on its current address); convergence is
// therefore not guaranteed, and when maxRelaxPasses is reached the layout
// of the last pass is used.
func Relax(ctx *Context) uint64 {
	relaxable := make([]*InputSection, 0)
	for _, file := range ctx.Objs {
		for _, isec := range file.Sections {
			if isRelaxable(isec) {
				relaxable = append(relaxable, isec)
			}
		}
	}

	for pass := 0; pass < maxRelaxPasses; pass++ {
		changed := false
		for _, isec := range relaxable {
			if shrinkSection(ctx, isec) {
				changed = true
			}
		}

		adjustSymbolValues(ctx)
		ComputeSectionSizes(ctx)
		fileoff := SetOsecOffsets(ctx)

		if !changed {
			return fileoff
		}
	}

	return SetOsecOffsets(ctx)
}
