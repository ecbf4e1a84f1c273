package linker

import (
	"debug/elf"
	"fmt"
	"github.com/rvld-cheri/rvld/pkg/utils"
	"math"
	"unsafe"
)

// dtpOffset is the well-known bias subtracted from a DTP-relative TLS value
// under the non-CHERI ABI, applied to R_RISCV_TLS_DTPREL32/64.
const dtpOffset = 0x800

type InputSection struct {
	File          *ObjectFile
	OutputSection *OutputSection
	Contents      []byte
	Deltas        []int32
	Offset        uint32
	Shndx         uint32
	RelsecIdx     uint32
	ShSize        uint32
	OrigShSize    uint32
	IsAlive       bool
	P2Align       uint8
	Rels          []Rela

	// RelaxedCall records, per relocation index, the outcome the relaxation
	// engine (relax.go) chose for a CALL/CALL_PLT/CHERI_CCALL macro: whether
	// it collapsed to a JAL/CJAL, a compressed c.j, or a compressed c.jal.
	// RelaxedCgp records, per relocation index, whether a
	// CHERIOT_COMPARTMENT_HI's AUICGP collapsed to a direct CGP-relative
	// access. Every outcome shrinks the instruction pair at the relocation's
	// own offset (ApplyRelocAlloc and CopyContents already assume cuts start
	// there, so no offset fixups are required elsewhere).
	RelaxedCall []CallRelaxKind
	RelaxedCgp  []bool

	// CgpLoRewrite records, per relocation index, that this COMPARTMENT_LO_I
	// or COMPARTMENT_LO_S relocation's paired HI collapsed and its rs1 field
	// must be rewritten to cgp (register 3) at apply time.
	CgpLoRewrite []bool
}

// CallRelaxKind is the outcome shrinkSection chose for a CALL/CALL_PLT/
// CHERI_CCALL macro pair.
type CallRelaxKind uint8

const (
	CallRelaxNone CallRelaxKind = iota
	CallRelaxJal
	CallRelaxCJ
	CallRelaxCJal
)

func NewInputSection(
	ctx *Context, file *ObjectFile, name string, shndx int64,
) *InputSection {
	s := &InputSection{
		Offset:    math.MaxUint32,
		Shndx:     math.MaxUint32,
		RelsecIdx: math.MaxUint32,
		ShSize:    math.MaxUint32,
		IsAlive:   true,
	}
	s.File = file
	s.Shndx = uint32(shndx)

	shdr := s.Shdr()
	if shndx < int64(len(file.ElfSections)) {
		s.Contents = file.File.Contents[shdr.Offset : shdr.Offset+shdr.Size]
	}

	toP2Align := func(alignment uint64) int64 {
		if alignment == 0 {
			return 0
		}
		return int64(utils.CountrZero[uint64](alignment))
	}

	if shdr.Flags&uint64(elf.SHF_COMPRESSED) != 0 {
		chdr := s.Chdr()
		s.ShSize = uint32(chdr.Size)
		s.P2Align = uint8(toP2Align(chdr.AddrAlign))
	} else {
		s.ShSize = uint32(shdr.Size)
		s.P2Align = uint8(toP2Align(shdr.AddrAlign))
	}

	s.OutputSection =
		GetOutputSectionInstance(ctx, name, uint64(shdr.Type), shdr.Flags)

	s.OrigShSize = s.ShSize

	return s
}

func (s *InputSection) Shdr() *Shdr {
	if s.Shndx < uint32(len(s.File.ElfSections)) {
		return &s.File.ElfSections[s.Shndx]
	}

	utils.Fatal("unreachable")
	return nil
}

func (s *InputSection) Chdr() Chdr {
	return utils.Read[Chdr](s.Contents)
}

func (s *InputSection) GetAddr() uint64 {
	return s.OutputSection.Shdr.Addr + uint64(s.Offset)
}

func (s *InputSection) Name() string {
	if uint32(len(s.File.ElfSections)) <= s.Shndx {
		return ".common"
	}
	return getName(s.File.ShStrtab, s.File.ElfSections[s.Shndx].Name)
}

func (s *InputSection) GetRels() []Rela {
	if s.RelsecIdx == math.MaxUint32 || s.Rels != nil {
		return s.Rels
	}

	bs := s.File.GetBytesFromShdr(&s.File.InputFile.ElfSections[s.RelsecIdx])
	nums := len(bs) / int(unsafe.Sizeof(Rela{}))
	s.Rels = make([]Rela, 0)
	for nums > 0 {
		s.Rels = append(s.Rels, utils.Read[Rela](bs))
		bs = bs[unsafe.Sizeof(Rela{}):]
		nums--
	}

	return s.Rels
}

func (s *InputSection) ScanRelocations(ctx *Context) {
	utils.Assert(s.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0)

	rels := s.GetRels()
	for i := 0; i < len(rels); i++ {
		rel := &rels[i]
		if rel.Type == uint32(elf.R_RISCV_NONE) {
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		if sym.File == nil {
			utils.Fatal(fmt.Sprintf("undefined symbol: %s", sym.Name))
		}

		switch RelType(rel.Type) {
		case R_RISCV_32, R_RISCV_HI20, R_RISCV_64:
			// Do nothing.
		case R_RISCV_32_PCREL, R_RISCV_TLS_GD_HI20:
			utils.Fatal("unreachable")
		case R_RISCV_CALL, R_RISCV_CALL_PLT:
			// Do nothing: this is a purely static link, so a CALL_PLT target
			// is always locally defined by the time relocations are scanned
			// and needs no PLT indirection.
		case R_RISCV_GOT_HI20:
			sym.Flags |= NEEDS_GOT
		case R_RISCV_TLS_GOT_HI20:
			sym.Flags |= NEEDS_GOTTP
			ctx.HasStaticTlsModel = true
		case R_RISCV_BRANCH, R_RISCV_JAL, R_RISCV_PCREL_HI20,
			R_RISCV_PCREL_LO12_I, R_RISCV_PCREL_LO12_S, R_RISCV_LO12_I,
			R_RISCV_LO12_S, R_RISCV_TPREL_HI20, R_RISCV_TPREL_LO12_I,
			R_RISCV_TPREL_LO12_S, R_RISCV_TPREL_ADD, R_RISCV_ADD8,
			R_RISCV_ADD16, R_RISCV_ADD32, R_RISCV_ADD64,
			R_RISCV_SUB8, R_RISCV_SUB16, R_RISCV_SUB32,
			R_RISCV_SUB64, R_RISCV_ALIGN, R_RISCV_RVC_BRANCH,
			R_RISCV_RVC_JUMP, R_RISCV_RELAX, R_RISCV_SUB6,
			R_RISCV_SET6, R_RISCV_SET8, R_RISCV_SET16,
			R_RISCV_SET32, R_RISCV_RVC_LUI, R_RISCV_TLS_DTPREL32,
			R_RISCV_TLS_DTPREL64:
			break
		case R_RISCV_CHERI_CAPABILITY, R_RISCV_CHERI_CAPTAB_PCREL_HI20,
			R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20, R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20:
			// TLS-GD shares the plain captable slot with TLS-IE: this backend
			// only links static images, so there's no dynamic linker for a
			// GD-specific module/offset descriptor pair to matter to.
			sym.Flags |= NEEDS_CAPTABLE
		case R_RISCV_CHERI_CJAL, R_RISCV_CHERI_RVC_CJUMP:
			// PC-capability-relative direct jumps, no indirection needed.
		case R_RISCV_CHERI_CCALL:
			if ctx.Arg.Cheriot {
				sym.Flags |= NEEDS_PLT
			}
		case R_RISCV_CHERIOT_COMPARTMENT_HI:
			if ClassifyCheriotCompartmentHi(sym) == ExprCheriotCGPRel {
				sym.Flags |= NEEDS_CAPTABLE
			}
		case R_RISCV_CHERIOT_COMPARTMENT_LO_I, R_RISCV_CHERIOT_COMPARTMENT_LO_S,
			R_RISCV_CHERIOT_COMPARTMENT_SIZE:
			// Paired with a preceding COMPARTMENT_HI; no independent symbol need.
		default:
			utils.Fatal("unknown relocation")
		}
	}
}

func (s *InputSection) GetPriority() int64 {
	return (int64(s.File.Priority) << 32) | int64(s.Shndx)
}

func (s *InputSection) WriteTo(ctx *Context, buf []byte) {
	if s.Shdr().Type == uint32(elf.SHT_NOBITS) || s.ShSize == 0 {
		return
	}

	s.CopyContents(ctx, buf)

	if s.Shdr().Flags&uint64(elf.SHF_ALLOC) != 0 {
		s.ApplyRelocAlloc(ctx, buf)
	}
}

func (s *InputSection) CopyContents(ctx *Context, buf []byte) {
	if len(s.Deltas) == 0 {
		copy(buf, s.Contents)
		return
	}

	rels := s.GetRels()
	pos := uint64(0)
	for i := 0; i < len(rels); i++ {
		delta := s.Deltas[i+1] - s.Deltas[i]
		if delta == 0 {
			continue
		}
		utils.Assert(delta > 0)

		r := rels[i]
		copy(buf, s.Contents[pos:r.Offset])
		buf = buf[r.Offset-pos:]
		pos = r.Offset + uint64(delta)
	}

	copy(buf, s.Contents[pos:])
}

func itype(val uint32) uint32 {
	return val << 20
}
func stype(val uint32) uint32 {
	return utils.Bits(val, 11, 5)<<25 | utils.Bits(val, 4, 0)<<7
}

func btype(val uint32) uint32 {
	return utils.Bit(val, 12)<<31 | utils.Bits(val, 10, 5)<<25 |
		utils.Bits(val, 4, 1)<<8 | utils.Bit(val, 11)<<7
}

func utype(val uint32) uint32 {
	return (val + 0x800) & 0xffff_f000
}

func jtype(val uint32) uint32 {
	return utils.Bit(val, 20)<<31 | utils.Bits(val, 10, 1)<<21 |
		utils.Bit(val, 11)<<20 | utils.Bits(val, 19, 12)<<12
}

func cbtype(val uint16) uint16 {
	return utils.Bit(val, 8)<<12 | utils.Bit(val, 4)<<11 | utils.Bit(val, 3)<<10 |
		utils.Bit(val, 7)<<6 | utils.Bit(val, 6)<<5 | utils.Bit(val, 2)<<4 |
		utils.Bit(val, 1)<<3 | utils.Bit(val, 5)<<2
}

func cjtype(val uint16) uint16 {
	return utils.Bit(val, 11)<<12 | utils.Bit(val, 4)<<11 | utils.Bit(val, 9)<<10 |
		utils.Bit(val, 8)<<9 | utils.Bit(val, 10)<<8 | utils.Bit(val, 6)<<7 |
		utils.Bit(val, 7)<<6 | utils.Bit(val, 3)<<5 | utils.Bit(val, 2)<<4 |
		utils.Bit(val, 1)<<3 | utils.Bit(val, 5)<<2
}

func writeItype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_11111_111_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|itype(val))
}

func writeStype(loc []byte, val uint32) {
	mask := uint32(0b000000_11111_11111_111_00000_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|stype(val))
}

func writeBtype(loc []byte, val uint32) {
	mask := uint32(0b000000_11111_11111_111_00000_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|btype(val))
}

func writeUtype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_00000_000_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|utype(val))
}

func writeJtype(loc []byte, val uint32) {
	mask := uint32(0b000000_00000_00000_000_11111_1111111)
	utils.Write[uint32](loc, (utils.Read[uint32](loc)&mask)|jtype(val))
}

func writeCbtype(loc []byte, val uint16) {
	mask := uint16(0b111_000_111_00000_11)
	utils.Write[uint16](loc, (utils.Read[uint16](loc)&mask)|cbtype(val))
}

func writeCjtype(loc []byte, val uint16) {
	mask := uint16(0b111_00000000000_11)
	utils.Write[uint16](loc, (utils.Read[uint16](loc)&mask)|cjtype(val))
}

// checkAlignment reports (and returns false for) a relocation whose value
// isn't a multiple of align; BRANCH/JAL/RVC_BRANCH/RVC_JUMP all demand
// 2-byte alignment before their displacement is even scaled.
func (s *InputSection) checkAlignment(ctx *Context, rel *Rela, val int64, align int64) bool {
	if val%align != 0 {
		ctx.Diag.Add("misaligned relocation (type %d) at %s+0x%x against symbol %s: %d is not a multiple of %d",
			rel.Type, s.Name(), rel.Offset, s.symbolName(rel), val, align)
		return false
	}
	return true
}

// checkInt reports (and returns false for) a relocation whose computed
// value doesn't fit in a signed field of the given bit width; used for the
// BRANCH/JAL/RVC_BRANCH/RVC_JUMP/RVC_LUI/HI20-family/COMPARTMENT_HI range
// checks, including a JAL target out of the 21-bit reach.
func (s *InputSection) checkInt(ctx *Context, rel *Rela, val int64, bits int) bool {
	lo := -(int64(1) << (bits - 1))
	hi := (int64(1) << (bits - 1)) - 1
	if val < lo || val > hi {
		ctx.Diag.Add("relocation (type %d) at %s+0x%x against symbol %s out of range: %d is not in [%d, %d]",
			rel.Type, s.Name(), rel.Offset, s.symbolName(rel), val, lo, hi)
		return false
	}
	return true
}

// checkUInt is checkInt's unsigned counterpart, used by
// R_RISCV_CHERIOT_COMPARTMENT_SIZE.
func (s *InputSection) checkUInt(ctx *Context, rel *Rela, val int64, bits int) bool {
	hi := (int64(1) << bits) - 1
	if val < 0 || val > hi {
		ctx.Diag.Add("relocation (type %d) at %s+0x%x against symbol %s out of range: %d is not in [0, %d]",
			rel.Type, s.Name(), rel.Offset, s.symbolName(rel), val, hi)
		return false
	}
	return true
}

func (s *InputSection) symbolName(rel *Rela) string {
	if int(rel.Sym) >= len(s.File.Symbols) {
		return "<unknown>"
	}
	return s.File.Symbols[rel.Sym].Name
}

func (s *InputSection) relaxedCall(relIdx int) CallRelaxKind {
	if relIdx < len(s.RelaxedCall) {
		return s.RelaxedCall[relIdx]
	}
	return CallRelaxNone
}

func (s *InputSection) isCgpLoRewrite(relIdx int) bool {
	return relIdx < len(s.CgpLoRewrite) && s.CgpLoRewrite[relIdx]
}

// writeRelaxedJal turns the surviving instruction of a collapsed CALL macro
// (originally the jalr half, now sole occupant of loc after relax.go cut the
// leading auipc) into a jal encoding the same destination register.
func writeRelaxedJal(loc []byte, val uint32) {
	rd := (utils.Read[uint32](loc) >> 7) & 0x1f
	const jalOpcode = 0b1101111
	utils.Write[uint32](loc, jtype(val)|rd<<7|jalOpcode)
}

// cRvcJOpcode and cRvcJalOpcode are the fixed opcode/funct3 bits of
// c.j/c.jal with a zero immediate; cjtype's scatter only ever sets bits
// these base values leave at 0, so a plain OR reproduces the full word
// regardless of whatever garbage byte CopyContents's shift happened to
// leave at loc.
const (
	cRvcJOpcode   uint16 = 0xa001
	cRvcJalOpcode uint16 = 0x2001
)

// writeRelaxedCJump writes the sole surviving 16-bit instruction of a CALL
// macro collapsed to c.j or c.jal.
func writeRelaxedCJump(loc []byte, base uint16, val uint32) {
	utils.Write[uint16](loc, base|cjtype(uint16(val)))
}

func setRs1(loc []byte, rs1 uint32) {
	utils.Write[uint32](loc, utils.Read[uint32](loc)&0b111111_11111_00000_111_11111_1111111)
	utils.Write[uint32](loc, utils.Read[uint32](loc)|(rs1<<15))
}

func (s *InputSection) ApplyRelocAlloc(ctx *Context, base []byte) {
	rels := s.GetRels()

	getDelta := func(idx int) int32 {
		if len(s.Deltas) == 0 {
			return 0
		}
		return s.Deltas[idx]
	}

	for i := 0; i < len(rels); i++ {
		rel := rels[i]
		rt := RelType(rel.Type)
		if rt == R_RISCV_NONE || rt == R_RISCV_RELAX {
			continue
		}
		if rt == R_RISCV_CHERIOT_COMPARTMENT_HI && i < len(s.RelaxedCgp) && s.RelaxedCgp[i] {
			// relax_cgp deleted the AUICGP outright; nothing to patch.
			continue
		}

		sym := s.File.Symbols[rel.Sym]
		offset := rel.Offset - uint64(getDelta(i))
		loc := base[offset:]

		if sym.File == nil {
			utils.Fatal(fmt.Sprintf("undefined symbol: %s", sym.Name))
		}

		S := sym.GetAddr(ctx)
		A := uint64(rel.Addend)
		P := s.GetAddr() + offset
		G := uint64(sym.GetGotIdx(ctx) * 8)
		GOT := ctx.Got.Shdr.Addr

		switch rt {
		case R_RISCV_32:
			utils.Write[uint32](loc, uint32(S+A))
		case R_RISCV_64:
			utils.Write[uint64](loc, S+A)
		case R_RISCV_BRANCH:
			val := int64(S + A - P)
			if s.checkAlignment(ctx, &rel, val, 2) && s.checkInt(ctx, &rel, val/2, 12) {
				writeBtype(loc, uint32(val))
			}
		case R_RISCV_JAL, R_RISCV_CHERI_CJAL:
			val := int64(S + A - P)
			if s.checkAlignment(ctx, &rel, val, 2) && s.checkInt(ctx, &rel, val/2, 20) {
				writeJtype(loc, uint32(val))
			}
		case R_RISCV_CALL, R_RISCV_CALL_PLT:
			val := uint32(0)
			if !sym.ElfSym().IsUndefWeak() {
				val = uint32(S + A - P)
			}
			switch s.relaxedCall(i) {
			case CallRelaxJal:
				writeRelaxedJal(loc, val)
			case CallRelaxCJ:
				writeRelaxedCJump(loc, cRvcJOpcode, val)
			case CallRelaxCJal:
				writeRelaxedCJump(loc, cRvcJalOpcode, val)
			default:
				writeUtype(loc, val)
				writeItype(loc[4:], val)
			}
		case R_RISCV_CHERI_CCALL:
			val := uint32(0)
			if sym.HasPlt(ctx) {
				val = uint32(sym.GetPltAddr(ctx) + A - P)
			} else if !sym.ElfSym().IsUndefWeak() {
				val = uint32(S + A - P)
			}
			switch s.relaxedCall(i) {
			case CallRelaxJal:
				writeRelaxedJal(loc, val)
			case CallRelaxCJ:
				writeRelaxedCJump(loc, cRvcJOpcode, val)
			case CallRelaxCJal:
				writeRelaxedCJump(loc, cRvcJalOpcode, val)
			default:
				writeUtype(loc, val)
				writeItype(loc[4:], val)
			}
		case R_RISCV_GOT_HI20:
			utils.Write[uint32](loc, uint32(G+GOT+A-P))
		case R_RISCV_TLS_GOT_HI20:
			utils.Write[uint32](loc, uint32(sym.GetGotTpAddr(ctx)+A-P))
		case R_RISCV_TLS_GD_HI20:
			utils.Fatal("unreachable")
		case R_RISCV_PCREL_HI20:
			utils.Write[uint32](loc, uint32(S+A-P))
		case R_RISCV_HI20:
			writeUtype(loc, uint32(S+A))
		case R_RISCV_LO12_I, R_RISCV_LO12_S:
			val := S + A
			if rt == R_RISCV_LO12_I {
				writeItype(loc, uint32(val))
			} else {
				writeStype(loc, uint32(val))
			}

			if utils.SignExtend(val, 11) == val {
				setRs1(loc, 0)
			}
		case R_RISCV_TPREL_HI20:
			writeUtype(loc, uint32(S+A-ctx.TpAddr))
		case R_RISCV_TPREL_ADD:
			break
		case R_RISCV_TPREL_LO12_I, R_RISCV_TPREL_LO12_S:
			val := S + A - ctx.TpAddr
			if rt == R_RISCV_TPREL_LO12_I {
				writeItype(loc, uint32(val))
			} else {
				writeStype(loc, uint32(val))
			}

			if utils.SignExtend(val, 11) == val {
				setRs1(loc, 4)
			}
		case R_RISCV_ADD8:
			utils.Write[uint8](loc, utils.Read[uint8](loc)+uint8(S+A))
		case R_RISCV_ADD16:
			utils.Write[uint16](loc, utils.Read[uint16](loc)+uint16(S+A))
		case R_RISCV_ADD32:
			utils.Write[uint32](loc, utils.Read[uint32](loc)+uint32(S+A))
		case R_RISCV_ADD64:
			utils.Write[uint64](loc, utils.Read[uint64](loc)+uint64(S+A))
		case R_RISCV_SUB8:
			utils.Write[uint8](loc, utils.Read[uint8](loc)-uint8(S+A))
		case R_RISCV_SUB16:
			utils.Write[uint16](loc, utils.Read[uint16](loc)-uint16(S+A))
		case R_RISCV_SUB32:
			utils.Write[uint32](loc, utils.Read[uint32](loc)-uint32(S+A))
		case R_RISCV_SUB64:
			utils.Write[uint64](loc, utils.Read[uint64](loc)-uint64(S+A))
		case R_RISCV_ALIGN:
			paddingSize := int64(utils.AlignTo(P, utils.BitCeil(uint64(rel.Addend+1))) - P)

			idx := int64(0)
			for ; idx < paddingSize-4; idx += 4 {
				utils.Write[uint32](loc[idx:], uint32(0x0000_0013)) // nop
			}
			if idx != paddingSize {
				utils.Write[uint16](loc[idx:], uint16(0x0001)) // c.nop
			}
		case R_RISCV_RVC_LUI:
			val := int64(S + A)
			imm := (val + 0x800) >> 12
			if s.checkInt(ctx, &rel, imm, 6) {
				if imm == 0 {
					// c.lui rd, 0 is an illegal encoding; rewrite to c.li rd, 0.
					utils.Write[uint16](loc, (utils.Read[uint16](loc)&0x0F83)|0x4000)
				} else {
					imm17 := uint16(utils.Bit(uint32(val+0x800), 17)) << 12
					imm16_12 := uint16(utils.Bits(uint32(val+0x800), 16, 12)) << 2
					utils.Write[uint16](loc, (utils.Read[uint16](loc)&0xEF83)|imm17|imm16_12)
				}
			}
		case R_RISCV_TLS_DTPREL32:
			val := S + A
			if !ctx.Arg.IsCheriAbi {
				val -= dtpOffset
			}
			utils.Write[uint32](loc, uint32(val))
		case R_RISCV_TLS_DTPREL64:
			val := S + A
			if !ctx.Arg.IsCheriAbi {
				val -= dtpOffset
			}
			utils.Write[uint64](loc, val)
		case R_RISCV_RVC_BRANCH:
			val := int64(S + A - P)
			if s.checkAlignment(ctx, &rel, val, 2) && s.checkInt(ctx, &rel, val/2, 8) {
				writeCbtype(loc, uint16(val))
			}
		case R_RISCV_RVC_JUMP, R_RISCV_CHERI_RVC_CJUMP:
			val := int64(S + A - P)
			if s.checkAlignment(ctx, &rel, val, 2) && s.checkInt(ctx, &rel, val/2, 11) {
				writeCjtype(loc, uint16(val))
			}
		case R_RISCV_SUB6, R_RISCV_SET6, R_RISCV_SET8, R_RISCV_SET16, R_RISCV_SET32, R_RISCV_32_PCREL:
			utils.Fatal("unreachable")
		case R_RISCV_PCREL_LO12_I, R_RISCV_PCREL_LO12_S:
		case R_RISCV_CHERI_CAPABILITY:
			// The capability-bearing slot itself lives in .captable and is
			// written by CapTableSection.CopyBuf; nothing to patch in-place
			// at the use site.
		case R_RISCV_CHERI_CAPTAB_PCREL_HI20, R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20,
			R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20:
			capAddr := ctx.Captable.Shdr.Addr + uint64(sym.GetCapTableIdx(ctx))*ctx.CapabilitySize
			utils.Write[uint32](loc, uint32(capAddr+A-P))
		case R_RISCV_CHERIOT_COMPARTMENT_HI:
			s.applyCompartmentHi(ctx, loc, sym, A, P)
		case R_RISCV_CHERIOT_COMPARTMENT_LO_I, R_RISCV_CHERIOT_COMPARTMENT_LO_S:
			// Resolved in the second pass below, paired with the preceding
			// COMPARTMENT_HI the way PCREL_LO12 is paired with PCREL_HI20.
		case R_RISCV_CHERIOT_COMPARTMENT_SIZE:
			sz := int64(CheriRequiredAlignment(sym.ElfSym().Size))
			if s.checkUInt(ctx, &rel, sz, 12) {
				writeItype(loc, uint32(sz))
			}
		default:
			utils.Fatal("unreachable")
		}
	}

	for i := 0; i < len(rels); i++ {
		switch RelType(rels[i].Type) {
		case R_RISCV_PCREL_LO12_I, R_RISCV_PCREL_LO12_S:
			sym := s.File.Symbols[rels[i].Sym]
			utils.Assert(sym.InputSection == s)
			loc := base[rels[i].Offset-uint64(getDelta(i)):]
			val := utils.Read[uint32](base[sym.Value:])

			if rels[i].Type == uint32(elf.R_RISCV_PCREL_LO12_I) {
				writeItype(loc, val)
			} else {
				writeStype(loc, val)
			}
		case R_RISCV_CHERIOT_COMPARTMENT_LO_I, R_RISCV_CHERIOT_COMPARTMENT_LO_S:
			sym := s.File.Symbols[rels[i].Sym]
			utils.Assert(sym.InputSection == s)
			loc := base[rels[i].Offset-uint64(getDelta(i)):]
			val := utils.Read[uint32](base[sym.Value:])

			if RelType(rels[i].Type) == R_RISCV_CHERIOT_COMPARTMENT_LO_I {
				writeItype(loc, val)
			} else {
				writeStype(loc, val)
			}

			if s.isCgpLoRewrite(i) {
				// relax_cgp collapsed the paired HI's AUICGP; this low half
				// now addresses cgp (register 3) directly instead of the
				// register the deleted AUICGP would have produced.
				const cgpReg = 3
				setRs1(loc, cgpReg)
			}
		}
	}

	for i := 0; i < len(rels); i++ {
		switch RelType(rels[i].Type) {
		case R_RISCV_GOT_HI20, R_RISCV_PCREL_HI20, R_RISCV_TLS_GOT_HI20, R_RISCV_TLS_GD_HI20,
			R_RISCV_CHERI_CAPTAB_PCREL_HI20, R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20,
			R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20:
			loc := base[rels[i].Offset-uint64(getDelta(i)):]
			val := utils.Read[uint32](loc)
			hi20 := (int64(int32(val)) + 0x800) >> 12
			s.checkInt(ctx, &rels[i], hi20, 20)
			utils.Write[uint32](loc, utils.Read[uint32](s.Contents[rels[i].Offset:]))
			writeUtype(loc, val)

		case R_RISCV_CHERIOT_COMPARTMENT_HI:
			if i < len(s.RelaxedCgp) && s.RelaxedCgp[i] {
				continue
			}
			loc := base[rels[i].Offset-uint64(getDelta(i)):]
			sym := s.File.Symbols[rels[i].Sym]
			s.finalizeCompartmentHi(ctx, &rels[i], loc, sym)
		}
	}
}

// applyCompartmentHi stashes the raw, unbiased delta a COMPARTMENT_HI
// relocation encodes at loc, the same way PCREL_HI20 stashes its raw S+A-P:
// the paired COMPARTMENT_LO_I/LO_S reads this same raw value back out of
// loc (second pass below) before the finalize pass (third loop) rewrites
// loc in place to the biased, shifted, opcode-selected AUIPCC/AUICGP
// encoding.
func (s *InputSection) applyCompartmentHi(ctx *Context, loc []byte, sym *Symbol, A, P uint64) {
	if ClassifyCheriotCompartmentHi(sym) == ExprCheriotPC {
		utils.Write[uint32](loc, uint32(sym.GetAddr(ctx)+A-P))
		return
	}

	capAddr := ctx.Captable.Shdr.Addr + uint64(sym.GetCapTableIdx(ctx))*ctx.CapabilitySize
	utils.Write[uint32](loc, uint32(capAddr+A-ctx.Captable.Shdr.Addr))
}

// cheriotAuipcc and cheriotAuicgp are the two possible opcodes (low 7 bits)
// of a COMPARTMENT_HI instruction; the linker chooses between them based on
// whether the symbol turned out PC-relative or CGP-relative, overwriting
// whatever the compiler guessed.
const (
	cheriotAuipcc uint32 = 0x17
	cheriotAuicgp uint32 = 0x7b
)

// finalizeCompartmentHi rewrites loc from the raw delta applyCompartmentHi
// stashed there into the final AUIPCC/AUICGP encoding. PC-relative values
// are shifted arithmetically right by 11 (AUIPCC's immediate addresses
// 2KiB-aligned PCC capability granules), a negative value first rounded up
// to the next 2048-byte boundary;
// CGP-relative values are written unshifted. Either way the target
// register is preserved from the original instruction and the opcode is
// rewritten to match the chosen addressing mode.
func (s *InputSection) finalizeCompartmentHi(ctx *Context, rel *Rela, loc []byte, sym *Symbol) {
	val := int64(int32(utils.Read[uint32](loc)))

	opcode := cheriotAuicgp
	if ClassifyCheriotCompartmentHi(sym) == ExprCheriotPC {
		opcode = cheriotAuipcc
		if val < 0 {
			val = (val + 0x7ff) &^ 0x7ff
		}
		val >>= 11
	}
	s.checkInt(ctx, rel, val, 20)

	rd := utils.Read[uint32](s.Contents[rel.Offset:]) & 0x0000_0f80
	utils.Write[uint32](loc, rd|uint32(val)<<12|opcode)
}

func (s *InputSection) GetFragment(rel *Rela) (*SectionFragment, uint32) {
	esym := &s.File.ElfSyms[rel.Sym]
	if esym.Type() == uint8(elf.STT_SECTION) {
		m := s.File.MergeableSections[s.File.GetShndx(esym, int64(rel.Sym))]
		return m.GetFragment(uint32(esym.Val) + uint32(rel.Addend))
	}
	return nil, 0
}
