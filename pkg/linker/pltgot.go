package linker

import (
	"debug/elf"
	"github.com/rvld-cheri/rvld/pkg/utils"
)

// GOT/PLT writing: the CopyBuf methods of GotPltSection, IgotPltSection,
// PltSection and CapTableSection, together with writePltHeader and
// writePltEntry, lay out the reserved header entries and per-symbol slots
// of .got.plt/.igot.plt/.plt/.captable, built in the same Chunk/Chunker
// idiom as the rest of the output-section layer (gotsection.go,
// outputsection.go).

const (
	pltHeaderSize uint64 = 32
	pltEntrySize  uint64 = 16

	gotPltHeaderEntries uint64 = 2 // reserved for _dl_runtime_resolve, link_map
)

// ptrSize returns the width in bytes of a plain (non-capability) pointer
// slot: 4 under the 32-bit ABI, 8 under 64-bit.
func ptrSize(ctx *Context) uint64 {
	if ctx.Is64 {
		return 8
	}
	return 4
}

// ---- .got.plt --------------------------------------------------------

// GotPltSection is ".got.plt": one reserved-for-the-dynamic-linker header
// (slots 0/1) followed by one slot per PLT-needing symbol, each initialized
// to the PLT header's address so the first call traps into lazy binding.
type GotPltSection struct {
	Chunk
	Syms []*Symbol
}

func NewGotPltSection() *GotPltSection {
	g := &GotPltSection{Chunk: NewChunk()}
	g.Name = ".got.plt"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *GotPltSection) Kind() int { return ChunkKindSynthetic }

func (g *GotPltSection) AddSymbol(ctx *Context, sym *Symbol) {
	sym.SetPltIdx(ctx, int32(len(g.Syms)))
	g.Syms = append(g.Syms, sym)
}

func (g *GotPltSection) UpdateShdr(ctx *Context) {
	g.Shdr.Size = (gotPltHeaderEntries + uint64(len(g.Syms))) * ptrSize(ctx)
}

func (g *GotPltSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[g.Shdr.Offset:]
	sz := ptrSize(ctx)

	// Slots 0 and 1 are filled in by the dynamic linker at load time
	// (_dl_runtime_resolve's address and the link_map pointer); a static
	// linker leaves them zero.
	for i := uint64(0); i < gotPltHeaderEntries*sz; i++ {
		buf[i] = 0
	}

	headerAddr := ctx.Plt.Shdr.Addr
	for i := range g.Syms {
		off := (gotPltHeaderEntries + uint64(i)) * sz
		if sz == 8 {
			utils.Write[uint64](buf[off:], headerAddr)
		} else {
			utils.Write[uint32](buf[off:], uint32(headerAddr))
		}
	}
}

// ---- .igot.plt --------------------------------------------------------

// IgotPltSection is ".igot.plt": one slot per IRELATIVE-resolved symbol,
// holding the symbol's own resolved address rather than the PLT header
// (there is no lazy binding for IRELATIVE entries).
type IgotPltSection struct {
	Chunk
	Syms []*Symbol
}

func NewIgotPltSection() *IgotPltSection {
	g := &IgotPltSection{Chunk: NewChunk()}
	g.Name = ".igot.plt"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	return g
}

func (g *IgotPltSection) Kind() int { return ChunkKindSynthetic }

func (g *IgotPltSection) AddSymbol(sym *Symbol) {
	g.Syms = append(g.Syms, sym)
}

func (g *IgotPltSection) UpdateShdr(ctx *Context) {
	g.Shdr.Size = uint64(len(g.Syms)) * ptrSize(ctx)
}

func (g *IgotPltSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[g.Shdr.Offset:]
	sz := ptrSize(ctx)
	for i, sym := range g.Syms {
		addr := sym.GetAddr(ctx)
		if sz == 8 {
			utils.Write[uint64](buf[uint64(i)*sz:], addr)
		} else {
			utils.Write[uint32](buf[uint64(i)*sz:], uint32(addr))
		}
	}
}

// ---- .plt --------------------------------------------------------

// riscvLoadOpcode returns the opcode for the "load a pointer-or-capability"
// instruction this ABI uses: lw/ld for plain pointers, clc for CHERI
// capabilities.
func riscvLoadOpcode(ctx *Context) uint32 {
	if ctx.Arg.IsCheriAbi {
		return 0b1011011 // clc
	}
	if ctx.Is64 {
		return 0b0000011 | 0b011<<12 // ld (funct3=011)
	}
	return 0b0000011 | 0b010<<12 // lw (funct3=010)
}

func riscvAuipcOpcode(ctx *Context) uint32 {
	if ctx.Arg.IsCheriAbi {
		return 0b0010111 // auipcc (shares auipc's major opcode)
	}
	return 0b0010111 // auipc
}

// PltSection is ".plt": a fixed-size header trampoline followed by one
// 16-byte entry per symbol requiring lazy PLT resolution.
type PltSection struct {
	Chunk
	Syms []*Symbol
}

func NewPltSection() *PltSection {
	p := &PltSection{Chunk: NewChunk()}
	p.Name = ".plt"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	return p
}

func (p *PltSection) Kind() int { return ChunkKindSynthetic }

func (p *PltSection) AddSymbol(sym *Symbol) {
	p.Syms = append(p.Syms, sym)
}

func (p *PltSection) UpdateShdr(ctx *Context) {
	if len(p.Syms) == 0 {
		p.Shdr.Size = 0
		return
	}
	p.Shdr.Size = pltHeaderSize + uint64(len(p.Syms))*pltEntrySize
}

const (
	regT0 = 5
	regT1 = 6
	regT2 = 7
	regT3 = 28
)

// writePltHeader emits the shared trampoline at the start of .plt: loads
// _dl_runtime_resolve out of .got.plt[0], derives the PLT index from the
// return-address-minus-header displacement a caller left in t1, and tail
// jumps. Under CHERI ABI, lazy binding for CHERI PLTs is out of scope, so
// the header is pltHeaderSize bytes of trapping zero padding instead.
func writePltHeader(ctx *Context, buf []byte) {
	if ctx.Arg.IsCheriAbi {
		for i := range buf[:pltHeaderSize] {
			buf[i] = 0
		}
		return
	}

	delta := uint32(int64(ctx.GotPlt.Shdr.Addr) - int64(ctx.Plt.Shdr.Addr))

	load := riscvLoadOpcode(ctx)
	loadOp := func(rd, rs1 uint32, imm uint32) uint32 {
		return itype(imm) | rs1<<15 | rd<<7 | load
	}

	utils.Write[uint32](buf[0:], utype(delta)|regT2<<7|riscvAuipcOpcode(ctx))
	utils.Write[uint32](buf[4:], 0b0100000<<25|regT3<<20|regT1<<15|regT1<<7|0b0110011) // sub t1, t1, t3
	utils.Write[uint32](buf[8:], loadOp(regT3, regT2, delta))                          // l{w,d} t3, off(t2)
	hdrOffset := -int64(pltHeaderSize) - 12
	utils.Write[uint32](buf[12:], itype(uint32(hdrOffset))|regT1<<15|regT1<<7|0b0010011) // addi t1,t1,-(hdr+12)
	utils.Write[uint32](buf[16:], itype(delta)|regT2<<15|regT0<<7|0b0010011)                             // addi t0, t2, off
	shift := utils.CountrZero(uint32(pltEntrySize / ptrSize(ctx)))
	utils.Write[uint32](buf[20:], uint32(shift)<<20|regT1<<15|0b101<<12|regT1<<7|0b0010011) // srli t1, t1, shift
	utils.Write[uint32](buf[24:], loadOp(regT0, regT0, uint32(ptrSize(ctx))))               // l{w,d} t0, ptrSize(t0)
	utils.Write[uint32](buf[28:], regT3<<15|0b1100111)                                      // jalr x0, t3, 0
}

// writePltEntry emits the 16-byte per-symbol trampoline: load the symbol's
// GOT.PLT (or, under CHERI, captable) slot PC-relatively, tail jump to it
// with the link register left set to t1 (the PLT-index register the header
// expects on the slow path).
func writePltEntry(ctx *Context, buf []byte, entryAddr, slot uint64) {
	delta := uint32(int64(slot) - int64(entryAddr))

	load := riscvLoadOpcode(ctx)
	loadOp := func(rd, rs1 uint32, imm uint32) uint32 {
		return itype(imm) | rs1<<15 | rd<<7 | load
	}

	utils.Write[uint32](buf[0:], utype(delta)|regT3<<7|riscvAuipcOpcode(ctx))
	utils.Write[uint32](buf[4:], loadOp(regT3, regT3, delta))
	utils.Write[uint32](buf[8:], regT3<<15|regT1<<7|0b1100111) // {c}jalr t1, t3, 0
	utils.Write[uint32](buf[12:], 0b0010011)                   // nop
}

func (p *PltSection) CopyBuf(ctx *Context) {
	if len(p.Syms) == 0 {
		return
	}
	buf := ctx.Buf[p.Shdr.Offset:]
	writePltHeader(ctx, buf)

	for i, sym := range p.Syms {
		entry := buf[pltHeaderSize+uint64(i)*pltEntrySize:]

		var slot uint64
		if ctx.Arg.IsCheriAbi {
			slot = ctx.Captable.Shdr.Addr + uint64(sym.GetCapTableIdx(ctx))*ctx.CapabilitySize
		} else {
			slot = ctx.GotPlt.Shdr.Addr + (gotPltHeaderEntries+uint64(sym.GetPltIdx(ctx)))*ptrSize(ctx)
		}
		writePltEntry(ctx, entry, sym.GetPltAddr(ctx), slot)
	}
}

// ---- .captable --------------------------------------------------------

// CapTableSection is the CHERI analogue of .got: an array of sealed
// capability slots, one per symbol that needs capability-relative addressing
// (CAPTAB_PCREL_HI20 and friends) or a CHERI PLT entry.
type CapTableSection struct {
	Chunk
	Syms []*Symbol
}

func NewCapTableSection() *CapTableSection {
	c := &CapTableSection{Chunk: NewChunk()}
	c.Name = ".captable"
	c.Shdr.Type = uint32(elf.SHT_PROGBITS)
	c.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	return c
}

func (c *CapTableSection) Kind() int { return ChunkKindSynthetic }

func (c *CapTableSection) AddSymbol(ctx *Context, sym *Symbol) {
	sym.SetCapTableIdx(ctx, int32(len(c.Syms)))
	c.Syms = append(c.Syms, sym)
}

func (c *CapTableSection) UpdateShdr(ctx *Context) {
	c.Shdr.AddrAlign = ctx.CapabilitySize
	c.Shdr.Size = uint64(len(c.Syms)) * ctx.CapabilitySize
}

func (c *CapTableSection) CopyBuf(ctx *Context) {
	buf := ctx.Buf[c.Shdr.Offset:]
	for i, sym := range c.Syms {
		addr := sym.GetAddr(ctx)
		off := uint64(i) * ctx.CapabilitySize
		if ctx.CapabilitySize == 16 {
			utils.Write[uint64](buf[off:], addr)
			utils.Write[uint64](buf[off+8:], 0) // upper capability metadata word; tag is out-of-band
		} else {
			utils.Write[uint32](buf[off:], uint32(addr))
			utils.Write[uint32](buf[off+4:], 0)
		}
	}
}
