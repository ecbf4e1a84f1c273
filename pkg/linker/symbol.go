package linker

import (
	"debug/elf"
)

const (
	NEEDS_GOT      uint32 = 1 << 0
	NEEDS_PLT      uint32 = 1 << 1
	NEEDS_CAPTABLE uint32 = 1 << 2
	NEEDS_GOTTP    uint32 = 1 << 3
)

// SymbolAux holds the per-symbol auxiliary slots (GOT/PLT/captable indices)
// that only a minority of symbols need; keeping them out of Symbol itself
// avoids growing every symbol by fields almost none of them use. A symbol
// opts in by getting a non-negative AuxIdx (see ScanRels in passes.go) the
// first time one of the NEEDS_* flags is set on it.
//
// There is no separate TLS-GD slot: this backend only ever links CHERIoT
// static images, so R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20 resolves through
// the same captable slot (CapTableIdx) as a plain TLS-IE access instead of
// its own dynamic-TLS descriptor pair — there's no dynamic linker here to
// hand a module/offset pair to at load time, so a GD-specific slot would
// hold the exact same single capability TLS-IE already gets.
type SymbolAux struct {
	GotIdx      int32
	GotTpIdx    int32
	PltIdx      int32
	CapTableIdx int32
}

// NewSymbolAux returns a SymbolAux with every slot marked "unassigned".
func NewSymbolAux() SymbolAux {
	return SymbolAux{
		GotIdx:      -1,
		GotTpIdx:    -1,
		PltIdx:      -1,
		CapTableIdx: -1,
	}
}

type Symbol struct {
	File *ObjectFile

	InputSection    *InputSection
	OutputSection   Chunker
	SectionFragment *SectionFragment

	Value uint64
	Name  string

	SymIdx int32
	AuxIdx int32
	VerIdx uint16

	Flags      uint32
	Visibility uint8

	IsWeak     bool
	IsExported bool
}

func NewSymbol(name string) *Symbol {
	s := &Symbol{
		Name:       name,
		SymIdx:     -1,
		AuxIdx:     -1,
		Visibility: uint8(elf.STV_DEFAULT),
	}
	return s
}

func GetSymbolByName(ctx *Context, name string) *Symbol {
	if sym, ok := ctx.SymbolMap[name]; ok {
		return sym
	}
	ctx.SymbolMap[name] = NewSymbol(name)
	return ctx.SymbolMap[name]
}

func (s *Symbol) SetInputSection(isec *InputSection) {
	s.InputSection = isec
	s.OutputSection = nil
	s.SectionFragment = nil
}
func (s *Symbol) SetOutputSection(osec Chunker) {
	s.InputSection = nil
	s.OutputSection = osec
	s.SectionFragment = nil
}
func (s *Symbol) SetSectionFragment(frag *SectionFragment) {
	s.InputSection = nil
	s.OutputSection = nil
	s.SectionFragment = frag
}

func (s *Symbol) GetGotIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].GotIdx
}

func (s *Symbol) GetGotTpIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].GotTpIdx
}

func (s *Symbol) SetGotIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].GotIdx = idx
}

func (s *Symbol) SetGotTpIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].GotTpIdx = idx
}

func (s *Symbol) GetPltIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].PltIdx
}

func (s *Symbol) SetPltIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].PltIdx = idx
}

func (s *Symbol) HasPlt(ctx *Context) bool {
	return s.GetPltIdx(ctx) != -1
}

func (s *Symbol) GetCapTableIdx(ctx *Context) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].CapTableIdx
}

func (s *Symbol) SetCapTableIdx(ctx *Context, idx int32) {
	ctx.SymbolsAux[s.AuxIdx].CapTableIdx = idx
}

// GetPltAddr returns the virtual address of sym's PLT entry. The PLT header
// occupies the first pltHeaderSize bytes of ctx.Plt; the entry for PLT
// index i (counted from 0) follows at pltHeaderSize + i*pltEntrySize.
func (s *Symbol) GetPltAddr(ctx *Context) uint64 {
	return ctx.Plt.Shdr.Addr + uint64(s.GetPltIdx(ctx))*pltEntrySize + pltHeaderSize
}

func (s *Symbol) ElfSym() *Sym {
	return &s.File.ElfSyms[s.SymIdx]
}

func (s *Symbol) GetAddr(ctx *Context) uint64 {
	if s.SectionFragment != nil {
		if !s.SectionFragment.IsAlive {
			return 0
		}
		return s.SectionFragment.GetAddr() + s.Value
	}

	if s.InputSection == nil {
		return s.Value
	}

	if !s.InputSection.IsAlive {
		return 0
	}

	return s.InputSection.GetAddr() + s.Value
}

func (s *Symbol) GetGotTpAddr(ctx *Context) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotTpIdx(ctx))*8
}

func (s *Symbol) Clear() {
	s.File = nil
	s.SectionFragment = nil
	s.OutputSection = nil
	s.InputSection = nil
	s.SymIdx = -1
	s.VerIdx = 0
	s.IsWeak = false
	s.IsExported = false
}

func (s *Symbol) GetRank() uint64 {
	if s.File == nil {
		return 7 << 24
	}
	return GetRank(s.File, s.ElfSym(), !s.File.IsAlive)
}
