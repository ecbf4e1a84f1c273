package linker

import "github.com/rvld-cheri/rvld/pkg/utils"

type ContextArg struct {
	Output    string
	Emulation MachineType

	LibraryPaths []string

	// Relax enables the iterative relaxation engine. Mirrors the GNU ld/LLD
	// default of on, with --no-relax to disable it.
	Relax bool

	// IsCheriAbi requests a CHERI-ABI link; calcIsCheriAbi (cheri.go) fails
	// the link if no input object actually asserts EF_RISCV_CHERIABI.
	IsCheriAbi bool

	// Cheriot additionally enables CHERIoT compartment relocation handling
	// (AUICGP classification, compartment export/import table support).
	Cheriot bool

	// Relocatable is set by -r/--relocatable. Its only effect is that the
	// output ELF header's type is ET_REL instead of ET_EXEC; layout,
	// relocation application and relaxation run as for an executable, and
	// no relocation sections are written.
	Relocatable bool

	// WriteAddends is carried as configuration only: no pass reads it, and
	// the relocation applier always writes the computed value into the
	// section.
	WriteAddends bool
}

type Context struct {
	Arg ContextArg

	// Is64 and CapabilitySize mirror the target's word/capability widths,
	// consumed throughout relocation application, GOT/PLT layout, and the
	// CHERI helpers.
	Is64           bool
	CapabilitySize uint64

	// HasStaticTlsModel is set by relocation scanning
	// (InputSection.ScanRelocations) when it sees a TLS_GOT_HI20 relocation.
	// It constrains later dynamic-tag
	// emission, which is out of this backend's scope, but the flag itself
	// is still tracked so a future consumer can read it.
	HasStaticTlsModel bool

	// MergedFlags is the output e_flags value computed once by
	// MergeEflagsAndValidate, early enough that ctx.Arg.IsCheriAbi is settled
	// before relocation scanning and application need to consult it.
	MergedFlags uint32

	Diag Diagnostics

	SymbolMap map[string]*Symbol

	SymbolsAux []SymbolAux

	Ehdr     *OutputEhdr
	Shdr     *OutputShdr
	Phdr     *OutputPhdr
	Got      *GotSection
	GotPlt   *GotPltSection
	Plt      *PltSection
	Igot     *IgotPltSection
	Captable *CapTableSection

	Buf []byte

	FilePriority int64
	Visited      utils.MapSet[string]

	Objs []*ObjectFile

	InternalObj   *ObjectFile
	InternalEsyms []Sym

	Chunks []Chunker

	MergedSections []*MergedSection
	OutputSections []*OutputSection

	DefaultVersion uint16

	TpAddr uint64

	__InitArrayStart    *Symbol
	__InitArrayEnd      *Symbol
	__FiniArrayStart    *Symbol
	__FiniArrayEnd      *Symbol
	__PreinitArrayStart *Symbol
	__PreinitArrayEnd   *Symbol
	__GlobalPointer     *Symbol

	// __DynamicStart tracks the VA of a ".dynamic" chunk the same way
	// __InitArrayStart tracks ".init_array": FixSyntheticSymbols binds it to
	// whichever output chunk carries SHT_DYNAMIC, if any. GotSection.CopyBuf
	// writes its resolved address into .got[0] per the psABI convention. This
	// backend never constructs a .dynamic chunk itself (DT_ tag emission is
	// out of scope), so in every link this backend actually produces the
	// symbol stays unbound and .got[0] is 0 — the field exists so the GOT
	// slot reservation and the address lookup are both correct should a
	// .dynamic chunk ever be wired in above this layer.
	__DynamicStart *Symbol
}

func NewContext() *Context {
	return &Context{
		Arg: ContextArg{
			Emulation:    MachineTypeNone,
			Output:       "a.out",
			Relax:        true,
			WriteAddends: false,
		},
		Is64:           true,
		CapabilitySize: 16,
		SymbolMap:      make(map[string]*Symbol),
		Visited:        utils.NewMapSet[string](),
		FilePriority:   10000,
		DefaultVersion: VER_NDX_LOCAL,
	}
}
