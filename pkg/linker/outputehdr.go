package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"github.com/rvld-cheri/rvld/pkg/utils"
	"unsafe"
)

type OutputEhdr struct {
	Chunk
}

func NewOutputEhdr() *OutputEhdr {
	return &OutputEhdr{
		Chunk: Chunk{
			Shdr: Shdr{
				Flags:     uint64(elf.SHF_ALLOC),
				Size:      uint64(unsafe.Sizeof(Ehdr{})),
				AddrAlign: 8,
			},
		},
	}
}

func (o *OutputEhdr) Kind() int {
	return ChunkKindHeader
}

func GetEntryAddr(ctx *Context) uint64 {
	for _, osec := range ctx.OutputSections {
		if osec.Name == ".text" {
			return osec.Shdr.Addr
		}
	}
	return 0
}

func (o *OutputEhdr) CopyBuf(ctx *Context) {
	var err error
	ehdr := &Ehdr{}
	WriteMagic(ehdr.Ident[:])
	if ctx.Is64 {
		ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS64)
	} else {
		ehdr.Ident[elf.EI_CLASS] = uint8(elf.ELFCLASS32)
	}
	ehdr.Ident[elf.EI_DATA] = uint8(elf.ELFDATA2LSB)
	ehdr.Ident[elf.EI_VERSION] = uint8(elf.EV_CURRENT)
	ehdr.Ident[elf.EI_OSABI] = 0
	ehdr.Ident[elf.EI_ABIVERSION] = 0
	ehdr.Type = uint16(elf.ET_EXEC)
	if ctx.Arg.Relocatable {
		ehdr.Type = uint16(elf.ET_REL)
	}
	ehdr.Machine = uint16(elf.EM_RISCV)
	ehdr.Version = uint32(elf.EV_CURRENT)
	ehdr.Entry = GetEntryAddr(ctx)
	ehdr.PhOff = ctx.Phdr.Shdr.Offset
	ehdr.ShOff = ctx.Shdr.Shdr.Offset

	ehdr.Flags = ctx.MergedFlags
	ehdr.EhSize = uint16(unsafe.Sizeof(Ehdr{}))
	ehdr.PhEntSize = uint16(unsafe.Sizeof(Phdr{}))
	ehdr.PhNum = uint16(ctx.Phdr.Shdr.Size) / uint16(unsafe.Sizeof(Phdr{}))
	ehdr.ShEntSize = uint16(unsafe.Sizeof(Shdr{}))
	ehdr.ShNum = uint16(ctx.Shdr.Shdr.Size) / uint16(unsafe.Sizeof(Shdr{}))

	buf := &bytes.Buffer{}
	err = binary.Write(buf, binary.LittleEndian, ehdr)
	utils.MustNo(err)
	copy(ctx.Buf[o.Shdr.Offset:], buf.Bytes())
}
