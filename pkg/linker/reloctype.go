package linker

// RelType is the full RISC-V relocation type space this backend understands.
// Values for the psABI-standard kinds match elf.R_RISCV's own numbering, so a
// raw Rela.Type read off disk can be converted directly into a RelType; the
// CHERI and CHERIoT kinds live in the vendor-extension range and have no
// counterpart in the standard library's debug/elf package.
type RelType uint32

const (
	R_RISCV_NONE         RelType = 0
	R_RISCV_32           RelType = 1
	R_RISCV_64           RelType = 2
	R_RISCV_RELATIVE     RelType = 3
	R_RISCV_COPY         RelType = 4
	R_RISCV_JUMP_SLOT    RelType = 5
	R_RISCV_TLS_DTPMOD32 RelType = 6
	R_RISCV_TLS_DTPMOD64 RelType = 7
	R_RISCV_TLS_DTPREL32 RelType = 8
	R_RISCV_TLS_DTPREL64 RelType = 9
	R_RISCV_TLS_TPREL32  RelType = 10
	R_RISCV_TLS_TPREL64  RelType = 11

	R_RISCV_BRANCH       RelType = 16
	R_RISCV_JAL          RelType = 17
	R_RISCV_CALL         RelType = 18
	R_RISCV_CALL_PLT     RelType = 19
	R_RISCV_GOT_HI20     RelType = 20
	R_RISCV_TLS_GOT_HI20 RelType = 21
	R_RISCV_TLS_GD_HI20  RelType = 22
	R_RISCV_PCREL_HI20   RelType = 23
	R_RISCV_PCREL_LO12_I RelType = 24
	R_RISCV_PCREL_LO12_S RelType = 25
	R_RISCV_HI20         RelType = 26
	R_RISCV_LO12_I       RelType = 27
	R_RISCV_LO12_S       RelType = 28
	R_RISCV_TPREL_HI20   RelType = 29
	R_RISCV_TPREL_LO12_I RelType = 30
	R_RISCV_TPREL_LO12_S RelType = 31
	R_RISCV_TPREL_ADD    RelType = 32
	R_RISCV_ADD8         RelType = 33
	R_RISCV_ADD16        RelType = 34
	R_RISCV_ADD32        RelType = 35
	R_RISCV_ADD64        RelType = 36
	R_RISCV_SUB8         RelType = 37
	R_RISCV_SUB16        RelType = 38
	R_RISCV_SUB32        RelType = 39
	R_RISCV_SUB64        RelType = 40
	R_RISCV_GOT32_PCREL  RelType = 41

	R_RISCV_ALIGN      RelType = 43
	R_RISCV_RVC_BRANCH RelType = 44
	R_RISCV_RVC_JUMP   RelType = 45
	R_RISCV_RVC_LUI    RelType = 46

	R_RISCV_RELAX       RelType = 51
	R_RISCV_SUB6        RelType = 52
	R_RISCV_SET6        RelType = 53
	R_RISCV_SET8        RelType = 54
	R_RISCV_SET16       RelType = 55
	R_RISCV_SET32       RelType = 56
	R_RISCV_32_PCREL    RelType = 57
	R_RISCV_IRELATIVE   RelType = 58
	R_RISCV_PLT32       RelType = 59
	R_RISCV_SET_ULEB128 RelType = 60
	R_RISCV_SUB_ULEB128 RelType = 61

	// CHERI capability relocations. These live in the vendor-reserved part
	// of the RISC-V relocation space; the exact numbers are not load-bearing
	// for this linker (only internal classification/applier behavior is),
	// so they're assigned a contiguous private block rather than copied from
	// any single toolchain's header.
	R_RISCV_CHERI_CAPABILITY                RelType = 200
	R_RISCV_CHERI_CAPTAB_PCREL_HI20         RelType = 201
	R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20  RelType = 202
	R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20  RelType = 203
	R_RISCV_CHERI_CJAL                      RelType = 204
	R_RISCV_CHERI_CCALL                     RelType = 205
	R_RISCV_CHERI_RVC_CJUMP                 RelType = 206

	// CHERIoT compartment relocations.
	R_RISCV_CHERIOT_COMPARTMENT_HI   RelType = 210
	R_RISCV_CHERIOT_COMPARTMENT_LO_I RelType = 211
	R_RISCV_CHERIOT_COMPARTMENT_LO_S RelType = 212
	R_RISCV_CHERIOT_COMPARTMENT_SIZE RelType = 213
)

// IsCheri reports whether rt is one of the capability relocation kinds.
func (rt RelType) IsCheri() bool {
	switch rt {
	case R_RISCV_CHERI_CAPABILITY, R_RISCV_CHERI_CAPTAB_PCREL_HI20,
		R_RISCV_CHERI_TLS_IE_CAPTAB_PCREL_HI20, R_RISCV_CHERI_TLS_GD_CAPTAB_PCREL_HI20,
		R_RISCV_CHERI_CJAL, R_RISCV_CHERI_CCALL, R_RISCV_CHERI_RVC_CJUMP:
		return true
	}
	return false
}

// IsCheriotCompartment reports whether rt is one of the CHERIoT compartment
// relocation kinds.
func (rt RelType) IsCheriotCompartment() bool {
	switch rt {
	case R_RISCV_CHERIOT_COMPARTMENT_HI, R_RISCV_CHERIOT_COMPARTMENT_LO_I,
		R_RISCV_CHERIOT_COMPARTMENT_LO_S, R_RISCV_CHERIOT_COMPARTMENT_SIZE:
		return true
	}
	return false
}
