package linker

import (
	"fmt"
	"github.com/rvld-cheri/rvld/pkg/utils"
)

// GetImplicitAddend recovers, given the raw bytes at a relocation's location
// and its kind, the addend a REL (as opposed to RELA) record would have
// carried implicitly. This backend only ever consumes RELA objects, so every
// live relocation already has an explicit Rela.Addend; GetImplicitAddend
// exists for the handful of REL-style inputs (the psABI allows either) and
// the dynamic-relocation kinds the framework synthesizes without an
// explicit addend field.
func GetImplicitAddend(bytes []byte, kind RelType, is64 bool) int64 {
	switch kind {
	case R_RISCV_32, R_RISCV_TLS_DTPMOD32, R_RISCV_TLS_DTPREL32:
		return int64(int32(utils.Read[uint32](bytes)))
	case R_RISCV_64:
		return int64(utils.Read[uint64](bytes))
	case R_RISCV_RELATIVE, R_RISCV_IRELATIVE:
		if is64 {
			return int64(utils.Read[uint64](bytes))
		}
		return int64(int32(utils.Read[uint32](bytes)))
	case R_RISCV_NONE, R_RISCV_JUMP_SLOT:
		return 0
	default:
		utils.Fatal(fmt.Sprintf(
			"getImplicitAddend: relocation kind %d is not expected in REL form", kind))
		return 0
	}
}

// symbolicRel is the one dynamic relocation kind this backend emits for a
// plain symbolic (non-PLT, non-RELATIVE) reference, sized by the target's
// pointer width.
func symbolicRel(ctx *Context) RelType {
	if ctx.Is64 {
		return R_RISCV_64
	}
	return R_RISCV_32
}

// GetDynRel reports which static relocation kind, if any, should become a
// dynamic one: every static kind degrades to NONE unless it's already the
// width-appropriate symbolic kind, since this is a purely static linker and
// never emits R_RISCV_RELATIVE/R_RISCV_COPY/R_RISCV_JUMP_SLOT/
// R_RISCV_IRELATIVE dynamic records of its own — that's generic
// dynamic-linking machinery left to an external collaborator.
func GetDynRel(ctx *Context, kind RelType) RelType {
	if kind == symbolicRel(ctx) {
		return kind
	}
	return R_RISCV_NONE
}
