package linker

import "github.com/rvld-cheri/rvld/pkg/utils"

// cheriMantissaBits is the mantissa width of the CHERIoT compressed
// capability format. A capability can exactly represent bounds [base, base+n)
// only when n's low cheriMantissaBits-1 bits (after an alignment-dependent
// shift) are representable; anything larger needs bounds padded up to the
// next representable boundary, computed by CheriRequiredAlignment.
const cheriMantissaBits = 9

// CheriRequiredAlignment computes the minimum alignment (in bytes) an object
// of size n must have so a CHERIoT capability can describe it with exactly
// representable bounds. n == 0 is defined to yield msb = 0 (and hence
// alignment 1) rather than relying on undefined leading-zero-of-zero
// behavior.
func CheriRequiredAlignment(n uint64) uint64 {
	msb := uint64(0)
	if n != 0 {
		msb = 64 - uint64(utils.CountlZero(n))
	}

	e := int64(0)
	if int64(msb)-cheriMantissaBits > 0 {
		e = int64(msb) - cheriMantissaBits
	}

	mask := uint64(1<<(cheriMantissaBits-1)) - 1
	if (n>>(uint(e)+1))&mask == mask {
		e++
	}

	return uint64(1) << uint(e)
}

// CapabilitySize returns the width in bytes of a capability register for the
// given pointer width, per the "capability is twice pointer width plus tag"
// convention CHERI uses (the tag itself is out-of-band and not counted here;
// callers needing in-memory footprint account for it separately).
func CapabilitySize(is64 bool) uint64 {
	if is64 {
		return 16
	}
	return 8
}

// calcIsCheriAbi re-derives the "is this a CHERI-ABI link" decision from the
// merged EFlags, and fails loudly if the link-wide configuration requested a
// CHERI ABI link but none of the input objects agree.
func calcIsCheriAbi(ctx *Context, mergedFlags uint32) bool {
	isCheriAbi := mergedFlags&EF_RISCV_CHERIABI != 0
	if ctx.Arg.IsCheriAbi && !isCheriAbi {
		utils.Fatal("link requested CHERI ABI but no input object asserts EF_RISCV_CHERIABI")
	}
	return isCheriAbi
}
