package linker

// EFlags merging folds every live input object's e_flags into the single
// value the output ELF header carries, generalizing a plain OR-in of
// EF_RISCV_RVC to the full set of RISC-V ABI flags that must agree
// bit-for-bit across every input object.

// MergeEflags folds every live input object's e_flags into the single value
// the output ELF header carries. EF_RISCV_RVC is OR'd in (any compressed
// object makes the whole output "may contain compressed instructions"); the
// ABI-identity flags must be identical across every object or the link
// fails naming the offending file.
func MergeEflags(ctx *Context) uint32 {
	objs := make([]*ObjectFile, 0, len(ctx.Objs))
	for _, file := range ctx.Objs {
		if file != ctx.InternalObj {
			objs = append(objs, file)
		}
	}

	if len(objs) == 0 {
		return 0
	}

	merged := objs[0].GetEhdr().Flags
	strict := []uint32{EF_RISCV_FLOAT_ABI, EF_RISCV_RVE, EF_RISCV_CHERIABI, EF_RISCV_CAP_MODE}

	for i := 1; i < len(objs); i++ {
		flags := objs[i].GetEhdr().Flags

		if flags&EF_RISCV_RVC != 0 {
			merged |= EF_RISCV_RVC
		}

		for _, bit := range strict {
			if merged&bit != flags&bit {
				ctx.Diag.Add(
					"%s: inconsistent RISC-V e_flags (0x%x) with previous objects (0x%x)",
					objs[i].File.Name, flags&bit, merged&bit)
			}
		}
	}

	return merged
}

// MergeEflagsAndValidate merges eflags, re-derives ctx.Arg.IsCheriAbi from
// the result (calcIsCheriAbi), and flushes any mismatch errors accumulated
// along the way. Must run before relocation scanning/application so every
// later pass sees a settled IsCheriAbi decision.
func MergeEflagsAndValidate(ctx *Context) {
	ctx.MergedFlags = MergeEflags(ctx)
	ctx.Diag.Flush()
	ctx.Arg.IsCheriAbi = calcIsCheriAbi(ctx, ctx.MergedFlags)
}
