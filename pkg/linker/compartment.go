package linker

import "github.com/rvld-cheri/rvld/pkg/utils"

// CHERIoT compartment export/import tables, in the same record-layout
// style as gotentry.go's GotEntry (a small fixed-size struct mirroring an
// on-disk wire format, read with utils.Read). Every cross-compartment call
// goes through a function in the callee's export table, and every call
// site references one through an entry in its own compartment's import
// table.

// CompartmentExport is one 4-byte record of a ".compartment_exports"
// section: a 2-byte label difference giving the exported function's entry
// point as a byte offset from the start of the compartment's code, the
// function's stack usage (in 8-byte units,
// saturating at 255), and a packed byte of calling-convention metadata.
type CompartmentExport struct {
	FunctionStart uint16
	StackSize     uint8
	Flags         uint8
}

// Flags packs the used-argument-register count into bits 0-2 and a
// tri-state interrupt flag into bits 3-4: (usedArgRegs) | (interruptState
// << 3).
const (
	CompartmentExportArgRegsMask    uint8 = 0b0000_0111
	CompartmentExportInterruptShift       = 3
	CompartmentExportInterruptMask  uint8 = 0b0001_1000
)

// Interrupt states an export's Flags byte can carry.
const (
	CompartmentInterruptUnspecified uint8 = 0
	CompartmentInterruptEnabled     uint8 = 1
	CompartmentInterruptDisabled    uint8 = 2
)

// UsedArgRegs returns the count of argument registers the exported
// function expects to be live on entry.
func (e CompartmentExport) UsedArgRegs() uint8 {
	return e.Flags & CompartmentExportArgRegsMask
}

// InterruptState returns the export's interrupt-enable state: one of
// CompartmentInterruptUnspecified/Enabled/Disabled.
func (e CompartmentExport) InterruptState() uint8 {
	return (e.Flags & CompartmentExportInterruptMask) >> CompartmentExportInterruptShift
}

// ParseCompartmentExports decodes a ".compartment_exports" section's raw
// bytes into one CompartmentExport per 4-byte record.
func ParseCompartmentExports(data []byte) []CompartmentExport {
	utils.Assert(len(data)%4 == 0)

	exports := make([]CompartmentExport, 0, len(data)/4)
	for off := 0; off < len(data); off += 4 {
		exports = append(exports, CompartmentExport{
			FunctionStart: utils.Read[uint16](data[off:]),
			StackSize:     utils.Read[uint8](data[off+2:]),
			Flags:         utils.Read[uint8](data[off+3:]),
		})
	}
	return exports
}

// ClampStackSize converts a byte stack requirement into the saturating
// 8-byte-unit count a CompartmentExport record stores.
func ClampStackSize(bytes uint64) uint8 {
	units := (bytes + 7) / 8
	if units > 255 {
		return 255
	}
	return uint8(units)
}

// CompartmentImport is one capability-sized record of a
// ".compartment_imports" section: the address of the callee's export-table
// entry (with bit 0 stolen as a "target is a library, not a compartment"
// flag) followed by a zeroed word the loader fills with the sealed
// capability's metadata at load time.
type CompartmentImport struct {
	ExportTableAddr uint32
	IsLibraryCall   bool
}

// ParseCompartmentImports decodes a ".compartment_imports" section's raw
// bytes, which holds one capSize-byte record per import (the low 8 bytes
// carry the address/flag pair; anything beyond that is loader-reserved
// padding to the capability width).
func ParseCompartmentImports(data []byte, capSize uint64) []CompartmentImport {
	utils.Assert(capSize > 0 && uint64(len(data))%capSize == 0)

	imports := make([]CompartmentImport, 0, uint64(len(data))/capSize)
	for off := uint64(0); off < uint64(len(data)); off += capSize {
		raw := utils.Read[uint32](data[off:])
		imports = append(imports, CompartmentImport{
			ExportTableAddr: raw &^ 1,
			IsLibraryCall:   raw&1 != 0,
		})
	}
	return imports
}

// EncodeCompartmentImport packs a CompartmentImport back into a capSize-byte
// record, the inverse of ParseCompartmentImports. No output section of this
// linker calls it.
func EncodeCompartmentImport(buf []byte, imp CompartmentImport, capSize uint64) {
	utils.Assert(uint64(len(buf)) >= capSize)
	raw := imp.ExportTableAddr &^ 1
	if imp.IsLibraryCall {
		raw |= 1
	}
	utils.Write[uint32](buf, raw)
	utils.Write[uint32](buf[4:], 0)
	for i := uint64(8); i < capSize; i++ {
		buf[i] = 0
	}
}
