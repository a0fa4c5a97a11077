// Package wasmtest builds minimal WebAssembly binaries programmatically so
// engine and proxy tests can run real guests without any external
// toolchain. Only the handful of module and component sections the tests
// need are supported.
package wasmtest

import "encoding/binary"

// Core value types and opcodes used by the builders.
const (
	ValI32 byte = 0x7F

	OpI32Const  byte = 0x41
	OpI32Add    byte = 0x6A
	OpCall      byte = 0x10
	OpLocalGet  byte = 0x20
	OpLocalSet  byte = 0x21
	OpGlobalGet byte = 0x23
	OpGlobalSet byte = 0x24
	OpEnd       byte = 0x0B
)

// Uleb encodes an unsigned LEB128 value.
func Uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// Sleb encodes a signed LEB128 value.
func Sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

// Name encodes a length-prefixed name.
func Name(s string) []byte {
	return append(Uleb(uint32(len(s))), s...)
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, Uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func vec(items ...[]byte) []byte {
	out := Uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

// Module assembles a core module from encoded sections.
func Module(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

// FuncType encodes a function type.
func FuncType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, vecBytes(params)...)
	out = append(out, vecBytes(results)...)
	return out
}

func vecBytes(b []byte) []byte {
	return append(Uleb(uint32(len(b))), b...)
}

// TypeSection encodes a type section from function types.
func TypeSection(types ...[]byte) []byte {
	return section(1, vec(types...))
}

// FuncImport encodes a function import referencing a type index.
func FuncImport(module, name string, typeIdx uint32) []byte {
	out := Name(module)
	out = append(out, Name(name)...)
	out = append(out, 0x00)
	return append(out, Uleb(typeIdx)...)
}

// ImportSection encodes an import section.
func ImportSection(imports ...[]byte) []byte {
	return section(2, vec(imports...))
}

// FuncSection declares defined functions by type index.
func FuncSection(typeIdxs ...uint32) []byte {
	items := make([][]byte, len(typeIdxs))
	for i, t := range typeIdxs {
		items[i] = Uleb(t)
	}
	return section(3, vec(items...))
}

// MemorySection declares a single memory with the given minimum page count.
func MemorySection(minPages uint32) []byte {
	payload := vec(append([]byte{0x00}, Uleb(minPages)...))
	return section(5, payload)
}

// GlobalI32 encodes a mutable i32 global with a constant initializer.
func GlobalI32(init int32) []byte {
	out := []byte{ValI32, 0x01, OpI32Const}
	out = append(out, Sleb(init)...)
	return append(out, OpEnd)
}

// GlobalSection encodes a global section.
func GlobalSection(globals ...[]byte) []byte {
	return section(6, vec(globals...))
}

// ExportFunc encodes a function export.
func ExportFunc(name string, funcIdx uint32) []byte {
	out := Name(name)
	out = append(out, 0x00)
	return append(out, Uleb(funcIdx)...)
}

// ExportMemory encodes a memory export.
func ExportMemory(name string, memIdx uint32) []byte {
	out := Name(name)
	out = append(out, 0x02)
	return append(out, Uleb(memIdx)...)
}

// ExportSection encodes an export section.
func ExportSection(exports ...[]byte) []byte {
	return section(7, vec(exports...))
}

// Body encodes a function body with the given extra i32 locals.
func Body(i32Locals uint32, instrs ...byte) []byte {
	var decls []byte
	if i32Locals == 0 {
		decls = Uleb(0)
	} else {
		decls = Uleb(1)
		decls = append(decls, Uleb(i32Locals)...)
		decls = append(decls, ValI32)
	}
	body := append(decls, instrs...)
	return append(Uleb(uint32(len(body))), body...)
}

// CodeSection encodes a code section from function bodies.
func CodeSection(bodies ...[]byte) []byte {
	return section(10, vec(bodies...))
}

// ComponentExport encodes a component export-section entry.
func ComponentExport(name string, sort byte, sortIdx uint32) []byte {
	out := []byte{0x00}
	out = append(out, Name(name)...)
	out = append(out, sort)
	if sort == 0x00 {
		out = append(out, 0x11)
	}
	return append(out, Uleb(sortIdx)...)
}

// Component wraps a core module in a component binary carrying the given
// export-section entries.
func Component(coreModule []byte, exports ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
	out = append(out, section(1, coreModule)...)
	if len(exports) > 0 {
		out = append(out, section(11, vec(exports...))...)
	}
	return out
}

// I32Const returns an i32.const instruction.
func I32Const(v int32) []byte {
	return append([]byte{OpI32Const}, Sleb(v)...)
}

// PutUint32 writes a little-endian uint32, for asserting on guest memory.
func PutUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}
