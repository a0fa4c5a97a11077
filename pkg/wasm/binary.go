// Package wasm provides WebAssembly binary inspection: classification of
// raw bytes as core modules or components, and shallow decoding of
// component binaries (export names, embedded core modules).
//
// Nothing in this package executes code; it is pure byte inspection used
// by the engine to pick an invocation strategy.
package wasm

import "encoding/binary"

// BinaryType identifies the shape of a WebAssembly binary.
type BinaryType int

const (
	// TypeUnknown means the bytes match neither a core module nor a
	// component. Callers decide whether this is fatal; it is not an error
	// here so that a second-pass precompiled-artifact probe can run.
	TypeUnknown BinaryType = iota

	// TypeModule is a core WebAssembly module.
	TypeModule

	// TypeComponent is a Component Model binary.
	TypeComponent
)

func (t BinaryType) String() string {
	switch t {
	case TypeModule:
		return "module"
	case TypeComponent:
		return "component"
	default:
		return "unknown"
	}
}

// headerSize is the magic number plus the version/layer word.
const headerSize = 8

// TypeOf classifies raw bytes by magic number and version/layer word.
// Core modules carry version 1; component binaries encode a layer field
// in the upper half of the word, making the combined value greater than 1.
func TypeOf(data []byte) BinaryType {
	if len(data) < headerSize {
		return TypeUnknown
	}
	if data[0] != 0x00 || data[1] != 0x61 || data[2] != 0x73 || data[3] != 0x6D {
		return TypeUnknown
	}
	switch version := binary.LittleEndian.Uint32(data[4:8]); {
	case version == 1:
		return TypeModule
	case version > 1:
		return TypeComponent
	default:
		return TypeUnknown
	}
}
