package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Component binary section IDs (Component Model binary format).
const (
	sectionCoreModule byte = 1
	sectionExport     byte = 11
)

// Export sort bytes.
const (
	SortCore     byte = 0x00
	SortFunc     byte = 0x01
	SortInstance byte = 0x05
)

// Sanity bounds for malformed input; a hostile binary must not be able to
// force large allocations before validation.
const (
	maxSections   = 100000
	maxExports    = 100000
	maxNameLength = 10000
)

// Export is a single entry of a component's export section, in declared
// order. Name carries the fully qualified interface name (for worlds,
// e.g. "wasi:http/incoming-handler@0.2.0").
type Export struct {
	Name      string
	Sort      byte
	SortIndex uint32
}

// ComponentInfo is the shallow decode of a component binary: the pieces
// the execution adapter needs, nothing more.
type ComponentInfo struct {
	// Exports lists the component's exports in declared order.
	Exports []Export

	// CoreModules holds the embedded core module binaries in declared
	// order. The first core module is the component's executable unit.
	CoreModules [][]byte
}

// ScanComponent walks a component binary's sections and collects export
// names and embedded core modules. Sections irrelevant to execution
// dispatch (types, canons, instances, aliases) are skipped wholesale.
func ScanComponent(data []byte) (*ComponentInfo, error) {
	if TypeOf(data) != TypeComponent {
		return nil, fmt.Errorf("not a component binary")
	}

	r := bytes.NewReader(data[headerSize:])
	info := &ComponentInfo{}

	for section := 0; ; section++ {
		if section > maxSections {
			return nil, fmt.Errorf("exceeded maximum section count %d", maxSections)
		}

		id, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read section ID: %w", err)
		}

		size, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read section size: %w", err)
		}
		if size > uint32(len(data)) {
			return nil, fmt.Errorf("section %d size %d exceeds component size %d", section, size, len(data))
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read section data: %w", err)
		}

		switch id {
		case sectionCoreModule:
			info.CoreModules = append(info.CoreModules, payload)
		case sectionExport:
			exports, err := decodeExports(payload)
			if err != nil {
				return nil, fmt.Errorf("decode exports: %w", err)
			}
			info.Exports = append(info.Exports, exports...)
		}
	}

	if len(info.CoreModules) == 0 {
		return nil, fmt.Errorf("no core modules found in component")
	}
	return info, nil
}

func decodeExports(data []byte) ([]Export, error) {
	r := bytes.NewReader(data)

	count, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if count > maxExports {
		return nil, fmt.Errorf("export count %d exceeds maximum", count)
	}

	exports := make([]Export, 0, count)
	for i := uint32(0); i < count; i++ {
		// Name kind byte: 0x00 plain name, 0x01 version embedded in name.
		if _, err := r.ReadByte(); err != nil {
			return nil, fmt.Errorf("export %d: read name kind: %w", i, err)
		}

		nameLen, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("export %d: read name length: %w", i, err)
		}
		if nameLen > maxNameLength {
			return nil, fmt.Errorf("export %d: name length %d exceeds maximum", i, nameLen)
		}

		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("export %d: read name: %w", i, err)
		}

		sort, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("export %d: read sort: %w", i, err)
		}
		if sort == SortCore {
			// Core sorts carry an extra sub-sort byte.
			if _, err := r.ReadByte(); err != nil {
				return nil, fmt.Errorf("export %d: read core sort: %w", i, err)
			}
		}

		sortIndex, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("export %d: read sort index: %w", i, err)
		}

		exports = append(exports, Export{
			Name:      string(name),
			Sort:      sort,
			SortIndex: sortIndex,
		})
	}

	return exports, nil
}
