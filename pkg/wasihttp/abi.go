package wasihttp

import (
	"context"
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero/api"
)

// Canonical-ABI helpers. Lowering into guest memory allocates through the
// guest's exported `cabi_realloc`, the same convention component
// toolchains emit.

const reallocExport = "cabi_realloc"

func guestAlloc(ctx context.Context, mod api.Module, size, align uint32) (uint32, error) {
	realloc := mod.ExportedFunction(reallocExport)
	if realloc == nil {
		return 0, fmt.Errorf("guest does not export %q", reallocExport)
	}
	results, err := realloc.Call(ctx, 0, 0, uint64(align), uint64(size))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", reallocExport, err)
	}
	return uint32(results[0]), nil
}

// lowerBytes copies b into guest memory and returns (ptr, len).
func lowerBytes(ctx context.Context, mod api.Module, b []byte) (uint32, uint32, error) {
	if len(b) == 0 {
		return 0, 0, nil
	}
	ptr, err := guestAlloc(ctx, mod, uint32(len(b)), 1)
	if err != nil {
		return 0, 0, err
	}
	if !mod.Memory().Write(ptr, b) {
		return 0, 0, fmt.Errorf("write %d bytes at 0x%x: out of range", len(b), ptr)
	}
	return ptr, uint32(len(b)), nil
}

func lowerString(ctx context.Context, mod api.Module, s string) (uint32, uint32, error) {
	return lowerBytes(ctx, mod, []byte(s))
}

// lowerOptionString stores an option<string> at retPtr: disc, ptr, len.
func lowerOptionString(ctx context.Context, mod api.Module, s *string, retPtr uint32) error {
	if s == nil {
		return storeU32(mod, retPtr, 0, 0, 0)
	}
	ptr, n, err := lowerString(ctx, mod, *s)
	if err != nil {
		return err
	}
	return storeU32(mod, retPtr, 1, ptr, n)
}

// lowerEntries lowers fields as list<(string, list<u8>)>: one 16-byte
// tuple of (name ptr, name len, value ptr, value len) per header value,
// sorted by name for determinism. Returns (ptr, count).
func lowerEntries(ctx context.Context, mod api.Module, headers map[string][]string) (uint32, uint32, error) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	type entry struct{ name, value string }
	var entries []entry
	for _, name := range names {
		for _, v := range headers[name] {
			entries = append(entries, entry{name, v})
		}
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	base, err := guestAlloc(ctx, mod, uint32(len(entries))*16, 4)
	if err != nil {
		return 0, 0, err
	}
	for i, e := range entries {
		np, nl, err := lowerString(ctx, mod, e.name)
		if err != nil {
			return 0, 0, err
		}
		vp, vl, err := lowerString(ctx, mod, e.value)
		if err != nil {
			return 0, 0, err
		}
		if err := storeU32(mod, base+uint32(i)*16, np, nl, vp, vl); err != nil {
			return 0, 0, err
		}
	}
	return base, uint32(len(entries)), nil
}

// liftEntries reads a list<(string, list<u8>)> back out of guest memory.
func liftEntries(mod api.Module, ptr, count uint32) (map[string][]string, error) {
	headers := make(map[string][]string, count)
	for i := uint32(0); i < count; i++ {
		tuple := ptr + i*16
		words := make([]uint32, 4)
		for j := range words {
			v, ok := mod.Memory().ReadUint32Le(tuple + uint32(j)*4)
			if !ok {
				return nil, fmt.Errorf("read entry %d at 0x%x: out of range", i, tuple)
			}
			words[j] = v
		}
		name, err := readBytes(mod, words[0], words[1])
		if err != nil {
			return nil, err
		}
		value, err := readBytes(mod, words[2], words[3])
		if err != nil {
			return nil, err
		}
		headers[string(name)] = append(headers[string(name)], string(value))
	}
	return headers, nil
}

func readBytes(mod api.Module, ptr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	b, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at 0x%x: out of range", length, ptr)
	}
	out := make([]byte, length)
	copy(out, b)
	return out, nil
}

// storeU32 writes consecutive little-endian uint32 words starting at addr.
func storeU32(mod api.Module, addr uint32, vals ...uint32) error {
	for i, v := range vals {
		if !mod.Memory().WriteUint32Le(addr+uint32(i)*4, v) {
			return fmt.Errorf("write u32 at 0x%x: out of range", addr+uint32(i)*4)
		}
	}
	return nil
}
