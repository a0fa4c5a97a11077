package wasihttp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/ignitionstack/wasmshim/internal/wasmtest"
)

// allocModule builds a guest with linear memory and a bump-allocator
// cabi_realloc, the minimal surface the lowering helpers need.
func allocModule() []byte {
	// cabi_realloc(old, oldSize, align, newSize) -> ptr
	body := wasmtest.Body(1,
		wasmtest.OpGlobalGet, 0x00,
		wasmtest.OpLocalSet, 0x04,
		wasmtest.OpGlobalGet, 0x00,
		wasmtest.OpLocalGet, 0x03,
		wasmtest.OpI32Add,
		wasmtest.OpGlobalSet, 0x00,
		wasmtest.OpLocalGet, 0x04,
		wasmtest.OpEnd,
	)
	return wasmtest.Module(
		wasmtest.TypeSection(wasmtest.FuncType(
			[]byte{wasmtest.ValI32, wasmtest.ValI32, wasmtest.ValI32, wasmtest.ValI32},
			[]byte{wasmtest.ValI32},
		)),
		wasmtest.FuncSection(0),
		wasmtest.MemorySection(1),
		wasmtest.GlobalSection(wasmtest.GlobalI32(1024)),
		wasmtest.ExportSection(
			wasmtest.ExportFunc("cabi_realloc", 0),
			wasmtest.ExportMemory("memory", 0),
		),
		wasmtest.CodeSection(body),
	)
}

func setupGuest(t *testing.T) (context.Context, api.Module) {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })

	mod, err := r.Instantiate(ctx, allocModule())
	require.NoError(t, err)
	return ctx, mod
}

func TestLowerString(t *testing.T) {
	ctx, mod := setupGuest(t)

	ptr, n, err := lowerString(ctx, mod, "hello")
	require.NoError(t, err)
	assert.Equal(t, uint32(5), n)

	got, err := readBytes(mod, ptr, n)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	// Successive allocations must not overlap.
	ptr2, _, err := lowerString(ctx, mod, "world")
	require.NoError(t, err)
	assert.NotEqual(t, ptr, ptr2)
	got, err = readBytes(mod, ptr, n)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestLowerOptionString(t *testing.T) {
	ctx, mod := setupGuest(t)
	ret, err := guestAlloc(ctx, mod, 12, 4)
	require.NoError(t, err)

	t.Run("none", func(t *testing.T) {
		require.NoError(t, lowerOptionString(ctx, mod, nil, ret))
		disc, _ := mod.Memory().ReadUint32Le(ret)
		assert.Equal(t, uint32(0), disc)
	})

	t.Run("some", func(t *testing.T) {
		s := "authority"
		require.NoError(t, lowerOptionString(ctx, mod, &s, ret))
		disc, _ := mod.Memory().ReadUint32Le(ret)
		require.Equal(t, uint32(1), disc)
		ptr, _ := mod.Memory().ReadUint32Le(ret + 4)
		n, _ := mod.Memory().ReadUint32Le(ret + 8)
		got, err := readBytes(mod, ptr, n)
		require.NoError(t, err)
		assert.Equal(t, s, string(got))
	})
}

func TestEntriesRoundTrip(t *testing.T) {
	ctx, mod := setupGuest(t)

	headers := map[string][]string{
		"content-type": {"text/plain"},
		"x-multi":      {"a", "b"},
	}
	ptr, count, err := lowerEntries(ctx, mod, headers)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), count)

	got, err := liftEntries(mod, ptr, count)
	require.NoError(t, err)
	assert.Equal(t, headers, got)
}

func TestLowerEmpty(t *testing.T) {
	ctx, mod := setupGuest(t)

	ptr, n, err := lowerBytes(ctx, mod, nil)
	require.NoError(t, err)
	assert.Zero(t, ptr)
	assert.Zero(t, n)

	ptr, count, err := lowerEntries(ctx, mod, nil)
	require.NoError(t, err)
	assert.Zero(t, ptr)
	assert.Zero(t, count)
}

func TestGuestWithoutRealloc(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })

	mod, err := r.Instantiate(ctx, wasmtest.Module(
		wasmtest.MemorySection(1),
		wasmtest.ExportSection(wasmtest.ExportMemory("memory", 0)),
	))
	require.NoError(t, err)

	_, _, err = lowerString(ctx, mod, "x")
	assert.ErrorContains(t, err, "cabi_realloc")
}
