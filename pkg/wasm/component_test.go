package wasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignitionstack/wasmshim/internal/wasmtest"
)

func TestScanComponent(t *testing.T) {
	t.Run("exports in declared order", func(t *testing.T) {
		core := wasmtest.Module()
		comp := wasmtest.Component(core,
			wasmtest.ComponentExport("wasi:cli/run@0.2.0", SortInstance, 0),
			wasmtest.ComponentExport("wasi:http/incoming-handler@0.2.0", SortInstance, 1),
			wasmtest.ComponentExport("custom", SortFunc, 2),
		)

		info, err := ScanComponent(comp)
		require.NoError(t, err)
		require.Len(t, info.Exports, 3)
		assert.Equal(t, "wasi:cli/run@0.2.0", info.Exports[0].Name)
		assert.Equal(t, "wasi:http/incoming-handler@0.2.0", info.Exports[1].Name)
		assert.Equal(t, "custom", info.Exports[2].Name)
		assert.Equal(t, SortFunc, info.Exports[2].Sort)
		assert.Equal(t, uint32(2), info.Exports[2].SortIndex)
	})

	t.Run("embedded core module round-trips", func(t *testing.T) {
		core := wasmtest.Module(
			wasmtest.TypeSection(wasmtest.FuncType(nil, nil)),
			wasmtest.FuncSection(0),
			wasmtest.ExportSection(wasmtest.ExportFunc("_start", 0)),
			wasmtest.CodeSection(wasmtest.Body(0, wasmtest.OpEnd)),
		)
		comp := wasmtest.Component(core)

		info, err := ScanComponent(comp)
		require.NoError(t, err)
		require.Len(t, info.CoreModules, 1)
		assert.Equal(t, core, info.CoreModules[0])
		assert.Equal(t, TypeModule, TypeOf(info.CoreModules[0]))
	})

	t.Run("core sort carries an extra byte", func(t *testing.T) {
		comp := wasmtest.Component(wasmtest.Module(),
			wasmtest.ComponentExport("core-thing", SortCore, 4),
			wasmtest.ComponentExport("after", SortFunc, 5),
		)

		info, err := ScanComponent(comp)
		require.NoError(t, err)
		require.Len(t, info.Exports, 2)
		assert.Equal(t, "after", info.Exports[1].Name)
	})

	t.Run("not a component", func(t *testing.T) {
		_, err := ScanComponent(wasmtest.Module())
		assert.Error(t, err)
	})

	t.Run("component without core modules", func(t *testing.T) {
		comp := []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
		_, err := ScanComponent(comp)
		assert.ErrorContains(t, err, "no core modules")
	})

	t.Run("section size exceeding input", func(t *testing.T) {
		comp := append([]byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}, 0x01, 0xFF, 0xFF, 0x03)
		_, err := ScanComponent(comp)
		assert.Error(t, err)
	})
}
