package wasm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignitionstack/wasmshim/internal/wasmtest"
)

func TestReadUint32(t *testing.T) {
	t.Run("round-trips encoder output", func(t *testing.T) {
		for _, v := range []uint32{0, 1, 127, 128, 624485, 1<<32 - 1} {
			got, err := readUint32(bytes.NewReader(wasmtest.Uleb(v)))
			require.NoError(t, err)
			assert.Equal(t, v, got)
		}
	})

	t.Run("overflow", func(t *testing.T) {
		_, err := readUint32(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
		assert.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("truncated input", func(t *testing.T) {
		_, err := readUint32(bytes.NewReader([]byte{0x80}))
		assert.Error(t, err)
	})
}
