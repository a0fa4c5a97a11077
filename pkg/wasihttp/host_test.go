package wasihttp

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func setupHost(t *testing.T) (context.Context, wazero.Runtime) {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })
	require.NoError(t, Instantiate(ctx, r))
	return ctx, r
}

func hostFunc(t *testing.T, r wazero.Runtime, module, name string) api.Function {
	t.Helper()
	m := r.Module(module)
	require.NotNil(t, m)
	fn := m.ExportedFunction(name)
	require.NotNil(t, fn)
	return fn
}

func TestInstantiateIdempotent(t *testing.T) {
	ctx, r := setupHost(t)
	require.NoError(t, Instantiate(ctx, r))
	assert.NotNil(t, r.Module(TypesModule))
	assert.NotNil(t, r.Module(StreamsModule))
}

func TestIncomingRequestMethod(t *testing.T) {
	ctx, r := setupHost(t)
	fn := hostFunc(t, r, TypesModule, "[method]incoming-request.method")

	cases := map[string]uint64{
		"GET":    0,
		"POST":   2,
		"DELETE": 4,
		"PATCH":  8,
		"BREW":   9,
	}
	for method, want := range cases {
		scope := NewScope()
		h := scope.NewIncomingRequest(httptest.NewRequest(method, "/", nil))

		results, err := fn.Call(WithScope(ctx, scope), uint64(h))
		require.NoError(t, err)
		assert.Equal(t, want, results[0], "method %s", method)
	}
}

func TestResponseOutparamSetError(t *testing.T) {
	ctx, r := setupHost(t)
	fn := hostFunc(t, r, TypesModule, "[static]response-outparam.set")

	scope := NewScope()
	param, ch := scope.NewResponseOutparam()

	_, err := fn.Call(WithScope(ctx, scope), uint64(param), 1, 5)
	require.NoError(t, err)

	out := <-ch
	assert.True(t, out.Err)
	assert.Equal(t, uint32(5), out.ErrCode)
}

func TestReadChunkBoundsAllocation(t *testing.T) {
	t.Run("huge requested length is clamped", func(t *testing.T) {
		chunk, err := readChunk(strings.NewReader("body bytes"), 1<<40)
		require.NoError(t, err)
		assert.Equal(t, "body bytes", string(chunk))
		assert.LessOrEqual(t, cap(chunk), maxReadChunk)
	})

	t.Run("small length reads at most that much", func(t *testing.T) {
		chunk, err := readChunk(strings.NewReader("body bytes"), 4)
		require.NoError(t, err)
		assert.Equal(t, "body", string(chunk))
	})
}

func TestHostFunctionsRequireScope(t *testing.T) {
	ctx, r := setupHost(t)
	fn := hostFunc(t, r, TypesModule, "[constructor]fields")

	// Calling outside a request scope traps rather than corrupting state.
	_, err := fn.Call(ctx)
	assert.Error(t, err)
}
