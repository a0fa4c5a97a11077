package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignitionstack/wasmshim/pkg/wasm"
)

func exports(names ...string) []wasm.Export {
	out := make([]wasm.Export, len(names))
	for i, n := range names {
		out[i] = wasm.Export{Name: n, Sort: wasm.SortInstance}
	}
	return out
}

func TestResolveTarget(t *testing.T) {
	t.Run("http handler before cli run wins", func(t *testing.T) {
		target := ResolveTarget(exports(
			"wasi:http/incoming-handler@0.2.0",
			"wasi:cli/run@0.2.0",
		), "handle")
		assert.Equal(t, TargetHTTPProxy, target.Kind)
	})

	t.Run("cli run before http handler wins", func(t *testing.T) {
		target := ResolveTarget(exports(
			"wasi:cli/run@0.2.0",
			"wasi:http/incoming-handler@0.2.0",
		), "handle")
		assert.Equal(t, TargetCommand, target.Kind)
	})

	t.Run("unrecognized exports fall back to core", func(t *testing.T) {
		target := ResolveTarget(exports("custom:pkg/iface@1.0.0", "another"), "my-func")
		assert.Equal(t, TargetCore, target.Kind)
		assert.Equal(t, "my-func", target.Func)
	})

	t.Run("empty export list", func(t *testing.T) {
		target := ResolveTarget(nil, "_start")
		assert.Equal(t, TargetCore, target.Kind)
		assert.Equal(t, "_start", target.Func)
	})

	t.Run("versionless prefixes match", func(t *testing.T) {
		assert.Equal(t, TargetCommand, ResolveTarget(exports("wasi:cli/run"), "").Kind)
		assert.Equal(t, TargetHTTPProxy, ResolveTarget(exports("wasi:http/incoming-handler"), "").Kind)
	})
}
