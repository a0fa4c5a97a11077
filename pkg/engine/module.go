package engine

import (
	"context"

	"github.com/ignitionstack/wasmshim/pkg/shim"
)

// executeModule runs a wasip1 core module: compile, redirect stdio,
// instantiate with a fresh system-interface context, call the named
// start function, and normalize a guest-declared exit into a code.
func (e *Engine) executeModule(ctx context.Context, data []byte, rctx shim.RuntimeContext, stdio shim.Stdio) (int, error) {
	compiled, err := e.compileModule(ctx, data)
	if err != nil {
		return 0, err
	}

	funcName := rctx.Entrypoint().Func
	if funcName == "" {
		funcName = "_start"
	}

	sio, release, err := stdio.Redirect()
	if err != nil {
		return 0, err
	}
	defer release()

	// Auto-start is disabled so the requested function is invoked
	// explicitly, whatever its name.
	cfg := wasiModuleConfig(rctx, sio).WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		if code, ok := exitCode(err); ok {
			return code, nil
		}
		return 0, err
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(funcName)
	if fn == nil {
		return 0, WithDetails(ErrNoStartFunction, funcName)
	}

	if _, err := fn.Call(ctx); err != nil {
		if code, ok := exitCode(err); ok {
			return code, nil
		}
		return 0, err
	}
	return 0, nil
}
