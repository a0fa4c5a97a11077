package engine

import (
	"context"
	"crypto/rand"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/ignitionstack/wasmshim/pkg/engine/proxy"
	"github.com/ignitionstack/wasmshim/pkg/shim"
	"github.com/ignitionstack/wasmshim/pkg/wasihttp"
	"github.com/ignitionstack/wasmshim/pkg/wasm"
)

// executeComponent resolves a component's target and runs it under the
// two-stage signal supervisor. The first embedded core module is the
// executable unit; worlds are invoked through their flattened core
// exports.
func (e *Engine) executeComponent(ctx context.Context, data []byte, rctx shim.RuntimeContext, stdio shim.Stdio) (int, error) {
	info, err := wasm.ScanComponent(data)
	if err != nil {
		return 0, err
	}

	target := ResolveTarget(info.Exports, rctx.Entrypoint().Func)
	e.logger.Info("resolved component target",
		zap.String("name", rctx.Entrypoint().Name),
		zap.String("target", target.Kind.String()))

	compiled, err := e.compileModule(ctx, info.CoreModules[0])
	if err != nil {
		return 0, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigs, stop := notifySignals()
	defer stop()

	exec := make(chan execResult, 1)
	go func() {
		code, err := e.invokeComponent(runCtx, target, compiled, rctx, stdio)
		exec <- execResult{code: code, err: err}
	}()
	return superviseShutdown(exec, sigs, cancel, e.logger)
}

func (e *Engine) invokeComponent(ctx context.Context, target Target, compiled wazero.CompiledModule, rctx shim.RuntimeContext, stdio shim.Stdio) (int, error) {
	switch target.Kind {
	case TargetHTTPProxy:
		return 0, e.serveProxy(ctx, compiled, rctx, stdio)
	case TargetCommand:
		return e.runCommand(ctx, compiled, rctx, stdio)
	default:
		return e.callCore(ctx, target.Func, compiled, rctx, stdio)
	}
}

// runCommand invokes the wasi:cli/command world entrypoint. A failing
// guest result surfaces as a single generic error; the world's contract
// does not forward guest error detail.
func (e *Engine) runCommand(ctx context.Context, compiled wazero.CompiledModule, rctx shim.RuntimeContext, stdio shim.Stdio) (int, error) {
	runName := findExport(compiled, cliRunPrefix)
	if runName == "" {
		return 0, FunctionNotExportedError{Function: cliRunPrefix}
	}

	sio, release, err := stdio.Redirect()
	if err != nil {
		return 0, err
	}
	defer release()

	cfg := wasiModuleConfig(rctx, sio).WithStartFunctions()
	mod, err := e.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		if code, ok := exitCode(err); ok {
			return code, nil
		}
		return 0, err
	}
	defer mod.Close(ctx)

	results, err := mod.ExportedFunction(runName).Call(ctx)
	if err != nil {
		if code, ok := exitCode(err); ok {
			return code, nil
		}
		return 0, ErrCommandRunFailed
	}
	// run: func() -> result lowers to a single i32 discriminant.
	if len(results) > 0 && results[0] != 0 {
		return 0, ErrCommandRunFailed
	}
	return 0, nil
}

// callCore invokes the originally requested function on the component's
// core module with no arguments.
func (e *Engine) callCore(ctx context.Context, funcName string, compiled wazero.CompiledModule, rctx shim.RuntimeContext, stdio shim.Stdio) (int, error) {
	sio, release, err := stdio.Redirect()
	if err != nil {
		return 0, err
	}
	defer release()

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
		return 0, FunctionNotExportedError{Function: funcName}
	}
	if _, err := fn.Call(ctx); err != nil {
		if code, ok := exitCode(err); ok {
			return code, nil
		}
		return 0, err
	}
	return 0, nil
}

// serveProxy hands control to the HTTP proxy server and blocks until it
// drains on shutdown or fails.
func (e *Engine) serveProxy(ctx context.Context, compiled wazero.CompiledModule, rctx shim.RuntimeContext, stdio shim.Stdio) error {
	if err := wasihttp.Instantiate(ctx, e.runtime); err != nil {
		return err
	}

	handleName := findExport(compiled, httpHandlerPrefix)
	if handleName == "" {
		handleName = wasihttp.HandleExport
	}

	sio, release, err := stdio.Redirect()
	if err != nil {
		return err
	}
	defer release()

	cfg, baseEnv := proxy.PopConfig(rctx.Envs())
	inv := &componentInvoker{
		engine:   e,
		compiled: compiled,
		handle:   handleName,
		stdio:    sio,
	}
	handler := proxy.NewHandler(ctx, inv, baseEnv, e.logger)
	srv := proxy.NewServer(cfg, handler, e.logger)
	if err := srv.Start(); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// componentInvoker runs one guest handler invocation per HTTP request in
// a fresh anonymous instance with its own environment.
type componentInvoker struct {
	engine   *Engine
	compiled wazero.CompiledModule
	handle   string
	stdio    shim.Stdio
}

func (inv *componentInvoker) Invoke(ctx context.Context, env []string, request, response uint32) error {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStartFunctions()
	cfg = withEnvPairs(cfg, env)
	if inv.stdio.Stdout != nil {
		cfg = cfg.WithStdout(inv.stdio.Stdout)
	}
	if inv.stdio.Stderr != nil {
		cfg = cfg.WithStderr(inv.stdio.Stderr)
	}

	mod, err := inv.engine.runtime.InstantiateModule(ctx, inv.compiled, cfg)
	if err != nil {
		return err
	}
	defer mod.Close(ctx)

	fn := mod.ExportedFunction(inv.handle)
	if fn == nil {
		return FunctionNotExportedError{Function: inv.handle}
	}
	_, err = fn.Call(ctx, uint64(request), uint64(response))
	return err
}
