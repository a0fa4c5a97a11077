package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/ignitionstack/wasmshim/pkg/shim"
	"github.com/ignitionstack/wasmshim/pkg/wasm"
)

const defaultModuleCacheSize = 64

// Config controls engine construction.
type Config struct {
	// CacheDir backs the on-disk compilation cache. Empty disables it.
	CacheDir string
	// ModuleCacheSize bounds the in-memory compiled-module LRU.
	ModuleCacheSize int
	Logger          *zap.Logger
}

// Engine owns the shared wazero runtime, the compiled-code caches, and
// the shutdown cancellation shared with long-running executions. The
// runtime is safe for concurrent instantiation; everything per-request
// lives in the per-call context instead.
type Engine struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled *lru.Cache[string, wazero.CompiledModule]
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

// New creates an engine. The supplied context bounds the lifetime of all
// executions started through it.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ModuleCacheSize <= 0 {
		cfg.ModuleCacheSize = defaultModuleCacheSize
	}

	rcfg := wazero.NewRuntimeConfig()
	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache: %w", err)
		}
		rcfg = rcfg.WithCompilationCache(cache)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := wazero.NewRuntimeWithConfig(runCtx, rcfg)
	wasi_snapshot_preview1.MustInstantiate(runCtx, r)

	compiled, err := lru.NewWithEvict(cfg.ModuleCacheSize, func(_ string, m wazero.CompiledModule) {
		m.Close(context.Background())
	})
	if err != nil {
		cancel()
		return nil, err
	}

	return &Engine{
		runtime:  r,
		cache:    cache,
		compiled: compiled,
		ctx:      runCtx,
		cancel:   cancel,
		logger:   cfg.Logger,
	}, nil
}

// Close cancels in-flight executions and releases the runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.cancel()
	e.compiled.Purge()
	if err := e.runtime.Close(ctx); err != nil {
		return err
	}
	if e.cache != nil {
		return e.cache.Close(ctx)
	}
	return nil
}

// binaryKind is the fully classified shape of an execution payload.
type binaryKind int

const (
	kindUnrecognized binaryKind = iota
	kindModule
	kindComponent
	kindPrecompiledModule
	kindPrecompiledComponent
)

// classify inspects raw bytes and returns the payload to execute. For
// precompiled envelopes the returned bytes are the unwrapped original;
// everything else passes through. Pure apart from the envelope probe.
func classify(b []byte) (binaryKind, []byte) {
	switch wasm.TypeOf(b) {
	case wasm.TypeModule:
		return kindModule, b
	case wasm.TypeComponent:
		return kindComponent, b
	}
	if kind, payload, ok := detectPrecompiled(b); ok {
		return kind, payload
	}
	return kindUnrecognized, b
}

// RunWasi executes one entrypoint to completion and returns its process
// exit code. Modules run their start function; components are routed by
// their resolved target, which for the HTTP proxy world blocks until
// shutdown.
func (e *Engine) RunWasi(ctx context.Context, rctx shim.RuntimeContext, stdio shim.Stdio) (int, error) {
	entry := rctx.Entrypoint()
	data, err := entry.Source.Bytes()
	if err != nil {
		return 0, fmt.Errorf("failed to read entrypoint %q: %w", entry.Name, err)
	}

	kind, payload := classify(data)
	e.logger.Debug("classified binary",
		zap.String("name", entry.Name),
		zap.Int("size", len(data)),
		zap.Int("kind", int(kind)))

	switch kind {
	case kindModule, kindPrecompiledModule:
		return e.executeModule(ctx, payload, rctx, stdio)
	case kindComponent, kindPrecompiledComponent:
		return e.executeComponent(ctx, payload, rctx, stdio)
	default:
		return 0, WithDetails(ErrInvalidBinary, entry.Name)
	}
}

// compileModule compiles core module bytes through the digest-keyed LRU.
func (e *Engine) compileModule(ctx context.Context, data []byte) (wazero.CompiledModule, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	if m, ok := e.compiled.Get(key); ok {
		return m, nil
	}
	m, err := e.runtime.CompileModule(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}
	e.compiled.Add(key, m)
	return m, nil
}

// findExport returns the name of the first exported function matching
// prefix, or "".
func findExport(m wazero.CompiledModule, prefix string) string {
	for name := range m.ExportedFunctions() {
		if strings.HasPrefix(name, prefix) {
			return name
		}
	}
	return ""
}
