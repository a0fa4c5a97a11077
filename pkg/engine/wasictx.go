package engine

import (
	"crypto/rand"
	"strings"

	"github.com/tetratelabs/wazero"

	"github.com/ignitionstack/wasmshim/pkg/shim"
)

// wasiModuleConfig builds the per-execution system-interface context:
// args, environment, stdio, clocks, randomness, and a root filesystem
// mount. One is built per invocation and never reused.
func wasiModuleConfig(rctx shim.RuntimeContext, stdio shim.Stdio) wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithFSConfig(wazero.NewFSConfig().WithDirMount("/", "/"))

	args := rctx.Args()
	if len(args) == 0 {
		args = []string{rctx.Entrypoint().Name}
	}
	cfg = cfg.WithArgs(args...)

	cfg = withEnvPairs(cfg, rctx.Envs())

	if stdio.Stdin != nil {
		cfg = cfg.WithStdin(stdio.Stdin)
	}
	if stdio.Stdout != nil {
		cfg = cfg.WithStdout(stdio.Stdout)
	}
	if stdio.Stderr != nil {
		cfg = cfg.WithStderr(stdio.Stderr)
	}
	return cfg
}

// withEnvPairs applies "KEY=VALUE" pairs; malformed entries are skipped.
func withEnvPairs(cfg wazero.ModuleConfig, envs []string) wazero.ModuleConfig {
	for _, kv := range envs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			cfg = cfg.WithEnv(k, v)
		}
	}
	return cfg
}
