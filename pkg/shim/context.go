// Package shim defines the boundary between the execution adapter and the
// surrounding container runtime: where the wasm bytes come from, which
// function to invoke, and which args, environment, and stdio the guest
// runs with.
package shim

import (
	"fmt"
	"os"
)

// Source is a byte-addressable wasm payload.
type Source interface {
	// Bytes returns the raw binary. Implementations may read lazily; the
	// result is owned by the caller for the duration of one execution.
	Bytes() ([]byte, error)
}

// BytesSource is an in-memory Source.
type BytesSource []byte

func (b BytesSource) Bytes() ([]byte, error) { return b, nil }

// FileSource reads the payload from a file path.
type FileSource string

func (f FileSource) Bytes() ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read wasm source %q: %w", string(f), err)
	}
	return data, nil
}

// Entrypoint describes what to run: the binary, the function to invoke,
// and a display name for logging.
type Entrypoint struct {
	Source Source
	Func   string
	Name   string
}

// RuntimeContext is the narrow contract the adapter consumes from the
// container runtime. Implementations are immutable for the duration of
// one execution.
type RuntimeContext interface {
	// Entrypoint returns the resolved (binary, function, name) triple.
	Entrypoint() Entrypoint

	// Args returns the guest argv, argv[0] included.
	Args() []string

	// Envs returns the guest environment as "KEY=VALUE" strings.
	Envs() []string
}

// WasmLayer is one OCI image layer handed to the precompiler.
type WasmLayer struct {
	MediaType string
	Layer     []byte
}

// LocalContext is a RuntimeContext assembled in-process, used by the CLI
// and by tests.
type LocalContext struct {
	entrypoint Entrypoint
	args       []string
	envs       []string
}

// NewLocalContext builds a LocalContext. If args is empty, the entrypoint
// name is used as argv[0].
func NewLocalContext(entrypoint Entrypoint, args, envs []string) *LocalContext {
	if len(args) == 0 && entrypoint.Name != "" {
		args = []string{entrypoint.Name}
	}
	return &LocalContext{entrypoint: entrypoint, args: args, envs: envs}
}

func (c *LocalContext) Entrypoint() Entrypoint { return c.entrypoint }
func (c *LocalContext) Args() []string         { return c.args }
func (c *LocalContext) Envs() []string         { return c.envs }
