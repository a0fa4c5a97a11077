package engine

import (
	"strings"

	"github.com/ignitionstack/wasmshim/pkg/wasm"
)

// TargetKind selects how a component is invoked.
type TargetKind int

const (
	// TargetCore calls a named export directly.
	TargetCore TargetKind = iota
	// TargetCommand runs the wasi:cli/command world entrypoint.
	TargetCommand
	// TargetHTTPProxy serves the wasi:http incoming-handler world.
	TargetHTTPProxy
)

func (k TargetKind) String() string {
	switch k {
	case TargetCommand:
		return "command"
	case TargetHTTPProxy:
		return "http-proxy"
	default:
		return "core"
	}
}

// Target is the invocation strategy resolved for one component. Func is
// only meaningful for TargetCore, where it carries the originally
// requested function name.
type Target struct {
	Kind TargetKind
	Func string
}

const (
	httpHandlerPrefix = "wasi:http/incoming-handler"
	cliRunPrefix      = "wasi:cli/run"
)

// ResolveTarget scans a component's declared exports in listed order and
// returns the first recognized WASI world. Detection is a heuristic over
// export name prefixes; when nothing matches, the requested function is
// carried through as a core target. Total: never fails.
func ResolveTarget(exports []wasm.Export, requestedFunc string) Target {
	for _, exp := range exports {
		if strings.HasPrefix(exp.Name, httpHandlerPrefix) {
			return Target{Kind: TargetHTTPProxy}
		}
		if strings.HasPrefix(exp.Name, cliRunPrefix) {
			return Target{Kind: TargetCommand}
		}
	}
	return Target{Kind: TargetCore, Func: requestedFunc}
}
