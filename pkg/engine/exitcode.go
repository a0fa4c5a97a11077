package engine

import (
	"errors"

	"github.com/tetratelabs/wazero/sys"
)

// exitCode unwraps a guest-requested process exit from an execution
// error. A deliberate proc_exit(N) is an outcome, not a failure; every
// other error propagates to the caller unchanged.
func exitCode(err error) (int, bool) {
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return int(exit.ExitCode()), true
	}
	return 0, false
}
