//go:build unix

package engine

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// signalsEscalate reports whether a first signal drains before a second
// one forces exit.
const signalsEscalate = true

// notifySignals subscribes to the termination signals the shim honors.
// The returned stop function releases the subscription.
func notifySignals() (<-chan os.Signal, func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, unix.SIGQUIT, unix.SIGTERM, os.Interrupt)
	return sigs, func() { signal.Stop(sigs) }
}

// forcedExitCode maps a termination signal to the conventional
// 128+signo exit code. SIGQUIT and interrupt both report as SIGINT.
func forcedExitCode(sig os.Signal) int {
	if sig == unix.SIGTERM {
		return 128 + int(unix.SIGTERM)
	}
	return 128 + int(unix.SIGINT)
}
