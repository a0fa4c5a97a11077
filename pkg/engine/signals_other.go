//go:build !unix

package engine

import (
	"os"
	"os/signal"
)

// Only an interrupt source exists here, with no two-stage escalation.
const signalsEscalate = false

func notifySignals() (<-chan os.Signal, func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt)
	return sigs, func() { signal.Stop(sigs) }
}

func forcedExitCode(os.Signal) int {
	return 1
}
