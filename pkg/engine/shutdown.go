package engine

import (
	"context"
	"os"

	"go.uber.org/zap"
)

type execResult struct {
	code int
	err  error
}

// superviseShutdown drives the two-stage termination escalation around a
// long-running execution. The first signal cancels the shared context
// and waits for the execution to drain; a second signal abandons the
// drain and returns the conventional 128+signo code. Platforms without
// rich signal delivery skip the drain stage entirely.
func superviseShutdown(exec <-chan execResult, sigs <-chan os.Signal, cancel context.CancelFunc, logger *zap.Logger) (int, error) {
	// Armed
	select {
	case r := <-exec:
		return r.code, r.err
	case sig := <-sigs:
		logger.Info("termination signal received, draining",
			zap.String("signal", sig.String()))
		cancel()
		if !signalsEscalate {
			return forcedExitCode(sig), nil
		}
	}

	// Draining
	select {
	case r := <-exec:
		return r.code, r.err
	case sig := <-sigs:
		logger.Warn("second termination signal, forcing exit",
			zap.String("signal", sig.String()))
		return forcedExitCode(sig), nil
	}
}
