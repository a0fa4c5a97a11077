package shim

import (
	"fmt"
	"io"
	"os"
)

// Stdio carries the guest's standard streams. Zero-value slots fall back
// to the process streams when redirected.
type Stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Optional file-backed streams, opened on Redirect. Used when the
	// container runtime hands over named pipes or log files instead of
	// open streams.
	StdinPath  string
	StdoutPath string
	StderrPath string
}

// InheritedStdio returns the process's own streams.
func InheritedStdio() Stdio {
	return Stdio{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Redirect resolves the streams for one guest execution. Path-backed
// slots are opened here; nil slots inherit the process streams. Must be
// called exactly once, immediately before handing control to the guest;
// the returned release function closes anything Redirect opened.
func (s Stdio) Redirect() (Stdio, func(), error) {
	var opened []io.Closer
	release := func() {
		for _, c := range opened {
			c.Close()
		}
	}

	if s.StdinPath != "" {
		f, err := os.Open(s.StdinPath)
		if err != nil {
			release()
			return Stdio{}, nil, fmt.Errorf("open stdin: %w", err)
		}
		opened = append(opened, f)
		s.Stdin = f
	}
	if s.StdoutPath != "" {
		f, err := os.OpenFile(s.StdoutPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			release()
			return Stdio{}, nil, fmt.Errorf("open stdout: %w", err)
		}
		opened = append(opened, f)
		s.Stdout = f
	}
	if s.StderrPath != "" {
		f, err := os.OpenFile(s.StderrPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			release()
			return Stdio{}, nil, fmt.Errorf("open stderr: %w", err)
		}
		opened = append(opened, f)
		s.Stderr = f
	}

	if s.Stdin == nil {
		s.Stdin = os.Stdin
	}
	if s.Stdout == nil {
		s.Stdout = os.Stdout
	}
	if s.Stderr == nil {
		s.Stderr = os.Stderr
	}
	return s, release, nil
}
