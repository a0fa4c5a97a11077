// Package proxy serves a wasi:http incoming-handler component as a
// long-running HTTP endpoint.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Configuration is read from the per-execution environment and removed
// before any guest sees it.
const (
	EnvSocketAddr = "WASMTIME_HTTP_PROXY_SOCKET_ADDR"
	EnvBacklog    = "WASMTIME_HTTP_BACKLOG"

	DefaultAddr    = "0.0.0.0:8080"
	DefaultBacklog = 100
)

// Config holds the listener settings popped from the environment.
type Config struct {
	Addr    string
	Backlog int
}

// PopConfig consumes the proxy variables from an execution environment,
// returning the resolved config and the remaining guest-visible env.
// Values that do not parse fall back to the defaults; the proxy serves
// rather than refusing to start over a bad variable.
func PopConfig(env []string) (Config, []string) {
	cfg := Config{Addr: DefaultAddr, Backlog: DefaultBacklog}
	rest := make([]string, 0, len(env))
	for _, kv := range env {
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case EnvSocketAddr:
			if _, err := net.ResolveTCPAddr("tcp", value); err == nil {
				cfg.Addr = value
			}
		case EnvBacklog:
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				cfg.Backlog = n
			}
		default:
			rest = append(rest, kv)
		}
	}
	return cfg, rest
}

// Server runs the HTTP proxy for one component execution.
type Server struct {
	cfg     Config
	handler http.Handler
	logger  *zap.Logger

	ln  net.Listener
	srv *http.Server
}

// NewServer creates a new Server instance
func NewServer(cfg Config, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// Start binds the listener with the configured backlog.
func (s *Server) Start() error {
	ln, err := listen(s.cfg.Addr, s.cfg.Backlog)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.handler}
	s.logger.Info("http proxy listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("backlog", s.cfg.Backlog))
	return nil
}

// Addr returns the bound listener address. Valid after Start.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until the context is cancelled, then drains
// cooperatively: no new connections, in-flight requests run to
// completion with no deadline.
func (s *Server) Serve(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("proxy server not started")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http proxy draining")
		err := s.srv.Shutdown(context.Background())
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
