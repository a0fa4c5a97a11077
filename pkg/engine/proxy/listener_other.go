//go:build !unix

package proxy

import "net"

// Address reuse creates multi-bind ambiguity on these platforms, and
// the backlog is whatever the runtime picked.
func listen(addr string, backlog int) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
