// Package wasihttp is the host side of the wasi:http guest contract: the
// narrow subset of `wasi:http/types` and `wasi:io/streams` an
// incoming-handler guest needs to receive a request and publish a
// response. Resources live in per-request handle tables carried through
// context.Context, so concurrent requests never see each other's state.
package wasihttp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Outcome is the value a guest delivers through `response-outparam.set`:
// either a response payload or a wasi:http error code. Both are valid
// producer writes.
type Outcome struct {
	Response *GuestResponse
	ErrCode  uint32
	Err      bool
}

// GuestResponse is the immutable snapshot of a guest-built response,
// taken at the moment the guest sets the outparam.
type GuestResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IncomingRequest is the host-side representation handed to the guest.
type IncomingRequest struct {
	Req     *http.Request
	Headers uint32 // fields handle

	consumed bool
}

// OutgoingResponse accumulates the guest's response as it is built
// through constructor, body, and stream writes.
type OutgoingResponse struct {
	StatusCode uint32
	Headers    uint32 // fields handle
	Body       bytes.Buffer

	bodyTaken bool
}

// ResponseOutparam is the one-shot slot between the guest invocation and
// the HTTP response path. Written at most once; reads observe either the
// single write or, if the producer never writes, nothing at all.
type ResponseOutparam struct {
	once sync.Once
	ch   chan Outcome
}

func (p *ResponseOutparam) deliver(o Outcome) {
	p.once.Do(func() { p.ch <- o })
}

// Scope holds the resource tables for exactly one guest invocation.
// It is created fresh per request and owned by the task serving that
// request; nothing in it is reused across invocations.
type Scope struct {
	Requests   *Table[*IncomingRequest]
	Fields     *Table[http.Header]
	InBodies   *Table[io.ReadCloser]
	InStreams  *Table[io.Reader]
	Responses  *Table[*OutgoingResponse]
	OutStreams *Table[*OutgoingResponse]
	Outparams  *Table[*ResponseOutparam]
}

// NewScope creates an empty per-invocation scope.
func NewScope() *Scope {
	return &Scope{
		Requests:   NewTable[*IncomingRequest](),
		Fields:     NewTable[http.Header](),
		InBodies:   NewTable[io.ReadCloser](),
		InStreams:  NewTable[io.Reader](),
		Responses:  NewTable[*OutgoingResponse](),
		OutStreams: NewTable[*OutgoingResponse](),
		Outparams:  NewTable[*ResponseOutparam](),
	}
}

// NewIncomingRequest registers an inbound HTTP request and returns its
// handle. Header names are lowercased per the wasi:http field contract.
func (s *Scope) NewIncomingRequest(r *http.Request) uint32 {
	headers := make(http.Header, len(r.Header))
	for k, vs := range r.Header {
		headers[strings.ToLower(k)] = vs
	}
	h := s.Fields.Add(headers)
	return s.Requests.Add(&IncomingRequest{Req: r, Headers: h})
}

// NewResponseOutparam registers a fresh one-shot response slot and
// returns its handle plus the consumer end.
func (s *Scope) NewResponseOutparam() (uint32, <-chan Outcome) {
	p := &ResponseOutparam{ch: make(chan Outcome, 1)}
	return s.Outparams.Add(p), p.ch
}

// snapshotResponse freezes an outgoing-response resource into the payload
// delivered to the HTTP layer.
func (s *Scope) snapshotResponse(handle uint32) (*GuestResponse, bool) {
	resp, ok := s.Responses.Get(handle)
	if !ok {
		return nil, false
	}
	headers, _ := s.Fields.Get(resp.Headers)
	status := int(resp.StatusCode)
	if status == 0 {
		status = http.StatusOK
	}
	body := make([]byte, resp.Body.Len())
	copy(body, resp.Body.Bytes())
	return &GuestResponse{StatusCode: status, Headers: headers.Clone(), Body: body}, true
}

// SetOutcome delivers the one-shot response for an outparam handle and
// consumes the handle. Returns false when the handle is unknown or was
// already consumed.
func (s *Scope) SetOutcome(param uint32, out Outcome) bool {
	p, ok := s.Outparams.Remove(param)
	if !ok {
		return false
	}
	p.deliver(out)
	return true
}

type scopeKey struct{}

// WithScope attaches a per-invocation scope to the context handed to the
// guest call; host functions retrieve it from there.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached by WithScope, if any.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}
