package wasihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Host module names. Guests compiled against wasi:http 0.2 import from
// these; the exported handler lives under HandleExport.
const (
	TypesModule   = "wasi:http/types@0.2.0"
	StreamsModule = "wasi:io/streams@0.2.0"

	// HandleExport is the flattened core export of the incoming-handler
	// world.
	HandleExport = "wasi:http/incoming-handler#handle"
)

// wasi:http method discriminants.
var methodDiscriminants = map[string]uint32{
	http.MethodGet:     0,
	http.MethodHead:    1,
	http.MethodPost:    2,
	http.MethodPut:     3,
	http.MethodDelete:  4,
	http.MethodConnect: 5,
	http.MethodOptions: 6,
	http.MethodTrace:   7,
	http.MethodPatch:   8,
}

const methodOther = 9

// maxReadChunk bounds one blocking-read so a guest-supplied length can
// never size a host allocation. Short reads are fine; the guest loops.
const maxReadChunk = 64 * 1024

func readChunk(stream io.Reader, maxLen uint64) ([]byte, error) {
	if maxLen > maxReadChunk {
		maxLen = maxReadChunk
	}
	buf := make([]byte, maxLen)
	n, err := stream.Read(buf)
	return buf[:n], err
}

// Instantiate registers the wasi:http and wasi:io host modules on the
// runtime. Idempotent: already-present modules are left alone. All host
// functions resolve their per-invocation scope from the call context.
func Instantiate(ctx context.Context, r wazero.Runtime) error {
	if r.Module(TypesModule) == nil {
		if err := instantiateTypes(ctx, r); err != nil {
			return fmt.Errorf("instantiate %s: %w", TypesModule, err)
		}
	}
	if r.Module(StreamsModule) == nil {
		if err := instantiateStreams(ctx, r); err != nil {
			return fmt.Errorf("instantiate %s: %w", StreamsModule, err)
		}
	}
	return nil
}

// mustScope retrieves the per-invocation scope. A missing scope means a
// guest reached wasi:http outside a proxied request; the panic surfaces
// as a trap on the guest call.
func mustScope(ctx context.Context) *Scope {
	s, ok := ScopeFrom(ctx)
	if !ok {
		panic(errors.New("wasi:http host function called outside a request scope"))
	}
	return s
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func instantiateTypes(ctx context.Context, r wazero.Runtime) error {
	b := r.NewHostModuleBuilder(TypesModule)

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self uint32) uint32 {
		req, ok := mustScope(ctx).Requests.Get(self)
		if !ok {
			return methodOther
		}
		if d, ok := methodDiscriminants[req.Req.Method]; ok {
			return d
		}
		return methodOther
	}).Export("[method]incoming-request.method")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, ret uint32) {
		scope := mustScope(ctx)
		req, ok := scope.Requests.Get(self)
		if !ok {
			check(storeU32(mod, ret, 0, 0, 0))
			return
		}
		pq := req.Req.URL.RequestURI()
		check(lowerOptionString(ctx, mod, &pq, ret))
	}).Export("[method]incoming-request.path-with-query")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, ret uint32) {
		scope := mustScope(ctx)
		req, ok := scope.Requests.Get(self)
		if !ok || req.Req.Host == "" {
			check(storeU32(mod, ret, 0, 0, 0))
			return
		}
		authority := req.Req.Host
		check(lowerOptionString(ctx, mod, &authority, ret))
	}).Export("[method]incoming-request.authority")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self uint32) uint32 {
		req, ok := mustScope(ctx).Requests.Get(self)
		if !ok {
			return 0
		}
		return req.Headers
	}).Export("[method]incoming-request.headers")

	// result<own<incoming-body>>: consuming twice is an error.
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, ret uint32) {
		scope := mustScope(ctx)
		req, ok := scope.Requests.Get(self)
		if !ok || req.consumed {
			check(storeU32(mod, ret, 1, 0))
			return
		}
		req.consumed = true
		check(storeU32(mod, ret, 0, scope.InBodies.Add(req.Req.Body)))
	}).Export("[method]incoming-request.consume")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, ret uint32) {
		scope := mustScope(ctx)
		body, ok := scope.InBodies.Get(self)
		if !ok {
			check(storeU32(mod, ret, 1, 0))
			return
		}
		check(storeU32(mod, ret, 0, scope.InStreams.Add(body)))
	}).Export("[method]incoming-body.stream")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module) uint32 {
		return mustScope(ctx).Fields.Add(make(http.Header))
	}).Export("[constructor]fields")

	// result<own<fields>, header-error>
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, count, ret uint32) {
		scope := mustScope(ctx)
		entries, err := liftEntries(mod, ptr, count)
		check(err)
		check(storeU32(mod, ret, 0, scope.Fields.Add(http.Header(entries))))
	}).Export("[static]fields.from-list")

	// result<_, header-error>
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, namePtr, nameLen, valPtr, valLen, ret uint32) {
		scope := mustScope(ctx)
		fields, ok := scope.Fields.Get(self)
		if !ok {
			check(storeU32(mod, ret, 1, 0))
			return
		}
		name, err := readBytes(mod, namePtr, nameLen)
		check(err)
		value, err := readBytes(mod, valPtr, valLen)
		check(err)
		fields[string(name)] = append(fields[string(name)], string(value))
		check(storeU32(mod, ret, 0, 0))
	}).Export("[method]fields.append")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, ret uint32) {
		scope := mustScope(ctx)
		fields, _ := scope.Fields.Get(self)
		ptr, count, err := lowerEntries(ctx, mod, fields)
		check(err)
		check(storeU32(mod, ret, ptr, count))
	}).Export("[method]fields.entries")

	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, headers uint32) uint32 {
		return mustScope(ctx).Responses.Add(&OutgoingResponse{Headers: headers})
	}).Export("[constructor]outgoing-response")

	// result<_, _>: status codes outside 100..999 are rejected.
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, status uint32) uint32 {
		resp, ok := mustScope(ctx).Responses.Get(self)
		if !ok || status < 100 || status > 999 {
			return 1
		}
		resp.StatusCode = status
		return 0
	}).Export("[method]outgoing-response.set-status-code")

	// result<own<outgoing-body>>: the body may be taken once.
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, ret uint32) {
		scope := mustScope(ctx)
		resp, ok := scope.Responses.Get(self)
		if !ok || resp.bodyTaken {
			check(storeU32(mod, ret, 1, 0))
			return
		}
		resp.bodyTaken = true
		check(storeU32(mod, ret, 0, scope.OutStreams.Add(resp)))
	}).Export("[method]outgoing-response.body")

	// result<own<output-stream>>; the outgoing-body handle doubles as the
	// write target, so this hands back the same resource.
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, ret uint32) {
		scope := mustScope(ctx)
		resp, ok := scope.OutStreams.Get(self)
		if !ok {
			check(storeU32(mod, ret, 1, 0))
			return
		}
		check(storeU32(mod, ret, 0, scope.OutStreams.Add(resp)))
	}).Export("[method]outgoing-body.write")

	// result<_, error-code>
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, trailersDisc, trailersHandle, ret uint32) {
		check(storeU32(mod, ret, 0, 0))
	}).Export("[static]outgoing-body.finish")

	// The one-shot write. isErr selects between own<outgoing-response>
	// and a wasi:http error-code discriminant in payload.
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, param, isErr, payload uint32) {
		scope := mustScope(ctx)
		if isErr != 0 {
			scope.SetOutcome(param, Outcome{Err: true, ErrCode: payload})
			return
		}
		resp, ok := scope.snapshotResponse(payload)
		if !ok {
			scope.SetOutcome(param, Outcome{Err: true, ErrCode: 0})
			return
		}
		scope.SetOutcome(param, Outcome{Response: resp})
	}).Export("[static]response-outparam.set")

	for _, name := range []string{
		"[resource-drop]incoming-request",
		"[resource-drop]incoming-body",
		"[resource-drop]fields",
		"[resource-drop]outgoing-response",
		"[resource-drop]outgoing-body",
		"[resource-drop]response-outparam",
	} {
		b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self uint32) {}).Export(name)
	}

	_, err := b.Instantiate(ctx)
	return err
}

func instantiateStreams(ctx context.Context, r wazero.Runtime) error {
	b := r.NewHostModuleBuilder(StreamsModule)

	// result<list<u8>, stream-error>; end of stream is the `closed`
	// variant, not a failure.
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self uint32, maxLen uint64, ret uint32) {
		scope := mustScope(ctx)
		stream, ok := scope.InStreams.Get(self)
		if !ok {
			check(storeU32(mod, ret, 1, 1, 0))
			return
		}
		chunk, err := readChunk(stream, maxLen)
		if len(chunk) > 0 {
			ptr, length, lerr := lowerBytes(ctx, mod, chunk)
			check(lerr)
			check(storeU32(mod, ret, 0, ptr, length))
			return
		}
		if err == io.EOF || err == nil {
			check(storeU32(mod, ret, 1, 1, 0))
			return
		}
		check(storeU32(mod, ret, 1, 0, 0))
	}).Export("[method]input-stream.blocking-read")

	// result<_, stream-error>
	b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self, ptr, length, ret uint32) {
		scope := mustScope(ctx)
		resp, ok := scope.OutStreams.Get(self)
		if !ok {
			check(storeU32(mod, ret, 1, 0, 0))
			return
		}
		data, err := readBytes(mod, ptr, length)
		check(err)
		resp.Body.Write(data)
		check(storeU32(mod, ret, 0, 0, 0))
	}).Export("[method]output-stream.blocking-write-and-flush")

	for _, name := range []string{
		"[resource-drop]input-stream",
		"[resource-drop]output-stream",
	} {
		b.NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, self uint32) {}).Export(name)
	}

	_, err := b.Instantiate(ctx)
	return err
}
