package proxy

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ignitionstack/wasmshim/pkg/wasihttp"
)

// GuestInvoker runs one guest handler invocation against the request and
// response handles registered in the scope carried by ctx.
type GuestInvoker interface {
	Invoke(ctx context.Context, env []string, request, response uint32) error
}

// Handler dispatches every inbound request to an isolated guest
// invocation. Request ids are unique and strictly increasing for the
// server lifetime.
type Handler struct {
	ctx     context.Context
	guest   GuestInvoker
	baseEnv []string
	nextID  atomic.Uint64
	logger  *zap.Logger
}

// NewHandler builds a handler. ctx is the shared cancellation the guest
// invocations observe; it outlives individual requests so a guest that
// responds early can still run to completion.
func NewHandler(ctx context.Context, guest GuestInvoker, baseEnv []string, logger *zap.Logger) *Handler {
	return &Handler{
		ctx:     ctx,
		guest:   guest,
		baseEnv: baseEnv,
		logger:  logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := h.nextID.Add(1) - 1
	scope := wasihttp.NewScope()
	request := scope.NewIncomingRequest(r)
	response, resCh := scope.NewResponseOutparam()
	env := append(slices.Clone(h.baseEnv), fmt.Sprintf("REQUEST_ID=%d", id))

	ctx := wasihttp.WithScope(h.ctx, scope)
	taskCh := make(chan error, 1)
	go func() {
		taskCh <- h.guest.Invoke(ctx, env, request, response)
	}()

	select {
	case out := <-resCh:
		// The slot won. Whatever the task reports afterwards is its
		// own business; drain it without blocking the response.
		go func() { <-taskCh }()
		h.writeOutcome(w, id, out)
	case err := <-taskCh:
		// The task finished first. The slot may still have been filled
		// just before termination, so give it one final look.
		select {
		case out := <-resCh:
			h.writeOutcome(w, id, out)
		default:
			h.failRequest(w, id, err)
		}
	}
}

// failRequest attributes a request that ended without a response: the
// task's own failure if it has one, otherwise the protocol violation of
// never setting a response.
func (h *Handler) failRequest(w http.ResponseWriter, id uint64, taskErr error) {
	if taskErr != nil {
		h.logger.Error("guest handler failed",
			zap.Uint64("request_id", id),
			zap.Error(taskErr))
	} else {
		h.logger.Error("guest never invoked `response-outparam.set`",
			zap.Uint64("request_id", id))
	}
	http.Error(w, "guest handler produced no response", http.StatusInternalServerError)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, id uint64, out wasihttp.Outcome) {
	if out.Err {
		h.logger.Error("guest reported http error",
			zap.Uint64("request_id", id),
			zap.Uint32("error_code", out.ErrCode))
		http.Error(w, "guest handler error", http.StatusBadGateway)
		return
	}
	for name, values := range out.Response.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(out.Response.StatusCode)
	if _, err := w.Write(out.Response.Body); err != nil {
		h.logger.Error("failed to write response body",
			zap.Uint64("request_id", id),
			zap.Error(err))
	}
}
