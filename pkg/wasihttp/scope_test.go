package wasihttp

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeIncomingRequest(t *testing.T) {
	scope := NewScope()
	r := httptest.NewRequest("GET", "/path?q=1", nil)
	r.Header.Set("X-Custom", "value")

	h := scope.NewIncomingRequest(r)
	req, ok := scope.Requests.Get(h)
	require.True(t, ok)
	assert.Same(t, r, req.Req)

	headers, ok := scope.Fields.Get(req.Headers)
	require.True(t, ok)
	assert.Equal(t, []string{"value"}, headers["x-custom"], "header names are lowered")
}

func TestResponseOutparamSetOnce(t *testing.T) {
	scope := NewScope()
	param, ch := scope.NewResponseOutparam()

	ok := scope.SetOutcome(param, Outcome{Response: &GuestResponse{StatusCode: 200}})
	assert.True(t, ok)

	// The handle is consumed; a second write is rejected.
	ok = scope.SetOutcome(param, Outcome{Err: true})
	assert.False(t, ok)

	out := <-ch
	require.NotNil(t, out.Response)
	assert.Equal(t, 200, out.Response.StatusCode)

	select {
	case <-ch:
		t.Fatal("slot delivered more than once")
	default:
	}
}

func TestSnapshotResponse(t *testing.T) {
	t.Run("defaults and body copy", func(t *testing.T) {
		scope := NewScope()
		fields := scope.Fields.Add(map[string][]string{"content-type": {"text/plain"}})
		resp := &OutgoingResponse{Headers: fields}
		resp.Body.WriteString("hello")
		h := scope.Responses.Add(resp)

		snap, ok := scope.snapshotResponse(h)
		require.True(t, ok)
		assert.Equal(t, 200, snap.StatusCode, "unset status defaults to 200")
		assert.Equal(t, []byte("hello"), snap.Body)
		assert.Equal(t, []string{"text/plain"}, snap.Headers["content-type"])

		// Later guest writes must not mutate the snapshot.
		resp.Body.WriteString(" more")
		assert.Equal(t, []byte("hello"), snap.Body)
	})

	t.Run("unknown handle", func(t *testing.T) {
		scope := NewScope()
		_, ok := scope.snapshotResponse(99)
		assert.False(t, ok)
	})
}

func TestScopeContext(t *testing.T) {
	scope := NewScope()
	ctx := WithScope(context.Background(), scope)

	got, ok := ScopeFrom(ctx)
	require.True(t, ok)
	assert.Same(t, scope, got)

	_, ok = ScopeFrom(context.Background())
	assert.False(t, ok)
}
