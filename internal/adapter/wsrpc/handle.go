package wsrpc

import (
	"context"
	"encoding/json"

	"wsjsonrpc/internal/domain"
)

// Querier issues calls on a live connection.
type Querier interface {
	Query(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	QueryNamed(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Handle is the capability to call and close one connection. It is passed by
// value to both callbacks of Open and may be kept after they return; once the
// connection is closed every Query fails with domain.ErrConnectionClosed.
type Handle struct {
	e *engine
}

var _ Querier = Handle{}

// Query calls method with positional params and waits for the reply, the
// request timeout, the connection closing, or ctx, whichever comes first.
// A server error reply is returned as a *domain.RPCError.
func (h Handle) Query(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if h.e == nil {
		return nil, closedError()
	}
	if params == nil {
		params = []any{}
	}
	return h.e.query(ctx, method, params)
}

// QueryNamed is Query with a by-name params object (a struct or map).
func (h Handle) QueryNamed(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if h.e == nil {
		return nil, closedError()
	}
	return h.e.query(ctx, method, params)
}

// Close discards every pending call and closes with 1000 "Normal Closure".
func (h Handle) Close() {
	h.CloseWithStatus(0, "")
}

// CloseWithStatus discards every pending call and closes with code and
// reason. A zero code means Close. Closing twice is a no-op.
func (h Handle) CloseWithStatus(code int, reason string) {
	if h.e == nil {
		return
	}
	if code == 0 {
		code, reason = domain.CloseNormal, "Normal Closure"
	}
	h.e.close(code, reason)
}
