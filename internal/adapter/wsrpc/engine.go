// Package wsrpc is a JSON-RPC 2.0 client over a single WebSocket connection.
//
// Open dials the endpoint and blocks for the lifetime of the connection. Calls
// are correlated to replies by id; every inbound message that does not match
// an outstanding call is handed to the notification callback. Both callbacks
// receive a Handle that can issue further calls or close the connection.
//
// Example:
//
//	err := wsrpc.Open(ctx, "ws://127.0.0.1:6800/jsonrpc",
//	    func(ctx context.Context, n domain.Notification, h wsrpc.Handle) {
//	        log.Println("notification", n.Method)
//	    },
//	    func(ctx context.Context, h wsrpc.Handle) {
//	        res, err := h.Query(ctx, "system.listNotifications")
//	        ...
//	        h.Close()
//	    },
//	    wsrpc.WithRequestTimeout(5*time.Second),
//	)
package wsrpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"wsjsonrpc/internal/domain"
	"wsjsonrpc/internal/infra/tracer"
)

// OpenFunc is invoked once the connection is ready to send.
type OpenFunc func(ctx context.Context, h Handle)

// NotificationFunc is invoked for every inbound message that matched no
// outstanding call.
type NotificationFunc func(ctx context.Context, n domain.Notification, h Handle)

type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosing
	stateClosed
)

type engine struct {
	conn           Conn
	logger         *slog.Logger
	clock          clock.Clock
	ids            *idGenerator
	limiter        *rate.Limiter
	requestTimeout time.Duration
	writeTimeout   time.Duration
	notes          *dispatcher

	mu         sync.Mutex // protects following
	state      connState
	pending    *pendingTable
	localClose *domain.CloseError
	wg         sync.WaitGroup // callbacks and close handshakes
}

// Open connects to endpoint and runs the session until the connection ends.
//
// It returns nil when the connection closed with code 1000 and a
// *domain.CloseError otherwise. An endpoint that is not ws:// or wss:// fails
// before any network activity. Cancelling ctx closes the connection with
// 1001. Open returns only after onOpen and all notification deliveries have
// returned.
func Open(ctx context.Context, endpoint string, onNotification NotificationFunc, onOpen OpenFunc, opts ...Option) error {
	if err := ValidateEndpoint(endpoint); err != nil {
		return err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	e := &engine{
		logger:         o.logger,
		clock:          o.clock,
		ids:            newIDGenerator(o.clock),
		limiter:        o.limiter,
		requestTimeout: effectiveTimeout(o.requestTimeout),
		writeTimeout:   o.writeTimeout,
		notes:          newDispatcher(),
		state:          stateConnecting,
		pending:        newPendingTable(),
	}

	ctx, span := tracer.StartSpan(ctx, "wsrpc.connection",
		trace.WithAttributes(tracer.StringAttr("ws.endpoint", endpoint)))
	defer span.End()

	conn, err := o.dialer.Dial(ctx, endpoint)
	if err != nil {
		ce := &domain.CloseError{Code: domain.CloseAbnormal, Reason: "Abnormal Closure", Err: err}
		e.logger.Warn("wsrpc: dial failed", "endpoint", endpoint, "error", err)
		tracer.RecordError(span, ce)
		return ce
	}
	e.conn = conn

	e.mu.Lock()
	e.state = stateOpen
	e.mu.Unlock()
	e.logger.Info("wsrpc: connection open", "endpoint", endpoint, "request_timeout", e.requestTimeout)

	h := Handle{e: e}
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var callbacks sync.WaitGroup
	callbacks.Add(1)
	go func() {
		defer callbacks.Done()
		e.notes.run(func(n domain.Notification) {
			if onNotification == nil {
				return
			}
			e.safeCall("notification", func() { onNotification(connCtx, n, h) })
		})
	}()

	if onOpen != nil {
		callbacks.Add(1)
		go func() {
			defer callbacks.Done()
			e.safeCall("open", func() { onOpen(connCtx, h) })
		}()
	}

	stop := context.AfterFunc(ctx, func() {
		e.close(domain.CloseGoingAway, "Going Away")
	})
	defer stop()

	outcome := e.readLoop()

	cancel()
	e.notes.stop()
	callbacks.Wait()
	e.wg.Wait()

	span.SetAttributes(tracer.IntAttr("ws.close_code", outcome.Code))
	e.logger.Info("wsrpc: connection closed", "code", outcome.Code, "reason", outcome.Reason)
	if outcome.Normal() {
		tracer.SetOK(span)
		return nil
	}
	tracer.RecordError(span, outcome)
	return outcome
}

func (e *engine) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("wsrpc: callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

// readLoop drives every inbound message until the transport reports the
// connection is gone, then runs the shutdown protocol.
func (e *engine) readLoop() *domain.CloseError {
	for {
		data, err := e.conn.Read(context.Background())
		if err != nil {
			return e.shutdown(err)
		}
		e.handleMessage(data)
	}
}

func (e *engine) handleMessage(data []byte) {
	e.mu.Lock()
	open := e.state == stateOpen
	e.mu.Unlock()
	if !open {
		e.logger.Debug("wsrpc: dropping message received while closing", "bytes", len(data))
		return
	}

	msg, err := decodeInbound(data)
	if err != nil {
		e.logger.Warn("wsrpc: malformed payload, closing connection", "error", err)
		e.close(domain.CloseInternalError, "Internal Error")
		return
	}

	if id, ok := msg.id(); ok {
		e.mu.Lock()
		call := e.pending.take(id)
		e.mu.Unlock()
		if call != nil {
			e.logger.Debug("wsrpc: reply", "method", call.method, "id", id)
			call.settle(msg.outcome())
			return
		}
	}

	// No live call owns this message. That includes replies that arrive after
	// their call timed out or was abandoned: they are delivered as
	// notifications on purpose, never dropped.
	e.notes.push(msg.notification())
}

// shutdown handles the end of the connection, whoever initiated it.
func (e *engine) shutdown(readErr error) *domain.CloseError {
	e.mu.Lock()
	e.state = stateClosed
	local := e.localClose
	calls := e.pending.drain()
	e.mu.Unlock()

	e.discard(calls)

	if local != nil {
		return local
	}
	if ce, ok := readErr.(*domain.CloseError); ok {
		return ce
	}
	return &domain.CloseError{Code: domain.CloseAbnormal, Reason: "Abnormal Closure", Err: readErr}
}

// close discards all pending calls and starts the closing handshake. It is a
// no-op unless the connection is open.
func (e *engine) close(code int, reason string) {
	e.mu.Lock()
	if e.state != stateOpen {
		e.mu.Unlock()
		return
	}
	e.state = stateClosing
	e.localClose = &domain.CloseError{Code: code, Reason: reason}
	calls := e.pending.drain()
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Debug("wsrpc: closing", "code", code, "reason", reason, "discarded", len(calls))
	e.discard(calls)

	go func() {
		defer e.wg.Done()
		if err := e.conn.Close(code, reason); err != nil {
			e.logger.Debug("wsrpc: close handshake", "error", err)
		}
	}()
}

func (e *engine) discard(calls []*pendingCall) {
	for _, c := range calls {
		c.settle(callResult{err: domain.NewRPCError(domain.ErrReplyDiscarded, domain.RPCInternalError, domain.MsgReplyDiscarded)})
	}
}

// expire runs when a call's deadline passes. It only settles the call if it
// is still the live entry; otherwise a reply or discard got there first.
func (e *engine) expire(c *pendingCall) {
	e.mu.Lock()
	removed := e.pending.remove(c)
	e.mu.Unlock()
	if !removed {
		return
	}
	e.logger.Debug("wsrpc: request timed out", "method", c.method, "id", c.id, "timeout", e.requestTimeout)
	c.settle(callResult{err: domain.NewRPCError(domain.ErrRequestTimeout, domain.RPCInternalError, domain.MsgRequestTimeout)})
}

func (e *engine) query(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, span := tracer.StartSpan(ctx, "wsrpc.query",
		trace.WithAttributes(tracer.StringAttr("rpc.method", method)))
	defer span.End()

	result, err := e.roundTrip(ctx, span, method, params)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return result, nil
}

func (e *engine) roundTrip(ctx context.Context, span trace.Span, method string, params any) (json.RawMessage, error) {
	if !e.isOpen() {
		return nil, closedError()
	}

	encoded, err := encodeParams(params)
	if err != nil {
		return nil, err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	call, data, err := e.register(method, encoded)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.StringAttr("rpc.id", call.id))
	call.arm(e.clock, e.requestTimeout, func() { go e.expire(call) })

	writeCtx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	err = e.conn.Write(writeCtx, data)
	cancel()
	if err != nil {
		if e.abandon(call) {
			e.logger.Debug("wsrpc: write failed", "method", method, "id", call.id, "error", err)
			werr := closedError()
			werr.Data, _ = json.Marshal(err.Error())
			return nil, werr
		}
		// Discarded or settled while writing; report that outcome.
		r := <-call.done
		return r.result, r.err
	}
	e.logger.Debug("wsrpc: sent", "method", method, "id", call.id)

	select {
	case r := <-call.done:
		return r.result, r.err
	case <-ctx.Done():
		if e.abandon(call) {
			return nil, ctx.Err()
		}
		r := <-call.done
		return r.result, r.err
	}
}

// register allocates an id and adds the call to the table. The call is
// registered before it is written so a fast reply always finds its entry.
func (e *engine) register(method string, params json.RawMessage) (*pendingCall, []byte, error) {
	for {
		id, err := e.ids.next(method)
		if err != nil {
			return nil, nil, domain.WrapOp("wsrpc.register", err)
		}
		data, err := encodeRequest(id, method, params)
		if err != nil {
			return nil, nil, domain.WrapOp("wsrpc.register", err)
		}

		call := newPendingCall(id, method)
		e.mu.Lock()
		if e.state != stateOpen {
			e.mu.Unlock()
			return nil, nil, closedError()
		}
		added := e.pending.add(call)
		e.mu.Unlock()
		if added {
			return call, data, nil
		}
	}
}

// abandon removes call from the table if it is still live. The caller then
// owns the call and must not wait on it.
func (e *engine) abandon(c *pendingCall) bool {
	e.mu.Lock()
	removed := e.pending.remove(c)
	e.mu.Unlock()
	if removed {
		c.stopTimer()
	}
	return removed
}

func (e *engine) isOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateOpen
}

func (e *engine) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.len()
}

func closedError() *domain.RPCError {
	return domain.NewRPCError(domain.ErrConnectionClosed, domain.RPCInternalError, domain.MsgConnectionClosed)
}
