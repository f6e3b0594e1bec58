package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"wsjsonrpc/internal/adapter/wsrpc"
	"wsjsonrpc/internal/domain"
	"wsjsonrpc/internal/infra/logger"
	"wsjsonrpc/internal/usecase/eventbus"
)

// runCall issues one call, prints its result and closes normally.
func (a *app) runCall(ctx context.Context, method string, args []string) error {
	params := withSecret(a.cfg.Client.Secret, parseParams(args))

	var result json.RawMessage
	var callErr error
	err := wsrpc.Open(ctx, a.cfg.Client.Endpoint, nil, func(ctx context.Context, h wsrpc.Handle) {
		defer h.Close()
		result, callErr = h.Query(ctx, method, params...)
	}, a.options()...)

	if callErr != nil {
		return fmt.Errorf("call %s: %w", method, callErr)
	}
	if err != nil {
		return err
	}
	return writeJSON(a.out, result, true)
}

// runPoll repeats a call every poll interval until ctx is cancelled, the
// connection ends, or the circuit breaker opens.
func (a *app) runPoll(ctx context.Context, method string, args []string) error {
	params := withSecret(a.cfg.Client.Secret, parseParams(args))

	// A reply that misses its timeout comes back as a notification.
	bus := eventbus.New(logger.Component(a.log, "eventbus"))
	defer bus.Close()
	bus.SubscribeLateReplies(func(_ context.Context, n domain.Notification) {
		a.log.Warn("late reply ignored", "method", method, "id", string(n.ID))
	})

	var pollErr error
	// The session closes itself normally on ctx; Open must not see the cancel
	// first and report 1001.
	err := wsrpc.Open(context.WithoutCancel(ctx), a.cfg.Client.Endpoint,
		func(connCtx context.Context, n domain.Notification, _ wsrpc.Handle) {
			bus.Publish(connCtx, n)
		},
		func(connCtx context.Context, h wsrpc.Handle) {
			pollErr = a.poll(ctx, connCtx, h, method, params)
		}, a.options()...)

	if pollErr != nil {
		return pollErr
	}
	return err
}

func (a *app) poll(ctx, connCtx context.Context, h wsrpc.Handle, method string, params []any) error {
	var q wsrpc.Querier = h
	if cb := a.cfg.Client.CircuitBreaker; cb.Enabled {
		q = wsrpc.NewBreakerQuerier(h, wsrpc.BreakerConfig{
			MaxFailures: cb.MaxFailures,
			Timeout:     cb.Timeout,
			Interval:    cb.Interval,
		}, logger.Component(a.log, "breaker"))
	}

	queryCtx, cancel := context.WithCancel(connCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	ticker := time.NewTicker(a.cfg.Client.PollInterval)
	defer ticker.Stop()

	for {
		res, err := q.Query(queryCtx, method, params...)
		switch {
		case err == nil:
			if err := writeJSON(a.out, res, false); err != nil {
				h.Close()
				return err
			}
		case ctx.Err() != nil:
			h.Close()
			return nil
		case errors.Is(err, domain.ErrCircuitOpen):
			h.Close()
			return fmt.Errorf("poll %s: %w", method, err)
		case errors.Is(err, domain.ErrConnectionClosed), errors.Is(err, domain.ErrReplyDiscarded):
			// The connection is gone; Open reports how it ended.
			return nil
		default:
			a.log.Warn("poll failed", "method", method, "code", domain.ErrorCodeOf(err), "error", err)
		}

		select {
		case <-ctx.Done():
			h.Close()
			return nil
		case <-connCtx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// runListen prints notifications, optionally only for the given methods,
// until ctx is cancelled or the server closes the connection.
func (a *app) runListen(ctx context.Context, methods []string) error {
	bus := eventbus.New(logger.Component(a.log, "eventbus"))
	defer bus.Close()

	var mu sync.Mutex
	printNote := func(_ context.Context, n domain.Notification) {
		mu.Lock()
		defer mu.Unlock()
		if err := writeJSON(a.out, n.Raw, false); err != nil {
			a.log.Warn("write notification", "method", n.Method, "error", err)
		}
	}
	if len(methods) == 0 {
		bus.SubscribeAll(printNote)
	}
	for _, m := range methods {
		bus.Subscribe(m, printNote)
	}

	return wsrpc.Open(context.WithoutCancel(ctx), a.cfg.Client.Endpoint,
		func(connCtx context.Context, n domain.Notification, _ wsrpc.Handle) {
			bus.Publish(connCtx, n)
		},
		func(connCtx context.Context, h wsrpc.Handle) {
			a.log.Info("listening for notifications", "endpoint", a.cfg.Client.Endpoint, "methods", methods)
			select {
			case <-ctx.Done():
				h.Close()
			case <-connCtx.Done():
			}
		},
		a.options()...)
}

func writeJSON(w io.Writer, raw json.RawMessage, indent bool) error {
	var buf bytes.Buffer
	var err error
	if indent {
		err = json.Indent(&buf, raw, "", "  ")
	} else {
		err = json.Compact(&buf, raw)
	}
	if err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}
