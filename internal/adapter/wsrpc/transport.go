package wsrpc

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"nhooyr.io/websocket"

	"wsjsonrpc/internal/domain"
)

// MsgInvalidScheme is the configuration error message for a non-ws endpoint.
const MsgInvalidScheme = "You must specify ws:// or wss:// protocol."

// Conn is a single open, message-oriented duplex connection.
//
// Read returns one complete message per call. When the connection ends, Read
// returns a *domain.CloseError carrying the close code and reason.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens Conns.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// ValidateEndpoint checks that endpoint is a ws:// or wss:// URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return domain.NewRPCError(domain.ErrInvalidEndpoint, domain.RPCInternalError, MsgInvalidScheme)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return nil
	default:
		return domain.NewRPCError(domain.ErrInvalidEndpoint, domain.RPCInternalError, MsgInvalidScheme)
	}
}

// WebSocketDialer dials endpoints with nhooyr.io/websocket.
type WebSocketDialer struct {
	// Options is passed to websocket.Dial unchanged. May be nil.
	Options *websocket.DialOptions
	// ReadLimit overrides the library's 32 KiB per-message default when > 0.
	ReadLimit int64
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, endpoint, d.Options)
	if err != nil {
		return nil, err
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, closeErrorOf(err)
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Close runs the closing handshake. Codes the library refuses to put on the
// wire (1005, 1006, 1015, out-of-range) still tear the connection down.
func (c *wsConn) Close(code int, reason string) error {
	err := c.ws.Close(websocket.StatusCode(code), reason)
	if err != nil {
		c.ws.CloseNow()
	}
	return err
}

// closeErrorOf maps a websocket read error to a CloseError. Anything that is
// not a received close frame counts as an abnormal closure.
func closeErrorOf(err error) *domain.CloseError {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &domain.CloseError{Code: int(ce.Code), Reason: ce.Reason, Err: err}
	}
	return &domain.CloseError{Code: domain.CloseAbnormal, Reason: "Abnormal Closure", Err: err}
}
