package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCErrorFromWireIsServerReported(t *testing.T) {
	var e RPCError
	require.NoError(t, json.Unmarshal([]byte(`{"code":1,"message":"Unauthorized"}`), &e))

	assert.Equal(t, 1, e.Code)
	assert.Equal(t, "Unauthorized", e.Message)
	assert.ErrorIs(t, &e, ErrServerReported)
	assert.False(t, errors.Is(&e, ErrRequestTimeout))
	assert.Equal(t, "rpc error 1: Unauthorized", e.Error())
}

func TestRPCErrorWithData(t *testing.T) {
	var e RPCError
	require.NoError(t, json.Unmarshal([]byte(`{"code":-32602,"message":"Invalid params","data":{"index":2}}`), &e))
	assert.Equal(t, `rpc error -32602: Invalid params (data: {"index":2})`, e.Error())
}

func TestNewRPCErrorKind(t *testing.T) {
	tests := []struct {
		kind error
		msg  string
	}{
		{ErrConnectionClosed, MsgConnectionClosed},
		{ErrRequestTimeout, MsgRequestTimeout},
		{ErrReplyDiscarded, MsgReplyDiscarded},
	}
	for _, tt := range tests {
		err := NewRPCError(tt.kind, RPCInternalError, tt.msg)
		assert.ErrorIs(t, err, tt.kind)
		assert.False(t, errors.Is(err, ErrServerReported), "client error must not look server-reported")
		assert.Equal(t, RPCInternalError, err.Code)
	}
}

func TestRequestEncoding(t *testing.T) {
	req := Request{JSONRPC: JSONRPCVersion, Method: "aria2.tellStopped", ID: "x~1", Params: []any{"token:s", 0, 2}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"aria2.tellStopped","id":"x~1","params":["token:s",0,2]}`, string(data))
}

func TestCloseError(t *testing.T) {
	ce := &CloseError{Code: 1003, Reason: "Unsupported Data"}
	assert.Equal(t, "1003 Unsupported Data", ce.Error())
	assert.False(t, ce.Normal())
	assert.True(t, (&CloseError{Code: CloseNormal}).Normal())

	cause := errors.New("dial tcp: connection refused")
	wrapped := &CloseError{Code: CloseAbnormal, Reason: "Abnormal Closure", Err: cause}
	assert.ErrorIs(t, wrapped, cause)
}
