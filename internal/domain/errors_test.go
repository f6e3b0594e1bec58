package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Config.Load", ErrDecryption, "client.secret")
	want := "Config.Load: client.secret: decryption failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Engine.Open", ErrInvalidEndpoint, "")
	want := "Engine.Open: invalid endpoint: invalid input"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Engine.Open", ErrInvalidEndpoint, "http://x")
	if !errors.Is(err, ErrInvalidEndpoint) {
		t.Error("errors.Is should match ErrInvalidEndpoint")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("errors.Is should match the ErrInvalidInput category")
	}
}

func TestWrapOp(t *testing.T) {
	assert.NoError(t, WrapOp("op", nil))

	err := WrapOp("Config.Load", ErrConfigLoad)
	assert.EqualError(t, err, "Config.Load: failed to load configuration")
	assert.ErrorIs(t, err, ErrConfigLoad)
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeRequestTimeout, ErrorCodeOf(ErrRequestTimeout))
	assert.Equal(t, CodeReplyDiscarded, ErrorCodeOf(ErrReplyDiscarded))
	assert.Equal(t, CodeConnectionClosed, ErrorCodeOf(ErrConnectionClosed))
	assert.Equal(t, CodeCircuitOpen, ErrorCodeOf(ErrCircuitOpen))
}

func TestErrorCodeOf_RPCError(t *testing.T) {
	timeout := NewRPCError(ErrRequestTimeout, RPCInternalError, MsgRequestTimeout)
	assert.Equal(t, CodeRequestTimeout, ErrorCodeOf(timeout))

	server := &RPCError{Code: 1, Message: "Unauthorized"}
	assert.Equal(t, CodeServerReported, ErrorCodeOf(server))
}

func TestErrorCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("call aria2.tellActive: %w", NewRPCError(ErrReplyDiscarded, RPCInternalError, MsgReplyDiscarded))
	assert.Equal(t, CodeReplyDiscarded, ErrorCodeOf(err))
}

func TestErrorCodeOf_CloseError(t *testing.T) {
	assert.Equal(t, CodeAbnormalClose, ErrorCodeOf(&CloseError{Code: 1006, Reason: "Abnormal Closure"}))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(&CloseError{Code: 1000, Reason: "Normal Closure"}))
}

func TestErrorCodeOf_Category(t *testing.T) {
	err := fmt.Errorf("dial: %w", ErrTimeout)
	assert.Equal(t, CodeTimeout, ErrorCodeOf(err))
}

func TestErrorCodeOf_Unknown(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(errors.New("boom")))
}

func TestErrorCodeOf_SpecificWinsOverCategory(t *testing.T) {
	err := NewDomainError("Engine.Open", ErrInvalidEndpoint, "ftp://x")
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, CodeInvalidEndpoint, ErrorCodeOf(err))
}
