package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrDecryption   = fmt.Errorf("decryption failed")
	ErrEncryption   = fmt.Errorf("encryption operation failed")
)

// Sentinel errors for the RPC client. Every client-side failure of a call
// unwraps to exactly one of these.
var (
	ErrInvalidEndpoint  = fmt.Errorf("invalid endpoint: %w", ErrInvalidInput)
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrRequestTimeout   = fmt.Errorf("request: %w", ErrTimeout)
	ErrReplyDiscarded   = fmt.Errorf("reply discarded")
	ErrServerReported   = fmt.Errorf("server reported error")
	ErrProtocol         = fmt.Errorf("protocol violation")
	ErrCircuitOpen      = fmt.Errorf("circuit breaker open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Config.Load")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for logs and exit reporting.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeInvalidEndpoint  ErrorCode = "INVALID_ENDPOINT"
	CodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	CodeRequestTimeout   ErrorCode = "REQUEST_TIMEOUT"
	CodeReplyDiscarded   ErrorCode = "REPLY_DISCARDED"
	CodeServerReported   ErrorCode = "SERVER_ERROR"
	CodeProtocol         ErrorCode = "PROTOCOL_VIOLATION"
	CodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeDecryption       ErrorCode = "DECRYPTION"
	CodeEncryption       ErrorCode = "ENCRYPTION"
	CodeAbnormalClose    ErrorCode = "ABNORMAL_CLOSE"

	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps specific sentinels to codes. Category sentinels are kept
// separate so the specific code wins when both match.
var errorCodeMap = map[error]ErrorCode{
	ErrInvalidEndpoint:  CodeInvalidEndpoint,
	ErrConnectionClosed: CodeConnectionClosed,
	ErrRequestTimeout:   CodeRequestTimeout,
	ErrReplyDiscarded:   CodeReplyDiscarded,
	ErrServerReported:   CodeServerReported,
	ErrProtocol:         CodeProtocol,
	ErrCircuitOpen:      CodeCircuitOpen,
	ErrConfigLoad:       CodeConfigLoad,
	ErrDecryption:       CodeDecryption,
	ErrEncryption:       CodeEncryption,
}

var categoryCodeMap = map[error]ErrorCode{
	ErrTimeout:      CodeTimeout,
	ErrInvalidInput: CodeInvalidInput,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// A *CloseError with a non-normal code maps to CodeAbnormalClose.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	var ce *CloseError
	if errors.As(err, &ce) && !ce.Normal() {
		return CodeAbnormalClose
	}

	for sentinel, code := range categoryCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
