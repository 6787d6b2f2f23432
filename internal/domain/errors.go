package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the domain layer.
var (
	ErrAuthInvalid        = fmt.Errorf("authentication failed")
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
	ErrOverloaded         = fmt.Errorf("provider overloaded")
	ErrMaxIterations      = fmt.Errorf("maximum iterations reached")
	ErrStopped            = fmt.Errorf("stopped by request")
	ErrAlreadyRunning     = fmt.Errorf("engine already started")
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrCheckpointNotFound = fmt.Errorf("checkpoint not found")
)

// RateLimitError is returned by the transport when the server rate-limits a
// request and supplies the delay to wait before retrying. It matches
// ErrRateLimit under errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
	Detail     string
}

func (e *RateLimitError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (retry after %s): %s", ErrRateLimit, e.RetryAfter, e.Detail)
	}
	return fmt.Sprintf("%s (retry after %s)", ErrRateLimit, e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimit }

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Engine.Run")
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

// ErrorCode is a machine-parseable error category for event consumers.
type ErrorCode string

const (
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeAuthInvalid   ErrorCode = "AUTH_INVALID"
	CodeRateLimit     ErrorCode = "RATE_LIMIT"
	CodeOverloaded    ErrorCode = "OVERLOADED"
	CodeMaxIterations ErrorCode = "MAX_ITERATIONS"
	CodeStopped       ErrorCode = "STOPPED"
	CodeToolNotFound  ErrorCode = "TOOL_NOT_FOUND"
)

var errorCodeMap = map[error]ErrorCode{
	ErrAuthInvalid:   CodeAuthInvalid,
	ErrRateLimit:     CodeRateLimit,
	ErrOverloaded:    CodeOverloaded,
	ErrMaxIterations: CodeMaxIterations,
	ErrStopped:       CodeStopped,
	ErrToolNotFound:  CodeToolNotFound,
}

// ErrorCodeOf returns the machine-parseable code for err, walking the error
// chain with errors.Is. Returns CodeUnknown if no sentinel matches.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
