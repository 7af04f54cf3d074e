package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// ErrBackendUnavailable means the managed backend is unreachable. It is
	// recovered locally by routing to the fallback engine, never surfaced as
	// a user-facing failure.
	ErrBackendUnavailable = fmt.Errorf("agent backend unavailable")
	// ErrAgentCreationFailed means the backend is reachable but rejected
	// agent creation (quota, auth). Fatal for the triggering request;
	// retried on the next Ensure call.
	ErrAgentCreationFailed = fmt.Errorf("agent creation rejected")

	ErrAgentNotFound  = fmt.Errorf("agent not found")
	ErrToolNotFound   = fmt.Errorf("tool not found")
	ErrToolFailure    = fmt.Errorf("tool execution failed")
	ErrMaxIterations  = fmt.Errorf("run reached max tool-call iterations")
	ErrRunTimedOut    = fmt.Errorf("run exceeded time ceiling")
	ErrRunFailed      = fmt.Errorf("run failed")
	ErrThreadNotFound = fmt.Errorf("thread not found")
	// ErrThreadBusy rejects a concurrent mutation attempt on one thread.
	// Rejected immediately; the caller may retry.
	ErrThreadBusy = fmt.Errorf("thread busy")

	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
	ErrStepDisabled  = fmt.Errorf("step disabled by configuration")
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrDecryption    = fmt.Errorf("decryption failed")
	ErrAuditWrite    = fmt.Errorf("audit store write failed")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Lifecycle.Ensure")
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

// IsInfrastructure reports whether err should trigger fallback routing
// rather than failing the request.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "UNKNOWN"
	CodeBackendUnavailable  ErrorCode = "BACKEND_UNAVAILABLE"
	CodeAgentCreationFailed ErrorCode = "AGENT_CREATION_FAILED"
	CodeAgentNotFound       ErrorCode = "AGENT_NOT_FOUND"
	CodeToolNotFound        ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure         ErrorCode = "TOOL_FAILURE"
	CodeMaxIterations       ErrorCode = "MAX_ITERATIONS"
	CodeRunTimedOut         ErrorCode = "RUN_TIMED_OUT"
	CodeRunFailed           ErrorCode = "RUN_FAILED"
	CodeThreadNotFound      ErrorCode = "THREAD_NOT_FOUND"
	CodeThreadBusy          ErrorCode = "THREAD_BUSY"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeProviderError       ErrorCode = "PROVIDER_ERROR"
	CodeStepDisabled        ErrorCode = "STEP_DISABLED"
	CodeConfigLoad          ErrorCode = "CONFIG_LOAD"
	CodeDecryption          ErrorCode = "DECRYPTION"
	CodeAuditWrite          ErrorCode = "AUDIT_WRITE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrBackendUnavailable:  CodeBackendUnavailable,
	ErrAgentCreationFailed: CodeAgentCreationFailed,
	ErrAgentNotFound:       CodeAgentNotFound,
	ErrToolNotFound:        CodeToolNotFound,
	ErrToolFailure:         CodeToolFailure,
	ErrMaxIterations:       CodeMaxIterations,
	ErrRunTimedOut:         CodeRunTimedOut,
	ErrRunFailed:           CodeRunFailed,
	ErrThreadNotFound:      CodeThreadNotFound,
	ErrThreadBusy:          CodeThreadBusy,
	ErrInvalidInput:        CodeInvalidInput,
	ErrProviderError:       CodeProviderError,
	ErrStepDisabled:        CodeStepDisabled,
	ErrConfigLoad:          CodeConfigLoad,
	ErrDecryption:          CodeDecryption,
	ErrAuditWrite:          CodeAuditWrite,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
