package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// ErrModelNotFound: requested model name absent from the cached
	// discovery result. Not retried.
	ErrModelNotFound = fmt.Errorf("model not found")

	// ErrModelInit: discovery/refresh failed. Triggers config failover up
	// to the retry budget, then surfaces.
	ErrModelInit = fmt.Errorf("model initialization failed")

	// ErrAPIRequest: transport or decode failure on a live request.
	// Retried at the platform client layer, never inside a requester.
	ErrAPIRequest = fmt.Errorf("api request failed")

	// ErrUnsafeContent: the provider rejected content on safety grounds.
	// Surfaced immediately; retrying will not help.
	ErrUnsafeContent = fmt.Errorf("content rejected by provider safety filter")

	// ErrAborted: caller-initiated cancellation. Short-circuits retry and
	// failover and is re-raised as-is.
	ErrAborted = fmt.Errorf("request aborted")

	ErrNoConfigAvailable = fmt.Errorf("no usable client config")
	ErrStrategyUnknown   = fmt.Errorf("unknown retrieval strategy")
	ErrEmbeddingFailed   = fmt.Errorf("embedding generation failed")
	ErrVectorStore       = fmt.Errorf("vector store operation failed")
	ErrMemoryStore       = fmt.Errorf("memory store failed")
	ErrConfigLoad        = fmt.Errorf("failed to load configuration")
	ErrInvalidInput      = fmt.Errorf("invalid input")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "PlatformClient.CreateModel")
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
// Returns nil if err is nil.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Abort converts a context cancellation into ErrAborted, preserving any
// other error unchanged. Cancellation is not a health signal and must stay
// distinguishable from request failures.
func Abort(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	return err
}

// IsRetryableError reports whether err may succeed against another config.
// Safety rejections and cancellations are never retried.
func IsRetryableError(err error) bool {
	if errors.Is(err, ErrAborted) || errors.Is(err, ErrUnsafeContent) {
		return false
	}
	return errors.Is(err, ErrAPIRequest) || errors.Is(err, ErrModelInit)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeModelNotFound     ErrorCode = "MODEL_NOT_FOUND"
	CodeModelInit         ErrorCode = "MODEL_INIT_ERROR"
	CodeAPIRequestFailed  ErrorCode = "API_REQUEST_FAILED"
	CodeUnsafeContent     ErrorCode = "API_UNSAFE_CONTENT"
	CodeAborted           ErrorCode = "ABORTED"
	CodeNoConfigAvailable ErrorCode = "NO_CONFIG_AVAILABLE"
	CodeStrategyUnknown   ErrorCode = "STRATEGY_UNKNOWN"
	CodeEmbeddingFailed   ErrorCode = "EMBEDDING_FAILED"
	CodeVectorStore       ErrorCode = "VECTOR_STORE"
	CodeMemoryStore       ErrorCode = "MEMORY_STORE"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrModelNotFound:     CodeModelNotFound,
	ErrModelInit:         CodeModelInit,
	ErrAPIRequest:        CodeAPIRequestFailed,
	ErrUnsafeContent:     CodeUnsafeContent,
	ErrAborted:           CodeAborted,
	ErrNoConfigAvailable: CodeNoConfigAvailable,
	ErrStrategyUnknown:   CodeStrategyUnknown,
	ErrEmbeddingFailed:   CodeEmbeddingFailed,
	ErrVectorStore:       CodeVectorStore,
	ErrMemoryStore:       CodeMemoryStore,
	ErrConfigLoad:        CodeConfigLoad,
	ErrInvalidInput:      CodeInvalidInput,
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
