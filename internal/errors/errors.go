// Package errors provides error types and handling for the MCP inspector.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/PentesterFlow/MCPInspector/internal/websocket"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// TooShort means a buffer could not hold a frame header.
	TooShort
	// Truncated means a frame body was cut off by the capture.
	Truncated
	// Network represents connection errors (dial, reset, refused).
	Network
	// Timeout represents timeout errors.
	Timeout
	// Cancelled represents context cancellation.
	Cancelled
	// Storage represents history store failures.
	Storage
	// Config represents invalid configuration.
	Config
	// Capture represents unreadable capture input (bad hex dump, I/O).
	Capture
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case TooShort:
		return "too_short"
	case Truncated:
		return "truncated"
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case Storage:
		return "storage"
	case Config:
		return "config"
	case Capture:
		return "capture"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether errors of this type should be retried.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case Network, Timeout:
		return true
	default:
		return false
	}
}

// DissectError is a categorized error raised while capturing or dissecting.
type DissectError struct {
	Type      ErrorType
	Session   string
	Operation string
	Message   string
	Cause     error
	Offset    int64 // stream offset, -1 when not applicable
	Retryable bool
}

// Error implements the error interface.
func (e *DissectError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error during %s", e.Type, e.Operation)
	if e.Session != "" {
		fmt.Fprintf(&b, " in %s", e.Session)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&b, " at offset %d", e.Offset)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *DissectError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target.
func (e *DissectError) Is(target error) bool {
	t, ok := target.(*DissectError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates a new DissectError.
func New(errType ErrorType, session, operation, message string, cause error) *DissectError {
	return &DissectError{
		Type:      errType,
		Session:   session,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Offset:    -1,
		Retryable: errType.IsRetryable(),
	}
}

// At returns e with the stream offset set.
func (e *DissectError) At(offset int64) *DissectError {
	e.Offset = offset
	return e
}

// NewTooShortError creates an error for a buffer shorter than its header.
func NewTooShortError(session string, offset int64) *DissectError {
	return New(TooShort, session, "decode", "frame header incomplete", websocket.ErrTooShort).At(offset)
}

// NewTruncatedError creates an error for a frame body cut off by the capture.
func NewTruncatedError(session string, offset int64, declared uint64, captured int) *DissectError {
	msg := fmt.Sprintf("captured %d of %d bytes", captured, declared)
	return New(Truncated, session, "decode", msg, nil).At(offset)
}

// NewNetworkError creates a network error.
func NewNetworkError(session, operation string, cause error) *DissectError {
	return New(Network, session, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(session, operation string, cause error) *DissectError {
	return New(Timeout, session, operation, "operation timed out", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(session, operation string) *DissectError {
	return New(Cancelled, session, operation, "operation cancelled", context.Canceled)
}

// NewStorageError creates a history store error.
func NewStorageError(session, operation string, cause error) *DissectError {
	return New(Storage, session, operation, "storage failure", cause)
}

// NewConfigError creates a configuration error.
func NewConfigError(field, message string) *DissectError {
	return New(Config, "", "validate "+field, message, nil)
}

// NewCaptureError creates an error for unreadable capture input.
func NewCaptureError(session, operation string, cause error) *DissectError {
	return New(Capture, session, operation, "capture unreadable", cause)
}

// Categorize determines the error type from a generic error.
func Categorize(err error, session string) *DissectError {
	if err == nil {
		return nil
	}

	// Already a DissectError
	var dissectErr *DissectError
	if errors.As(err, &dissectErr) {
		return dissectErr
	}

	if errors.Is(err, websocket.ErrTooShort) {
		return New(TooShort, session, "decode", "frame header incomplete", err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return New(Truncated, session, "read", "stream ended inside a frame", err)
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(session, "capture")
	}

	if isTimeout(err) {
		return NewTimeoutError(session, "capture", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(session, "capture", err)
	}

	return New(Unknown, session, "capture", err.Error(), err)
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var dissectErr *DissectError
	if errors.As(err, &dissectErr) {
		return dissectErr.Retryable
	}

	return isTimeout(err) || isNetworkError(err)
}

// IsClosed reports whether err only signals a normally closed connection.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var dissectErr *DissectError
	if errors.As(err, &dissectErr) {
		return dissectErr.Type
	}
	return Unknown
}
