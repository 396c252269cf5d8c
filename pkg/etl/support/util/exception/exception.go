// Package exception provides the error types shared by every pipeline stage.
// Errors carry the module they originate from plus retry/skip classification, and
// the pipeline's error taxonomy is exposed as sentinels usable with errors.Is.
package exception

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// errorRegistry maps configured error names to sentinel instances.
var errorRegistry = make(map[string]error)

var registryMutex sync.RWMutex

// RegisterErrorType registers a named sentinel so configuration can refer to it.
// Panics on an empty name or nil prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is a registered error type.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// EtlError is an error raised by a pipeline stage or adapter.
type EtlError struct {
	// Module is the stage or adapter that raised the error (e.g. "partitioner", "loader", "s3").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause.
	OriginalErr error
	isRetryable bool
	isSkippable bool
	// StackTrace is captured at construction for debugging.
	StackTrace string
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// NewEtlError creates a new EtlError.
func NewEtlError(module, message string, originalErr error, isSkippable, isRetryable bool) *EtlError {
	return &EtlError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewEtlErrorf creates a new EtlError using a format string.
// Optional trailing arguments are consumed from the end in the order
// [originalErr error], [isRetryable bool], [isSkippable bool]; the rest feed fmt.Sprintf.
//
//	NewEtlErrorf("s3", "get %s", key, true, err) // retryable, wraps err
func NewEtlErrorf(module, format string, a ...interface{}) *EtlError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	return &EtlError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// Error implements the error interface.
func (e *EtlError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *EtlError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the failed call may be retried.
func (e *EtlError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable reports whether the failed unit may be skipped.
func (e *EtlError) IsSkippable() bool {
	return e.isSkippable
}

// IsEtlError reports whether err is, or wraps, an *EtlError.
func IsEtlError(err error) bool {
	var ee *EtlError
	return errors.As(err, &ee)
}

// IsTemporary reports whether err is worth retrying at an external-call boundary.
// An EtlError's own flag wins; context cancellation never retries.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ee *EtlError
	if errors.As(err, &ee) {
		return ee.IsRetryable()
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "eof")
}

// IsFatal reports whether err can neither be retried nor skipped.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ee *EtlError
	if errors.As(err, &ee) {
		return !ee.IsRetryable() && !ee.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied")
}

// IsErrorOfType reports whether err matches a registered name, a message substring,
// or a type name anywhere in its chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if strings.Contains(cur.Error(), errorTypeName) {
			return true
		}
		if t := reflect.TypeOf(cur); t != nil {
			if t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName) {
				return true
			}
		}
	}
	return false
}

// ExtractErrorMessage returns the EtlError message when present, else err.Error().
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var ee *EtlError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
}
