// Package errors provides structured errors for geosample.
// Codes follow the failure taxonomy of a sampling run: partition-fatal
// errors are isolated to one partition, configuration-fatal errors abort
// the run before any work starts.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Partition-fatal errors (1xx)
	CodeMissingCRS        Code = "E101"
	CodeRasterOpen        Code = "E102"
	CodeRasterDecode      Code = "E103"
	CodeUnsupportedRaster Code = "E104"

	// Configuration-fatal errors (2xx)
	CodeNoPartitions  Code = "E201"
	CodeInvalidClass  Code = "E202"
	CodeInvalidConfig Code = "E203"

	// Checkpoint errors (3xx)
	CodeCheckpointWrite   Code = "E301"
	CodeCheckpointRead    Code = "E302"
	CodeCheckpointCorrupt Code = "E303"
	CodeCheckpointMissing Code = "E304"

	// Reduce errors (4xx)
	CodeEmptyResult Code = "E401"
	CodeCRSMismatch Code = "E402"

	// Output errors (5xx)
	CodeWriteFailed Code = "E501"

	// System errors (6xx)
	CodeContextCanceled Code = "E601"
	CodePanic           Code = "E602"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all geosample errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// MissingCRS reports a partition without a coordinate reference system.
func MissingCRS(partition string) *Error {
	return New(CodeMissingCRS, "partition has no coordinate reference system").
		WithContext("partition", partition)
}

// NoPartitions reports an input directory without matching partitions.
func NoPartitions(dir, pattern string) *Error {
	return New(CodeNoPartitions, "no partitions found").
		WithContext("dir", dir).
		WithContext("pattern", pattern)
}

// InvalidClass reports a class selection that is not in the class map.
func InvalidClass(value interface{}) *Error {
	return New(CodeInvalidClass, "invalid target class").
		WithContext("class", value)
}

// InvalidConfig reports a configuration value that cannot be used.
func InvalidConfig(field string, value interface{}, reason string) *Error {
	return New(CodeInvalidConfig, reason).
		WithContext("field", field).
		WithContext("value", value)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string, cause error) *Error {
	return Wrap(cause, CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var gsErr *Error
	if errors.As(err, &gsErr) {
		return gsErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var gsErr *Error
	if errors.As(err, &gsErr) {
		return gsErr.Code
	}
	return CodeUnknown
}

// IsPartitionFatal reports whether err only invalidates a single partition.
// Unclassified errors raised while scanning a partition are treated the
// same way by the batch runner.
func IsPartitionFatal(err error) bool {
	switch GetCode(err) {
	case CodeMissingCRS, CodeRasterOpen, CodeRasterDecode, CodeUnsupportedRaster,
		CodeCheckpointWrite, CodePanic:
		return true
	default:
		return false
	}
}

// IsConfigFatal reports whether err must abort the whole run.
func IsConfigFatal(err error) bool {
	switch GetCode(err) {
	case CodeNoPartitions, CodeInvalidClass, CodeInvalidConfig:
		return true
	default:
		return false
	}
}
