// Package errors provides structured error handling for SpikeFlow.
// It implements coded errors with context and stack traces.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code identifies an error class for programmatic handling.
type Code string

const (
	// Dataset errors (1xx)
	CodeNotLoaded     Code = "E101"
	CodeMalformed     Code = "E102"
	CodeFileNotFound  Code = "E103"
	CodeInvalidFormat Code = "E104"

	// Request errors (2xx)
	CodeInvalidWindow     Code = "E201"
	CodeInvalidChannelSet Code = "E202"

	// Spike label errors (3xx)
	CodeNoSpikesLoaded Code = "E301"
	CodeNoSpikesFound  Code = "E302"

	// Algorithm/job errors (4xx)
	CodeUnknownAlgorithm Code = "E401"
	CodeUnavailable      Code = "E402"
	CodeBusy             Code = "E403"
	CodeJobNotFound      Code = "E404"

	// System errors (5xx)
	CodeContextCanceled Code = "E501"
	CodeStorage         Code = "E502"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all SpikeFlow errors.
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
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
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

// NotLoaded creates an error for operations against an empty store.
func NotLoaded() *Error {
	return New(CodeNotLoaded, "no dataset loaded")
}

// Malformed creates a shape-inconsistency error.
func Malformed(reason string) *Error {
	return New(CodeMalformed, "malformed dataset").WithContext("reason", reason)
}

// FileNotFound creates a file not found error.
func FileNotFound(path string) *Error {
	return New(CodeFileNotFound, "file not found").WithContext("path", path)
}

// InvalidWindow creates an error for a window with end <= start.
func InvalidWindow(start, end int) *Error {
	return New(CodeInvalidWindow, "window end must be greater than start").
		WithContext("start", start).
		WithContext("end", end)
}

// InvalidChannelSet creates an error for a channel list that is empty after
// dropping out-of-range ids.
func InvalidChannelSet() *Error {
	return New(CodeInvalidChannelSet, "no valid channels in request")
}

// UnknownAlgorithm creates an error for an unregistered algorithm name.
func UnknownAlgorithm(name string) *Error {
	return New(CodeUnknownAlgorithm, "unknown algorithm").WithContext("name", name)
}

// Unavailable creates an error for a registered but disabled algorithm.
func Unavailable(name string) *Error {
	return New(CodeUnavailable, "algorithm is not available").WithContext("name", name)
}

// NoSpikesLoaded creates an error for navigation without a precomputed source.
func NoSpikesLoaded() *Error {
	return New(CodeNoSpikesLoaded, "no spike times loaded")
}

// NoSpikesFound creates an error for an empty collected spike set.
func NoSpikesFound() *Error {
	return New(CodeNoSpikesFound, "no spikes found")
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *Error {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var sfErr *Error
	if errors.As(err, &sfErr) {
		return sfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var sfErr *Error
	if errors.As(err, &sfErr) {
		return sfErr.Code
	}
	return CodeUnknown
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
