package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents internal error codes for pipeline operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors, always fatal before any work starts
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeDirectory       ErrorCode = 1001

	// Runtime errors
	ErrCodeIO       ErrorCode = 2000
	ErrCodeDecode   ErrorCode = 2001
	ErrCodeSealed   ErrorCode = 2002
	ErrCodeInternal ErrorCode = 2100
)

// String returns the taxonomy name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "InvalidArgument"
	case ErrCodeDirectory:
		return "DirectoryError"
	case ErrCodeIO:
		return "IOError"
	case ErrCodeDecode:
		return "DecodeError"
	case ErrCodeSealed:
		return "Sealed"
	default:
		return "Internal"
	}
}

// PipelineError represents a structured error with code and context
type PipelineError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(code ErrorCode, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *PipelineError {
	return NewPipelineError(ErrCodeInvalidArgument, message, cause)
}

func DirectoryError(path string, cause error) *PipelineError {
	return NewPipelineError(ErrCodeDirectory, fmt.Sprintf("input directory %s is not usable", path), cause).
		WithDetail("path", path)
}

func IOError(op, path string, cause error) *PipelineError {
	return NewPipelineError(ErrCodeIO, fmt.Sprintf("%s %s", op, path), cause).
		WithDetail("op", op).
		WithDetail("path", path)
}

func DecodeError(path string, offset int64, message string, cause error) *PipelineError {
	return NewPipelineError(ErrCodeDecode, fmt.Sprintf("corrupt record file %s at offset %d: %s", path, offset, message), cause).
		WithDetail("path", path).
		WithDetail("offset", offset)
}

func Sealed(partition int) *PipelineError {
	return NewPipelineError(ErrCodeSealed, fmt.Sprintf("partition %d is sealed", partition), nil).
		WithDetail("partition", partition)
}

func InternalError(message string, cause error) *PipelineError {
	return NewPipelineError(ErrCodeInternal, message, cause)
}

// IsPipelineError checks if an error is, or wraps, a PipelineError
func IsPipelineError(err error) bool {
	var pe *PipelineError
	return stderrors.As(err, &pe)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
