package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrorCategory says which part of the ingestion path produced an error
type ErrorCategory int

const (
	// CategorySource is a failure reading from or opening the external source
	CategorySource ErrorCategory = iota
	// CategoryOverflow is an item rejected because the buffer was full
	CategoryOverflow
	// CategoryDecode is a drained payload that could not be turned into a record
	CategoryDecode
	// CategoryConfig is an invalid setting. The only category that is fatal.
	CategoryConfig
)

func (c ErrorCategory) String() string {
	switch c {
	case CategorySource:
		return "source"
	case CategoryOverflow:
		return "overflow"
	case CategoryDecode:
		return "decode"
	case CategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ErrBufferFull marks an item dropped on overflow
var ErrBufferFull = errors.New("buffer full")

// ClassifiedError wraps an error with its category and additional context
type ClassifiedError struct {
	Err      error
	Category ErrorCategory
	Message  string
	Metadata map[string]interface{}
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return fmt.Sprintf("%s: %v", ce.Message, ce.Err)
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// NewClassifiedError creates a new classified error with category
func NewClassifiedError(err error, category ErrorCategory, message string) *ClassifiedError {
	return &ClassifiedError{
		Err:      err,
		Category: category,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// WithMetadata adds metadata to the classified error
func (ce *ClassifiedError) WithMetadata(key string, value interface{}) *ClassifiedError {
	ce.Metadata[key] = value
	return ce
}

// ConfigError builds a configuration error for field
func ConfigError(field, format string, args ...interface{}) *ClassifiedError {
	return NewClassifiedError(fmt.Errorf(format, args...), CategoryConfig, "invalid "+field)
}

// SourceError wraps err as a source failure of adapter
func SourceError(adapter string, err error) *ClassifiedError {
	return NewClassifiedError(err, CategorySource, "source "+adapter).
		WithMetadata("adapter", adapter)
}

// DecodeError wraps err as a decode failure for format
func DecodeError(format string, err error) *ClassifiedError {
	return NewClassifiedError(err, CategoryDecode, "decode "+format).
		WithMetadata("format", format)
}

// CategoryOf returns the category of a classified error. Unclassified errors
// are treated as source errors because that is where unknown failures come from.
func CategoryOf(err error) ErrorCategory {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}
	if errors.Is(err, ErrBufferFull) {
		return CategoryOverflow
	}
	return CategorySource
}

// IsFatal reports whether err must stop the adapter from starting
func IsFatal(err error) bool {
	return err != nil && CategoryOf(err) == CategoryConfig
}

// IsRetriable reports whether an operation that failed with err is worth
// retrying. Config and decode errors never are; source errors are when they
// look like transient network trouble.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		switch classified.Category {
		case CategoryConfig, CategoryDecode:
			return false
		}
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	// Errno satisfies net.Error, so it has to be checked first
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return retriableErrno(errno)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"invalid argument", "invalid syntax", "parse error", "unmarshal", "no such host"} {
		if strings.Contains(msg, s) {
			return false
		}
	}

	// unknown errors from a client library get the benefit of the doubt
	return true
}

func retriableErrno(errno syscall.Errno) bool {
	switch errno {
	case syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
		syscall.ETIMEDOUT,
		syscall.EPIPE,
		syscall.EAGAIN,
		syscall.EMFILE,
		syscall.ENFILE:
		return true
	default:
		return false
	}
}
