package errors

import (
	"context"
	"errors"
)

// WrapWithCode wraps err under code. Context errors become TIMEOUT or
// CANCELED whatever code was asked for. A nil err yields nil.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var coded *Error
	ok := errors.As(err, &coded)
	return coded, ok
}

// Is reports whether the first *Error in err's chain has code.
func Is(err error, code ErrorCode) bool {
	coded, ok := As(err)
	return ok && coded.code == code
}

// Code returns the code of the first *Error in err's chain, or "".
func Code(err error) ErrorCode {
	if coded, ok := As(err); ok {
		return coded.code
	}
	return ""
}

// IsRetryable reports whether err carries a retryable code. Uncoded errors
// are not retryable.
func IsRetryable(err error) bool {
	coded, ok := As(err)
	return ok && coded.Retryable()
}

// ExitCode returns the CLI exit status for err: 0 for nil, 1 for uncoded.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if coded, ok := As(err); ok {
		return coded.code.ExitCode()
	}
	return 1
}

// Join is errors.Join, re-exported so callers need only this package.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
