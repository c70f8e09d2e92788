package errors

// ErrorCategory groups codes by whether a retry can help.
type ErrorCategory string

const (
	CategoryTransient ErrorCategory = "transient"
	CategoryPermanent ErrorCategory = "permanent"
	CategoryInternal  ErrorCategory = "internal"
)

func (c ErrorCategory) String() string {
	return string(c)
}

// ErrorCode names one kind of failure.
type ErrorCode string

const (
	// Transient
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // backing store unreachable
	ErrCodeRepository  ErrorCode = "REPOSITORY"  // repository read or write failed

	// Permanent
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT" // absent or malformed argument
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeConflict        ErrorCode = "CONFLICT" // lost a compare-and-swap
	ErrCodeCanceled        ErrorCode = "CANCELED"

	// Internal
	ErrCodeInternal   ErrorCode = "INTERNAL"
	ErrCodeCorruption ErrorCode = "CORRUPTION" // stored record could not be decoded
)

func (c ErrorCode) String() string {
	return string(c)
}

// Category returns the category the code belongs to. Unknown codes are
// internal.
func (c ErrorCode) Category() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeRepository:
		return CategoryTransient
	case ErrCodeInvalidArgument, ErrCodeNotFound, ErrCodeConflict, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// ExitCode maps a code to a process exit status for the CLI.
// Usage errors exit 2, retryable failures 75 (EX_TEMPFAIL), the rest 1.
func (c ErrorCode) ExitCode() int {
	switch {
	case c == ErrCodeInvalidArgument:
		return 2
	case c.Category() == CategoryTransient:
		return 75
	default:
		return 1
	}
}
