// Package errors provides the structured error taxonomy used across indexkit.
//
// Every failure surfaced by the task log, its repositories and the indexer is
// an *Error carrying a code. The code's category decides whether a retry
// can help.
//
// # Error Categories
//
//   - Transient: temporary failures where retry may succeed (store unavailable, timeouts)
//   - Permanent: failures where retry will not help (invalid argument, constraint violation)
//   - Internal: unexpected errors indicating bugs or corrupted records
//
// # Error Codes
//
//   - INVALID_ARGUMENT: a required argument (e.g. the content item) is absent
//   - REPOSITORY: the task repository failed
//   - CONFLICT: a concurrent writer won a compare-and-swap or a constraint was violated
//   - UNAVAILABLE: the backing store cannot be reached
//   - NOT_FOUND, TIMEOUT, CANCELED, CORRUPTION, INTERNAL
//
// # Usage
//
//	err := errors.InvalidArgument("content item is required")
//
//	if errors.Is(err, errors.ErrCodeInvalidArgument) {
//	    // caller bug, do not retry
//	}
//
//	if errors.IsRetryable(err) {
//	    // schedule a retry
//	}
//
// The CLI prints errors as JSON under --json and exits with ExitCode(err).
package errors
