package errors

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Error is a coded failure from the task log, a repository or the indexer.
type Error struct {
	code          ErrorCode
	message       string
	cause         error
	retryable     *bool // nil follows the code's category
	contentItemID string
	taskID        string
	metadata      map[string]string
}

// Error returns the message followed by the cause, if any.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Code() ErrorCode { return e.code }

func (e *Error) Category() ErrorCategory { return e.code.Category() }

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether repeating the operation may succeed.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.code.Category() == CategoryTransient
}

// ContentItemID is the content item the failure concerns, if known.
func (e *Error) ContentItemID() string { return e.contentItemID }

// TaskID is the indexing task the failure concerns, if known.
func (e *Error) TaskID() string { return e.taskID }

// Metadata returns a copy of the attached key-value context.
func (e *Error) Metadata() map[string]string {
	return maps.Clone(e.metadata)
}

// MarshalJSON renders the error for machine-readable CLI output.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Code          ErrorCode         `json:"code"`
		Category      ErrorCategory     `json:"category"`
		Message       string            `json:"message"`
		Cause         string            `json:"cause,omitempty"`
		Retryable     bool              `json:"retryable"`
		ContentItemID string            `json:"content_item_id,omitempty"`
		TaskID        string            `json:"task_id,omitempty"`
		Metadata      map[string]string `json:"metadata,omitempty"`
	}{
		Code:          e.code,
		Category:      e.Category(),
		Message:       e.message,
		Retryable:     e.Retryable(),
		ContentItemID: e.contentItemID,
		TaskID:        e.taskID,
		Metadata:      e.metadata,
	}
	if e.cause != nil {
		out.Cause = e.cause.Error()
	}
	return json.Marshal(out)
}

// Option sets optional fields on an Error.
type Option func(*Error)

// WithRetryable overrides the category's retry semantics.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.retryable = &retryable }
}

func WithContentItemID(id string) Option {
	return func(e *Error) { e.contentItemID = id }
}

func WithTaskID(id string) Option {
	return func(e *Error) { e.taskID = id }
}

func WithCause(cause error) Option {
	return func(e *Error) { e.cause = cause }
}

func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New creates an Error with code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InvalidArgument reports a missing or malformed argument.
func InvalidArgument(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidArgument, message, opts...)
}

func NotFound(message string, opts ...Option) *Error {
	return New(ErrCodeNotFound, message, opts...)
}

// Conflict reports a lost compare-and-swap.
func Conflict(message string, opts ...Option) *Error {
	return New(ErrCodeConflict, message, opts...)
}

func Unavailable(message string, opts ...Option) *Error {
	return New(ErrCodeUnavailable, message, opts...)
}

// Corruption reports a stored record that could not be decoded.
func Corruption(message string, opts ...Option) *Error {
	return New(ErrCodeCorruption, message, opts...)
}

func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
