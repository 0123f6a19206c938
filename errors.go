package relay

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes failures surfaced by the core.
type ErrorCode string

const (
	// CodeNonRetriable marks a permanent server rejection. The transaction
	// is removed from the outbox and its waiter rejected.
	CodeNonRetriable ErrorCode = "NON_RETRIABLE"

	// CodeUnknownMutationFn indicates the transaction names a mutation
	// function missing from the registry. Treated as non-retriable.
	CodeUnknownMutationFn ErrorCode = "UNKNOWN_MUTATION_FN"

	// CodeDeserializeFailed indicates a stored envelope could not be
	// decoded. Recoverable: the entry is logged, pruned, and skipped.
	CodeDeserializeFailed ErrorCode = "DESERIALIZE_FAILED"

	// CodeStorageFailure indicates the storage adapter failed.
	CodeStorageFailure ErrorCode = "STORAGE_FAILURE"

	// CodeNotFound indicates an outbox operation referenced an absent id.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeRetriesExhausted indicates the retry budget was spent. The
	// transaction is removed and its waiter rejected with the last error.
	CodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
)

// Error is the structured error type used throughout the core.
//
// Code identifies the category, TransactionID the affected transaction when
// one is in scope. Err holds the wrapped cause and participates in
// errors.Is/errors.As chains.
type Error struct {
	Code          ErrorCode
	Message       string
	TransactionID string
	Err           error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("%s: %s (tx=%s)", e.Code, e.Message, e.TransactionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// NonRetriable wraps err so the retry policy treats it as a permanent
// rejection. Mutation functions return this when the server refuses the
// payload outright (malformed input, authorization, ...).
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeNonRetriable, Message: err.Error(), Err: err}
}

// NonRetriablef builds a permanent rejection from a format string.
func NonRetriablef(format string, args ...any) error {
	return &Error{Code: CodeNonRetriable, Message: fmt.Sprintf(format, args...)}
}

// IsNonRetriable reports whether err (anywhere in its chain) is a permanent
// rejection. Unknown-mutation-function errors count: they can never succeed
// on retry.
func IsNonRetriable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == CodeNonRetriable || re.Code == CodeUnknownMutationFn
	}
	return false
}

// IsNotFound reports whether err is an outbox miss.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == CodeNotFound
}

// IsDeserializeFailed reports whether err is a recoverable decode failure.
func IsDeserializeFailed(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == CodeDeserializeFailed
}

func newNotFoundError(id string) error {
	return &Error{Code: CodeNotFound, Message: "transaction not in outbox", TransactionID: id}
}

func newStorageError(op string, err error) error {
	return &Error{Code: CodeStorageFailure, Message: op, Err: err}
}

func newDeserializeError(key string, err error) error {
	return &Error{
		Code:    CodeDeserializeFailed,
		Message: fmt.Sprintf("decode envelope %q", key),
		Err:     err,
	}
}

func newUnknownMutationFnError(name, txID string) error {
	return &Error{
		Code:          CodeUnknownMutationFn,
		Message:       fmt.Sprintf("mutation function %q is not registered", name),
		TransactionID: txID,
	}
}

// errorDetail captures err into the persisted failure shape. The code of a
// structured Error doubles as the name; plain errors use a generic one.
func errorDetail(err error) *ErrorDetail {
	var re *Error
	if errors.As(err, &re) {
		return &ErrorDetail{Name: string(re.Code), Message: re.Message}
	}
	return &ErrorDetail{Name: "Error", Message: err.Error()}
}
