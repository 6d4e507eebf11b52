// Package protocol defines the wire messages exchanged between callers and
// executors: a Request naming a function with keyword arguments, and a
// Response correlated to it by the shared task ID.
//
// Both messages are JSON objects with fixed field names. Decoding happens in
// two phases. Bytes that are not JSON yield ErrUnparsable. A JSON value that
// fails schema validation yields a *MalformedError, which carries the task ID
// when one could be recovered so the failure can still be reported to the
// task that owns it.
package protocol

import "fmt"

// Status is the lifecycle state of a task. The wire value is the ordinal.
type Status int

const (
	StatusPending Status = iota
	StatusExecuting
	StatusCompleted
)

func (s Status) Valid() bool {
	return s >= StatusPending && s <= StatusCompleted
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusExecuting:
		return "EXECUTING"
	case StatusCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ExitCode classifies the outcome of a completed task. The wire value is the
// ordinal.
type ExitCode int

const (
	ExitSuccess ExitCode = iota
	// ExitError means the function returned an error or panicked.
	ExitError
	// ExitBadRequest means the request was identifiable but failed validation.
	ExitBadRequest
	ExitFunctionNotFound
	// ExitBadResponse is assigned locally by a caller that received an
	// identifiable but invalid response.
	ExitBadResponse
)

func (c ExitCode) Valid() bool {
	return c >= ExitSuccess && c <= ExitBadResponse
}

// IsSuccess reports whether the code counts as success for promise
// resolution. Only ExitSuccess does.
func (c ExitCode) IsSuccess() bool {
	return c == ExitSuccess
}

func (c ExitCode) String() string {
	switch c {
	case ExitSuccess:
		return "SUCCESS"
	case ExitError:
		return "ERROR"
	case ExitBadRequest:
		return "BAD_REQUEST"
	case ExitFunctionNotFound:
		return "FUNCTION_NOT_FOUND"
	case ExitBadResponse:
		return "BAD_RESPONSE"
	default:
		return fmt.Sprintf("ExitCode(%d)", int(c))
	}
}
