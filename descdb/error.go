package descdb

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrNotFound indicates that no descriptor is stored for a
	// scriptPubKey.
	ErrNotFound ErrorCode = iota

	// ErrUnknownDbType indicates a database type Open does not support.
	ErrUnknownDbType

	// ErrVersionMismatch indicates a stored layout version other than
	// the one this package writes.
	ErrVersionMismatch

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrNotFound:        "ErrNotFound",
	ErrUnknownDbType:   "ErrUnknownDbType",
	ErrVersionMismatch: "ErrVersionMismatch",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error implements the error interface so an ErrorCode can be used as the
// target of errors.Is.
func (e ErrorCode) Error() string {
	return e.String()
}

// Error identifies a failure of the descriptor database itself. Errors of
// the storage engine and of descriptors are returned unchanged.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the error code.
func (e Error) Unwrap() error {
	return e.ErrorCode
}

// dbError creates an Error given a set of arguments.
func dbError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}
