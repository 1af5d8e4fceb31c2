package descriptor

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrBadChecksum indicates a descriptor whose checksum does not match
	// its body, or that contains characters a checksum cannot cover.
	ErrBadChecksum ErrorCode = iota

	// ErrMalformedDescriptor indicates text that is not a descriptor of a
	// supported shape.
	ErrMalformedDescriptor

	// ErrBadThreshold indicates a sortedmulti threshold outside 1..n.
	ErrBadThreshold

	// ErrWrongContext indicates a miniscript parsed for another script
	// context than the descriptor it is placed in.
	ErrWrongContext

	// ErrUnresolvedKey indicates an operation that needs key values
	// before ApplyVars was called.
	ErrUnresolvedKey

	// ErrBadKey indicates a key that cannot be used by the descriptor,
	// such as a key hash or uncompressed key in wpkh.
	ErrBadKey

	// ErrNoWitnessScript indicates a descriptor without a witness script.
	ErrNoWitnessScript

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrBadChecksum:         "ErrBadChecksum",
	ErrMalformedDescriptor: "ErrMalformedDescriptor",
	ErrBadThreshold:        "ErrBadThreshold",
	ErrWrongContext:        "ErrWrongContext",
	ErrUnresolvedKey:       "ErrUnresolvedKey",
	ErrBadKey:              "ErrBadKey",
	ErrNoWitnessScript:     "ErrNoWitnessScript",
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

// Error identifies a descriptor that could not be parsed, built or used.
// Failures of the miniscript inside a descriptor are returned unchanged as
// miniscript errors.
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

// descError creates an Error given a set of arguments.
func descError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}
