package miniscript

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrMalformedScript indicates the script could not be tokenized,
	// e.g. a push runs past the end of the script or is not minimally
	// encoded.
	ErrMalformedScript ErrorCode = iota

	// ErrInvalidOpcode indicates an opcode that has no miniscript token.
	ErrInvalidOpcode

	// ErrNonMinimalVerify indicates an OP_VERIFY directly after
	// OP_EQUAL, OP_CHECKSIG or OP_CHECKMULTISIG instead of the combined
	// VERIFY opcode.
	ErrNonMinimalVerify

	// ErrInvalidPush indicates a push that is not a minimally encoded
	// number, or a push of the wrong size after OP_PICK.
	ErrInvalidPush

	// ErrBadPubKey indicates a 33 or 65 byte push or key argument that
	// is not a valid public key.
	ErrBadPubKey

	// ErrUnexpectedToken indicates the decoder found a token that does not
	// continue any fragment.
	ErrUnexpectedToken

	// ErrUnexpectedEnd indicates the token stream ended in the middle of a
	// fragment.
	ErrUnexpectedEnd

	// ErrTrailingTokens indicates tokens were left over after the top
	// level fragment was decoded.
	ErrTrailingTokens

	// ErrNonCanonical indicates a decoded script that does not encode
	// back to the exact same bytes.
	ErrNonCanonical

	// ErrTooManyKeys indicates a multisig with more than 20 keys.
	ErrTooManyKeys

	// ErrMissingKey indicates a key or hash argument that has not been
	// resolved with ApplyVars.
	ErrMissingKey

	// ErrDuplicateKey indicates the same key appears twice.
	ErrDuplicateKey

	// ErrUncompressedKey indicates an uncompressed key in a context that
	// only allows compressed keys.
	ErrUncompressedKey

	// ErrBadHashLen indicates a hash argument of the wrong length.
	ErrBadHashLen

	// ErrScriptTooLarge indicates the script exceeds the size limit of
	// its context.
	ErrScriptTooLarge

	// ErrTooManyOps indicates the script may execute more than 201
	// non-push opcodes.
	ErrTooManyOps

	// ErrTooManyWitnessElements indicates a satisfaction may need more
	// witness stack items than is standard.
	ErrTooManyWitnessElements

	// ErrScriptSigTooLarge indicates a satisfaction may exceed the
	// standard scriptSig size.
	ErrScriptSigTooLarge

	// ErrContextFragment indicates a fragment that is not available in
	// the script context.
	ErrContextFragment

	// ErrNotTopLevel indicates an expression that cannot stand alone as a
	// script.
	ErrNotTopLevel

	// ErrTimelockMixing indicates a satisfaction that would need both a
	// height based and a time based timelock of the same kind.
	ErrTimelockMixing

	// ErrNoSatisfaction indicates no witness could be built from the
	// available secrets.
	ErrNoSatisfaction

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrMalformedScript:        "ErrMalformedScript",
	ErrInvalidOpcode:          "ErrInvalidOpcode",
	ErrNonMinimalVerify:       "ErrNonMinimalVerify",
	ErrInvalidPush:            "ErrInvalidPush",
	ErrBadPubKey:              "ErrBadPubKey",
	ErrUnexpectedToken:        "ErrUnexpectedToken",
	ErrUnexpectedEnd:          "ErrUnexpectedEnd",
	ErrTrailingTokens:         "ErrTrailingTokens",
	ErrNonCanonical:           "ErrNonCanonical",
	ErrTooManyKeys:            "ErrTooManyKeys",
	ErrMissingKey:             "ErrMissingKey",
	ErrDuplicateKey:           "ErrDuplicateKey",
	ErrUncompressedKey:        "ErrUncompressedKey",
	ErrBadHashLen:             "ErrBadHashLen",
	ErrScriptTooLarge:         "ErrScriptTooLarge",
	ErrTooManyOps:             "ErrTooManyOps",
	ErrTooManyWitnessElements: "ErrTooManyWitnessElements",
	ErrScriptSigTooLarge:      "ErrScriptSigTooLarge",
	ErrContextFragment:        "ErrContextFragment",
	ErrNotTopLevel:            "ErrNotTopLevel",
	ErrTimelockMixing:         "ErrTimelockMixing",
	ErrNoSatisfaction:         "ErrNoSatisfaction",
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

// Error identifies a failure to tokenize, decode, type check or resolve a
// miniscript.  The caller can use errors.Is with an ErrorCode to find out the
// kind of failure.
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

// scriptError creates an Error given a set of arguments.
func scriptError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}
