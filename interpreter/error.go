package interpreter

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrUnexpectedStackEnd indicates an evaluation needed more stack
	// elements than there are.
	ErrUnexpectedStackEnd ErrorCode = iota

	// ErrExpectedPush indicates a boolean element where a data push was
	// required, or a scriptSig opcode that is not a push.
	ErrExpectedPush

	// ErrUnexpectedStackBoolean indicates a boolean element in the
	// signature position of a multisig.
	ErrUnexpectedStackBoolean

	// ErrPkEvaluation indicates a Satisfied element in the signature
	// position of a key check.
	ErrPkEvaluation

	// ErrPkHashVerifyFail indicates a key whose hash160 is not the hash
	// committed to by pk_h.
	ErrPkHashVerifyFail

	// ErrPubKeyParse indicates a witness key that is not a valid public
	// key.
	ErrPubKeyParse

	// ErrInvalidSignature indicates a signature that does not parse or
	// does not verify against its key.
	ErrInvalidSignature

	// ErrAbsoluteLockTimeNotMet indicates an after fragment whose lock
	// time is not reached.
	ErrAbsoluteLockTimeNotMet

	// ErrRelativeLockTimeNotMet indicates an older fragment whose lock
	// age is not reached.
	ErrRelativeLockTimeNotMet

	// ErrHashPreimageLength indicates a hash lock preimage that is not 32
	// bytes long.
	ErrHashPreimageLength

	// ErrCovWitnessSize indicates a covenant slot whose element has the
	// wrong size.
	ErrCovWitnessSize

	// ErrBadLayout indicates a covenant layout whose slots do not match
	// their positions.
	ErrBadLayout

	// ErrMultiSigEvaluation indicates a multisig that did not find k
	// signatures, or whose dummy element is not empty.
	ErrMultiSigEvaluation

	// ErrVerifyFailed indicates a v: wrapped fragment that evaluated to
	// false.
	ErrVerifyFailed

	// ErrCouldNotEvaluate indicates a fragment result that does not fit
	// the fragment's type, e.g. a Push where a boolean was expected.
	ErrCouldNotEvaluate

	// ErrScriptSatisfaction indicates the evaluation did not end with
	// exactly one Satisfied element.
	ErrScriptSatisfaction

	// ErrIncorrectScriptHash indicates a P2SH redeem script that does not
	// hash to the scriptPubKey.
	ErrIncorrectScriptHash

	// ErrIncorrectWScriptHash indicates a witness script that does not
	// hash to the witness program.
	ErrIncorrectWScriptHash

	// ErrIncorrectWPubKeyHash indicates a P2WPKH key that does not hash to
	// the witness program.
	ErrIncorrectWPubKeyHash

	// ErrNonEmptyScriptSig indicates a native segwit spend with a
	// scriptSig, or a nested one with more than the program push.
	ErrNonEmptyScriptSig

	// ErrNonEmptyWitness indicates a legacy spend with a witness.
	ErrNonEmptyWitness

	// ErrUnsupportedSpend indicates a scriptPubKey the interpreter does
	// not handle, such as a witness program of an unknown version.
	ErrUnsupportedSpend

	// ErrMiniscript indicates the script could not be decoded as a
	// miniscript.
	ErrMiniscript

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrUnexpectedStackEnd:     "ErrUnexpectedStackEnd",
	ErrExpectedPush:           "ErrExpectedPush",
	ErrUnexpectedStackBoolean: "ErrUnexpectedStackBoolean",
	ErrPkEvaluation:           "ErrPkEvaluation",
	ErrPkHashVerifyFail:       "ErrPkHashVerifyFail",
	ErrPubKeyParse:            "ErrPubKeyParse",
	ErrInvalidSignature:       "ErrInvalidSignature",
	ErrAbsoluteLockTimeNotMet: "ErrAbsoluteLockTimeNotMet",
	ErrRelativeLockTimeNotMet: "ErrRelativeLockTimeNotMet",
	ErrHashPreimageLength:     "ErrHashPreimageLength",
	ErrCovWitnessSize:         "ErrCovWitnessSize",
	ErrBadLayout:              "ErrBadLayout",
	ErrMultiSigEvaluation:     "ErrMultiSigEvaluation",
	ErrVerifyFailed:           "ErrVerifyFailed",
	ErrCouldNotEvaluate:       "ErrCouldNotEvaluate",
	ErrScriptSatisfaction:     "ErrScriptSatisfaction",
	ErrIncorrectScriptHash:    "ErrIncorrectScriptHash",
	ErrIncorrectWScriptHash:   "ErrIncorrectWScriptHash",
	ErrIncorrectWPubKeyHash:   "ErrIncorrectWPubKeyHash",
	ErrNonEmptyScriptSig:      "ErrNonEmptyScriptSig",
	ErrNonEmptyWitness:        "ErrNonEmptyWitness",
	ErrUnsupportedSpend:       "ErrUnsupportedSpend",
	ErrMiniscript:             "ErrMiniscript",
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

// Error identifies a failed evaluation. The caller can use errors.Is with an
// ErrorCode to find out the kind of failure.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error, if any
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Description, e.Err)
	}
	return e.Description
}

// Unwrap returns the error code and the underlying error.
func (e Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.ErrorCode, e.Err}
	}
	return []error{e.ErrorCode}
}

// evalError creates an Error given a set of arguments.
func evalError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc}
}

// covSizeError reports a covenant slot element of the wrong size.
func covSizeError(pos, expected, actual int) Error {
	str := fmt.Sprintf("covenant element at position %d has %d bytes, "+
		"expected %d", pos, actual, expected)
	return evalError(ErrCovWitnessSize, str)
}
