// Package descriptor implements output script descriptors for miniscripts:
// sh, wsh and wpkh outputs and the sortedmulti multisig, with their
// checksums, scripts, satisfactions and fee weights.
//
// Keys are written as identifiers. As with miniscripts, ApplyVars must be
// called to resolve them before any script is built.
package descriptor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript/miniscript"
	"github.com/btcsuite/miniscript/policy"
)

// witnessScaleFactor is the weight of one byte outside the witness.
const witnessScaleFactor = 4

// Descriptor is an output descriptor.
type Descriptor interface {
	// SanityCheck reports whether the descriptor is safe to use: its
	// miniscript, if any, is sane.
	SanityCheck() error

	// Address returns the address of the output.
	Address(params *chaincfg.Params) (btcutil.Address, error)

	// ScriptPubKey returns the output script.
	ScriptPubKey() ([]byte, error)

	// UnsignedScriptSig returns the scriptSig a spend has before it is
	// satisfied. It is empty unless the output nests a witness program.
	UnsignedScriptSig() ([]byte, error)

	// WitnessScript returns the script committed to by a P2WSH program.
	WitnessScript() ([]byte, error)

	// ScriptCode returns the script that signatures commit to.
	ScriptCode() ([]byte, error)

	// Satisfy returns the witness and the scriptSig of a spend.
	Satisfy(satisfier *miniscript.Satisfier) (wire.TxWitness, []byte,
		error)

	// MaxSatisfactionWeight returns the worst case weight of the
	// scriptSig and witness of a spend.
	MaxSatisfactionWeight() (int, error)

	// Lift returns the abstract spending policy.
	Lift() (*policy.Policy, error)

	// ApplyVars resolves the key and hash identifiers in place. See
	// miniscript.AST.ApplyVars. A descriptor must not be shared until
	// it returns, and is read-only after that.
	ApplyVars(lookupVar func(identifier string) ([]byte, error)) error

	// String returns the descriptor without a checksum.
	String() string
}

var (
	_ Descriptor = (*Sh)(nil)
	_ Descriptor = (*Wsh)(nil)
	_ Descriptor = (*Wpkh)(nil)
)

// Parse parses a descriptor. A trailing checksum is verified and removed
// first. The keys of the result are not resolved yet.
func Parse(desc string) (Descriptor, error) {
	body, err := stripChecksum(desc)
	if err != nil {
		return nil, err
	}

	var d Descriptor
	switch {
	case hasWrapper(body, "sh"):
		d, err = parseSh(unwrap(body, "sh"))
	case hasWrapper(body, "wsh"):
		d, err = parseWsh(unwrap(body, "wsh"))
	case hasWrapper(body, "wpkh"):
		d, err = NewWpkh(unwrap(body, "wpkh"))
	default:
		str := fmt.Sprintf("unsupported descriptor %q", body)
		return nil, descError(ErrMalformedDescriptor, str)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Parsed descriptor %v", d)
	return d, nil
}

func hasWrapper(s, name string) bool {
	return strings.HasPrefix(s, name+"(") && strings.HasSuffix(s, ")")
}

func unwrap(s, name string) string {
	return s[len(name)+1 : len(s)-1]
}

func parseSh(inner string) (*Sh, error) {
	switch {
	case hasWrapper(inner, "wsh"):
		wsh, err := parseWsh(unwrap(inner, "wsh"))
		if err != nil {
			return nil, err
		}
		return &Sh{inner: ShWsh, wsh: wsh}, nil

	case hasWrapper(inner, "wpkh"):
		return NewShWpkh(unwrap(inner, "wpkh"))

	case hasWrapper(inner, "sortedmulti"):
		k, keys, err := parseSortedMultiArgs(unwrap(inner, "sortedmulti"))
		if err != nil {
			return nil, err
		}
		return NewShSortedMulti(k, keys)
	}

	ms, err := miniscript.ParseWithContext(inner, miniscript.Legacy)
	if err != nil {
		return nil, err
	}
	return NewSh(ms)
}

func parseWsh(inner string) (*Wsh, error) {
	if hasWrapper(inner, "sortedmulti") {
		k, keys, err := parseSortedMultiArgs(unwrap(inner, "sortedmulti"))
		if err != nil {
			return nil, err
		}
		return NewWshSortedMulti(k, keys)
	}

	ms, err := miniscript.ParseWithContext(inner, miniscript.SegwitV0)
	if err != nil {
		return nil, err
	}
	return NewWsh(ms)
}

func parseSortedMultiArgs(args string) (int, []string, error) {
	parts := strings.Split(args, ",")
	if len(parts) < 2 {
		str := fmt.Sprintf("sortedmulti(%s) needs a threshold and keys",
			args)
		return 0, nil, descError(ErrMalformedDescriptor, str)
	}
	k, err := strconv.Atoi(parts[0])
	if err != nil {
		str := fmt.Sprintf("sortedmulti threshold %q: %v", parts[0], err)
		return 0, nil, descError(ErrBadThreshold, str)
	}
	return k, parts[1:], nil
}

// scriptHashScript returns the P2SH output script of redeemScript.
func scriptHashScript(redeemScript []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(redeemScript)).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// witnessProgram returns the version 0 witness program of a hash.
func witnessProgram(hash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash).
		Script()
}

// witnessToScriptSig encodes each witness element as a data push, which is
// how a legacy spend presents the same stack.
func witnessToScriptSig(witness wire.TxWitness) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	for _, item := range witness {
		b.AddData(item)
	}
	return b.Script()
}

// pushOpcodeSize returns the size of the opcode pushing n bytes.
func pushOpcodeSize(n int) int {
	switch {
	case n < txscript.OP_PUSHDATA1:
		return 1
	case n <= 0xff:
		return 2
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

func varIntSize(n int) int {
	return wire.VarIntSerializeSize(uint64(n))
}
