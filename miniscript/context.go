package miniscript

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// maxStandardP2WSHScriptSize is the maximum size in bytes of a standard
	// witnessScript.
	maxStandardP2WSHScriptSize = 3600

	// maxStandardP2WSHStackItems is the maximum number of witness stack
	// items, excluding the witness script, of a standard P2WSH spend.
	maxStandardP2WSHStackItems = 100

	// maxScriptSigSize is the maximum size in bytes of a standard
	// scriptSig.
	maxScriptSigSize = 1650

	// maxOpsPerScript is the maximum number of non-push operations per
	// script.
	maxOpsPerScript = 201
)

// ScriptContext is the environment a script is executed in.  It decides the
// resource limits and which keys and fragments are allowed.
type ScriptContext uint8

const (
	// SegwitV0 is a P2WSH witness script.
	SegwitV0 ScriptContext = iota

	// Legacy is a bare or P2SH redeem script.
	Legacy
)

// String returns the name of the context.
func (c ScriptContext) String() string {
	switch c {
	case SegwitV0:
		return "segwitv0"
	case Legacy:
		return "legacy"
	default:
		return fmt.Sprintf("unknown context (%d)", uint8(c))
	}
}

// maxScriptSize returns the consensus (legacy) or standardness (segwit)
// limit of the script length.
func (c ScriptContext) maxScriptSize() int {
	if c == Legacy {
		return txscript.MaxScriptElementSize
	}
	return maxStandardP2WSHScriptSize
}

// checkKey checks that a resolved key is acceptable in this context.
func (c ScriptContext) checkKey(fragment string, key []byte) error {
	switch len(key) {
	case secp256k1.PubKeyBytesLenCompressed:
	case secp256k1.PubKeyBytesLenUncompressed:
		if c != Legacy {
			str := fmt.Sprintf("uncompressed key %x in %s is not "+
				"allowed in %s", key, fragment, c)
			return scriptError(ErrUncompressedKey, str)
		}
	default:
		str := fmt.Sprintf("pubkey argument of %s expected to be of "+
			"size %d, but got %d", fragment,
			secp256k1.PubKeyBytesLenCompressed, len(key))
		return scriptError(ErrBadPubKey, str)
	}
	if _, err := btcec.ParsePubKey(key); err != nil {
		str := fmt.Sprintf("invalid pubkey %x in %s: %v", key,
			fragment, err)
		return scriptError(ErrBadPubKey, str)
	}
	return nil
}

// checkFragment rejects fragments the context cannot execute.
func (c ScriptContext) checkFragment(node *AST) (*AST, error) {
	switch node.identifier {
	case f_ver_eq, f_outputs_pref:
		if c != SegwitV0 {
			str := fmt.Sprintf("%s is only available in %s",
				node.identifier, SegwitV0)
			return nil, scriptError(ErrContextFragment, str)
		}
	}
	return node, nil
}

// checkLocalConsensus checks the limits every spend of the script must
// respect.
func (c ScriptContext) checkLocalConsensus(a *AST) error {
	if a.scriptLen > c.maxScriptSize() {
		str := fmt.Sprintf("the script size is %v, which is larger "+
			"than the maximum %s script size of %v", a.scriptLen,
			c, c.maxScriptSize())
		return scriptError(ErrScriptTooLarge, str)
	}
	if a.maxOpCount() > maxOpsPerScript {
		str := fmt.Sprintf("the script requires a maximum number of "+
			"%d ops, which is larger than the consensus limit of "+
			"%d", a.maxOpCount(), maxOpsPerScript)
		return scriptError(ErrTooManyOps, str)
	}
	return nil
}

// checkLocalPolicy checks the standardness limits on the largest
// satisfaction.
func (c ScriptContext) checkLocalPolicy(a *AST) error {
	switch c {
	case SegwitV0:
		elems := a.ext.sat.elems
		if elems.valid && elems.value > maxStandardP2WSHStackItems {
			str := fmt.Sprintf("a satisfaction may need %d witness "+
				"stack items, the standard limit is %d",
				elems.value, maxStandardP2WSHStackItems)
			return scriptError(ErrTooManyWitnessElements, str)
		}

	case Legacy:
		size := a.ext.sat.scriptSig
		if size.valid && size.value > maxScriptSigSize {
			str := fmt.Sprintf("a satisfaction may need a %d byte "+
				"scriptSig, the standard limit is %d",
				size.value, maxScriptSigSize)
			return scriptError(ErrScriptSigTooLarge, str)
		}
	}
	return nil
}
