package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript/miniscript"
	"github.com/btcsuite/miniscript/policy"
)

// Wsh is a P2WSH output whose witness script is a sortedmulti or a
// miniscript. Exactly one of sortedMulti and ms is set.
type Wsh struct {
	sortedMulti *SortedMulti
	ms          *miniscript.AST
}

// NewWsh returns the P2WSH descriptor of a SegwitV0 miniscript.
func NewWsh(ms *miniscript.AST) (*Wsh, error) {
	if ms.Context() != miniscript.SegwitV0 {
		str := fmt.Sprintf("wsh miniscript %v is parsed for %v", ms,
			ms.Context())
		return nil, descError(ErrWrongContext, str)
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return &Wsh{ms: ms}, nil
}

// NewWshSortedMulti returns the P2WSH descriptor of a k-of-n sortedmulti.
func NewWshSortedMulti(k int, keys []string) (*Wsh, error) {
	sortedMulti, err := NewSortedMulti(k, keys, miniscript.SegwitV0)
	if err != nil {
		return nil, err
	}
	return &Wsh{sortedMulti: sortedMulti}, nil
}

// SortedMulti returns the sortedmulti witness script, or nil.
func (w *Wsh) SortedMulti() *SortedMulti {
	return w.sortedMulti
}

// Miniscript returns the witness script as a miniscript. A sortedmulti
// must have its keys resolved.
func (w *Wsh) Miniscript() (*miniscript.AST, error) {
	if w.sortedMulti != nil {
		return w.sortedMulti.Miniscript()
	}
	return w.ms, nil
}

// ApplyVars resolves the keys and hashes of the witness script.
func (w *Wsh) ApplyVars(
	lookupVar func(identifier string) ([]byte, error)) error {

	if w.sortedMulti != nil {
		return w.sortedMulti.ApplyVars(lookupVar)
	}
	return w.ms.ApplyVars(lookupVar)
}

// SanityCheck checks that a miniscript witness script is sane.
func (w *Wsh) SanityCheck() error {
	if w.sortedMulti != nil {
		return nil
	}
	return w.ms.IsSane()
}

// WitnessScript returns the witness script.
func (w *Wsh) WitnessScript() ([]byte, error) {
	if w.sortedMulti != nil {
		return w.sortedMulti.Script()
	}
	return w.ms.Script()
}

// Address returns the P2WSH address.
func (w *Wsh) Address(params *chaincfg.Params) (btcutil.Address, error) {
	witnessScript, err := w.WitnessScript()
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(witnessScript), params,
	)
}

// ScriptPubKey returns `OP_0 <sha256(witnessScript)>`.
func (w *Wsh) ScriptPubKey() ([]byte, error) {
	witnessScript, err := w.WitnessScript()
	if err != nil {
		return nil, err
	}
	return witnessProgram(chainhash.HashB(witnessScript))
}

// UnsignedScriptSig returns the empty scriptSig.
func (w *Wsh) UnsignedScriptSig() ([]byte, error) {
	return nil, nil
}

// ScriptCode returns the witness script.
func (w *Wsh) ScriptCode() ([]byte, error) {
	return w.WitnessScript()
}

// satisfyWitness returns the witness elements with the witness script last.
func (w *Wsh) satisfyWitness(
	satisfier *miniscript.Satisfier) (wire.TxWitness, error) {

	witnessScript, err := w.WitnessScript()
	if err != nil {
		return nil, err
	}
	var witness wire.TxWitness
	if w.sortedMulti != nil {
		witness, err = w.sortedMulti.Satisfy(satisfier)
	} else {
		witness, err = w.ms.Satisfy(satisfier)
	}
	if err != nil {
		return nil, err
	}
	return append(witness, witnessScript), nil
}

// Satisfy returns the witness, ending with the witness script, and an empty
// scriptSig.
func (w *Wsh) Satisfy(satisfier *miniscript.Satisfier) (wire.TxWitness,
	[]byte, error) {

	witness, err := w.satisfyWitness(satisfier)
	if err != nil {
		return nil, nil, err
	}
	return witness, nil, nil
}

// MaxSatisfactionWeight returns the worst case weight of a spend: the empty
// scriptSig length, the witness element count, the witness script and the
// satisfaction.
func (w *Wsh) MaxSatisfactionWeight() (int, error) {
	var (
		scriptSize  int
		size, elems int
		ok1, ok2    bool
	)
	if w.sortedMulti != nil {
		scriptSize = w.sortedMulti.ScriptSize()
		size, ok1 = w.sortedMulti.MaxSatisfactionSize()
		elems, ok2 = w.sortedMulti.MaxSatisfactionWitnessElements()
	} else {
		scriptSize = w.ms.ScriptSize()
		size, ok1 = w.ms.MaxSatisfactionSize()
		elems, ok2 = w.ms.MaxSatisfactionWitnessElements()
	}
	if !ok1 || !ok2 {
		str := fmt.Sprintf("%v cannot be satisfied", w)
		return 0, descError(ErrMalformedDescriptor, str)
	}
	return witnessScaleFactor + varIntSize(elems) +
		varIntSize(scriptSize) + scriptSize + size, nil
}

// Lift returns the policy of the witness script.
func (w *Wsh) Lift() (*policy.Policy, error) {
	if w.sortedMulti != nil {
		return w.sortedMulti.Lift(), nil
	}
	return w.ms.Lift()
}

// TranslateKeys returns a copy with every key replaced by fpk and every key
// hash by fpkh.
func (w *Wsh) TranslateKeys(fpk, fpkh miniscript.KeyTranslator) (*Wsh,
	error) {

	if w.sortedMulti != nil {
		sortedMulti, err := w.sortedMulti.TranslateKeys(fpk)
		if err != nil {
			return nil, err
		}
		return &Wsh{sortedMulti: sortedMulti}, nil
	}
	ms, err := w.ms.TranslateKeys(fpk, fpkh)
	if err != nil {
		return nil, err
	}
	return &Wsh{ms: ms}, nil
}

// String returns wsh(...).
func (w *Wsh) String() string {
	if w.sortedMulti != nil {
		return fmt.Sprintf("wsh(%v)", w.sortedMulti)
	}
	return fmt.Sprintf("wsh(%v)", w.ms)
}
