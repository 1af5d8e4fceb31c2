package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript/miniscript"
	"github.com/btcsuite/miniscript/policy"
)

// ShInner identifies what a P2SH output wraps.
type ShInner uint8

// These constants are the inner kinds of Sh.
const (
	// ShWsh nests a P2WSH program.
	ShWsh ShInner = iota

	// ShWpkh nests a P2WPKH program.
	ShWpkh

	// ShSortedMulti is a sortedmulti redeem script.
	ShSortedMulti

	// ShMs is a Legacy miniscript redeem script.
	ShMs
)

var shInnerStrings = map[ShInner]string{
	ShWsh:         "wsh",
	ShWpkh:        "wpkh",
	ShSortedMulti: "sortedmulti",
	ShMs:          "miniscript",
}

// String returns the ShInner as a human-readable name.
func (k ShInner) String() string {
	if s := shInnerStrings[k]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ShInner (%d)", uint8(k))
}

// Sh is a P2SH output. Exactly the field selected by inner is set.
type Sh struct {
	inner ShInner

	wsh         *Wsh
	wpkh        *Wpkh
	sortedMulti *SortedMulti
	ms          *miniscript.AST
}

// NewSh returns the P2SH descriptor of a Legacy miniscript.
func NewSh(ms *miniscript.AST) (*Sh, error) {
	if ms.Context() != miniscript.Legacy {
		str := fmt.Sprintf("sh miniscript %v is parsed for %v", ms,
			ms.Context())
		return nil, descError(ErrWrongContext, str)
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return &Sh{inner: ShMs, ms: ms}, nil
}

// NewShSortedMulti returns the P2SH descriptor of a k-of-n sortedmulti.
func NewShSortedMulti(k int, keys []string) (*Sh, error) {
	sortedMulti, err := NewSortedMulti(k, keys, miniscript.Legacy)
	if err != nil {
		return nil, err
	}
	return &Sh{inner: ShSortedMulti, sortedMulti: sortedMulti}, nil
}

// NewShWsh returns the P2SH-P2WSH descriptor of a SegwitV0 miniscript.
func NewShWsh(ms *miniscript.AST) (*Sh, error) {
	wsh, err := NewWsh(ms)
	if err != nil {
		return nil, err
	}
	return &Sh{inner: ShWsh, wsh: wsh}, nil
}

// NewShWshSortedMulti returns the P2SH-P2WSH descriptor of a k-of-n
// sortedmulti.
func NewShWshSortedMulti(k int, keys []string) (*Sh, error) {
	wsh, err := NewWshSortedMulti(k, keys)
	if err != nil {
		return nil, err
	}
	return &Sh{inner: ShWsh, wsh: wsh}, nil
}

// NewShWpkh returns the P2SH-P2WPKH descriptor of a key identifier.
func NewShWpkh(key string) (*Sh, error) {
	wpkh, err := NewWpkh(key)
	if err != nil {
		return nil, err
	}
	return &Sh{inner: ShWpkh, wpkh: wpkh}, nil
}

// Inner returns the kind of the wrapped output.
func (s *Sh) Inner() ShInner {
	return s.inner
}

// Wsh returns the nested P2WSH descriptor, or nil.
func (s *Sh) Wsh() *Wsh {
	return s.wsh
}

// Wpkh returns the nested P2WPKH descriptor, or nil.
func (s *Sh) Wpkh() *Wpkh {
	return s.wpkh
}

// SortedMulti returns the sortedmulti redeem script, or nil.
func (s *Sh) SortedMulti() *SortedMulti {
	return s.sortedMulti
}

// Miniscript returns the miniscript redeem script, or nil.
func (s *Sh) Miniscript() *miniscript.AST {
	return s.ms
}

func (s *Sh) badInner() error {
	str := fmt.Sprintf("sh has unknown inner kind %v", s.inner)
	return descError(ErrMalformedDescriptor, str)
}

// ApplyVars resolves the keys and hashes of the wrapped output.
func (s *Sh) ApplyVars(
	lookupVar func(identifier string) ([]byte, error)) error {

	switch s.inner {
	case ShWsh:
		return s.wsh.ApplyVars(lookupVar)
	case ShWpkh:
		return s.wpkh.ApplyVars(lookupVar)
	case ShSortedMulti:
		return s.sortedMulti.ApplyVars(lookupVar)
	case ShMs:
		return s.ms.ApplyVars(lookupVar)
	}
	return s.badInner()
}

// SanityCheck checks that a miniscript inside is sane.
func (s *Sh) SanityCheck() error {
	switch s.inner {
	case ShWsh:
		return s.wsh.SanityCheck()
	case ShWpkh, ShSortedMulti:
		return nil
	case ShMs:
		return s.ms.IsSane()
	}
	return s.badInner()
}

// RedeemScript returns the script whose hash the output commits to: the
// nested witness program or the inline script.
func (s *Sh) RedeemScript() ([]byte, error) {
	switch s.inner {
	case ShWsh:
		return s.wsh.ScriptPubKey()
	case ShWpkh:
		return s.wpkh.ScriptPubKey()
	case ShSortedMulti:
		return s.sortedMulti.Script()
	case ShMs:
		return s.ms.Script()
	}
	return nil, s.badInner()
}

// Address returns the P2SH address.
func (s *Sh) Address(params *chaincfg.Params) (btcutil.Address, error) {
	redeemScript, err := s.RedeemScript()
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressScriptHash(redeemScript, params)
}

// ScriptPubKey returns `OP_HASH160 <hash160(redeemScript)> OP_EQUAL`.
func (s *Sh) ScriptPubKey() ([]byte, error) {
	redeemScript, err := s.RedeemScript()
	if err != nil {
		return nil, err
	}
	return scriptHashScript(redeemScript)
}

// UnsignedScriptSig returns the push of the witness program for nested
// outputs. Inline scripts have no scriptSig before they are satisfied.
func (s *Sh) UnsignedScriptSig() ([]byte, error) {
	switch s.inner {
	case ShWsh, ShWpkh:
		program, err := s.RedeemScript()
		if err != nil {
			return nil, err
		}
		return txscript.NewScriptBuilder().AddData(program).Script()
	case ShSortedMulti, ShMs:
		return nil, nil
	}
	return nil, s.badInner()
}

// WitnessScript returns the witness script of a nested P2WSH.
func (s *Sh) WitnessScript() ([]byte, error) {
	switch s.inner {
	case ShWsh:
		return s.wsh.WitnessScript()
	case ShWpkh, ShSortedMulti, ShMs:
		str := fmt.Sprintf("sh(%v) has no witness script", s.inner)
		return nil, descError(ErrNoWitnessScript, str)
	}
	return nil, s.badInner()
}

// ScriptCode returns the script signatures commit to: the witness script,
// the P2PKH script of a nested P2WPKH or the redeem script.
func (s *Sh) ScriptCode() ([]byte, error) {
	switch s.inner {
	case ShWsh:
		return s.wsh.ScriptCode()
	case ShWpkh:
		return s.wpkh.ScriptCode()
	case ShSortedMulti, ShMs:
		return s.RedeemScript()
	}
	return nil, s.badInner()
}

// Satisfy returns the witness and the scriptSig of a spend. Nested outputs
// are satisfied in the witness behind the unsigned scriptSig. Inline scripts
// have no witness: the satisfaction and the redeem script are pushed by the
// scriptSig.
func (s *Sh) Satisfy(satisfier *miniscript.Satisfier) (wire.TxWitness,
	[]byte, error) {

	var (
		witness wire.TxWitness
		err     error
	)
	switch s.inner {
	case ShWsh:
		witness, err = s.wsh.satisfyWitness(satisfier)
	case ShWpkh:
		witness, _, err = s.wpkh.Satisfy(satisfier)
	case ShSortedMulti:
		witness, err = s.sortedMulti.Satisfy(satisfier)
	case ShMs:
		witness, err = s.ms.Satisfy(satisfier)
	default:
		return nil, nil, s.badInner()
	}
	if err != nil {
		return nil, nil, err
	}

	if s.inner == ShWsh || s.inner == ShWpkh {
		scriptSig, err := s.UnsignedScriptSig()
		if err != nil {
			return nil, nil, err
		}
		return witness, scriptSig, nil
	}

	redeemScript, err := s.RedeemScript()
	if err != nil {
		return nil, nil, err
	}
	scriptSig, err := witnessToScriptSig(append(witness, redeemScript))
	if err != nil {
		return nil, nil, err
	}
	log.Tracef("Satisfied %v with a %d byte scriptSig", s, len(scriptSig))
	return nil, scriptSig, nil
}

// MaxSatisfactionWeight returns the worst case weight of the scriptSig and
// witness of a spend.
func (s *Sh) MaxSatisfactionWeight() (int, error) {
	// The push of a nested witness program in the scriptSig.
	const (
		wshProgramPush  = 1 + 34
		wpkhProgramPush = 1 + 22
	)

	var (
		scriptSize int
		size       int
		ok         bool
	)
	switch s.inner {
	case ShWsh:
		w, err := s.wsh.MaxSatisfactionWeight()
		if err != nil {
			return 0, err
		}
		return witnessScaleFactor*wshProgramPush + w, nil

	case ShWpkh:
		w, err := s.wpkh.MaxSatisfactionWeight()
		if err != nil {
			return 0, err
		}
		return witnessScaleFactor*wpkhProgramPush + w, nil

	case ShSortedMulti:
		scriptSize = s.sortedMulti.ScriptSize()
		size, ok = s.sortedMulti.MaxSatisfactionSize()

	case ShMs:
		scriptSize = s.ms.ScriptSize()
		size, ok = s.ms.MaxSatisfactionSize()

	default:
		return 0, s.badInner()
	}
	if !ok {
		str := fmt.Sprintf("%v cannot be satisfied", s)
		return 0, descError(ErrMalformedDescriptor, str)
	}
	n := pushOpcodeSize(scriptSize) + scriptSize + size
	return witnessScaleFactor * (varIntSize(n) + n), nil
}

// Lift returns the policy of the wrapped output.
func (s *Sh) Lift() (*policy.Policy, error) {
	switch s.inner {
	case ShWsh:
		return s.wsh.Lift()
	case ShWpkh:
		return s.wpkh.Lift()
	case ShSortedMulti:
		return s.sortedMulti.Lift(), nil
	case ShMs:
		return s.ms.Lift()
	}
	return nil, s.badInner()
}

// TranslateKeys returns a copy with every key replaced by fpk and every key
// hash by fpkh. The keys of the copy are unresolved. No copy is returned if
// any translation fails.
func (s *Sh) TranslateKeys(fpk, fpkh miniscript.KeyTranslator) (*Sh, error) {
	c := &Sh{inner: s.inner}
	var err error
	switch s.inner {
	case ShWsh:
		c.wsh, err = s.wsh.TranslateKeys(fpk, fpkh)
	case ShWpkh:
		c.wpkh, err = s.wpkh.TranslateKeys(fpk)
	case ShSortedMulti:
		c.sortedMulti, err = s.sortedMulti.TranslateKeys(fpk)
	case ShMs:
		c.ms, err = s.ms.TranslateKeys(fpk, fpkh)
	default:
		return nil, s.badInner()
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// String returns sh(...).
func (s *Sh) String() string {
	var inner fmt.Stringer
	switch s.inner {
	case ShWsh:
		inner = s.wsh
	case ShWpkh:
		inner = s.wpkh
	case ShSortedMulti:
		inner = s.sortedMulti
	case ShMs:
		inner = s.ms
	default:
		return fmt.Sprintf("sh(<%v>)", s.inner)
	}
	return fmt.Sprintf("sh(%v)", inner)
}
