package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript/miniscript"
	"github.com/btcsuite/miniscript/policy"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Wpkh is a P2WPKH output. It is spent like the pkh miniscript of its key,
// which is also the script its signatures commit to.
type Wpkh struct {
	key string
	ms  *miniscript.AST
}

// NewWpkh returns the P2WPKH descriptor of a key identifier.
func NewWpkh(key string) (*Wpkh, error) {
	ms, err := miniscript.ParseWithContext(
		fmt.Sprintf("pkh(%s)", key), miniscript.SegwitV0,
	)
	if err != nil {
		return nil, err
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return &Wpkh{key: key, ms: ms}, nil
}

// Key returns the key identifier.
func (w *Wpkh) Key() string {
	return w.key
}

// ApplyVars resolves the key, which must be a compressed public key.
func (w *Wpkh) ApplyVars(
	lookupVar func(identifier string) ([]byte, error)) error {

	if err := w.ms.ApplyVars(lookupVar); err != nil {
		return err
	}
	if _, err := w.pubKey(); err != nil {
		return err
	}
	return nil
}

// pubKey returns the resolved key.
func (w *Wpkh) pubKey() ([]byte, error) {
	pkh := w.ms.Subs()[0]
	pubKeys := pkh.PubKeys()
	if len(pubKeys) == 0 && pkh.KeyHash() != nil {
		str := fmt.Sprintf("wpkh key %s is only a key hash", w.key)
		return nil, descError(ErrBadKey, str)
	}
	if len(pubKeys) == 0 || len(pubKeys[0]) == 0 {
		str := fmt.Sprintf("key %s of wpkh is not resolved to a "+
			"public key", w.key)
		return nil, descError(ErrUnresolvedKey, str)
	}
	if len(pubKeys[0]) != secp256k1.PubKeyBytesLenCompressed {
		str := fmt.Sprintf("wpkh key %s is not compressed", w.key)
		return nil, descError(ErrBadKey, str)
	}
	return pubKeys[0], nil
}

func (w *Wpkh) keyHash() ([]byte, error) {
	pubKey, err := w.pubKey()
	if err != nil {
		return nil, err
	}
	return btcutil.Hash160(pubKey), nil
}

// SanityCheck always succeeds.
func (w *Wpkh) SanityCheck() error {
	return nil
}

// Address returns the P2WPKH address.
func (w *Wpkh) Address(params *chaincfg.Params) (btcutil.Address, error) {
	keyHash, err := w.keyHash()
	if err != nil {
		return nil, err
	}
	return btcutil.NewAddressWitnessPubKeyHash(keyHash, params)
}

// ScriptPubKey returns `OP_0 <hash160(key)>`.
func (w *Wpkh) ScriptPubKey() ([]byte, error) {
	keyHash, err := w.keyHash()
	if err != nil {
		return nil, err
	}
	return witnessProgram(keyHash)
}

// UnsignedScriptSig returns the empty scriptSig.
func (w *Wpkh) UnsignedScriptSig() ([]byte, error) {
	return nil, nil
}

// WitnessScript fails, a P2WPKH output has no witness script.
func (w *Wpkh) WitnessScript() ([]byte, error) {
	return nil, descError(ErrNoWitnessScript,
		"wpkh has no witness script")
}

// ScriptCode returns the P2PKH script of the key.
func (w *Wpkh) ScriptCode() ([]byte, error) {
	return w.ms.Script()
}

// Satisfy returns the witness `<sig> <key>` and an empty scriptSig.
func (w *Wpkh) Satisfy(satisfier *miniscript.Satisfier) (wire.TxWitness,
	[]byte, error) {

	if _, err := w.pubKey(); err != nil {
		return nil, nil, err
	}
	witness, err := w.ms.Satisfy(satisfier)
	if err != nil {
		return nil, nil, err
	}
	return witness, nil, nil
}

// MaxSatisfactionWeight returns 112: the empty scriptSig length, the witness
// element count, a signature and the key.
func (w *Wpkh) MaxSatisfactionWeight() (int, error) {
	size, ok := w.ms.MaxSatisfactionSize()
	if !ok {
		return 0, descError(ErrMalformedDescriptor,
			"wpkh cannot be satisfied")
	}
	return witnessScaleFactor + varIntSize(2) + size, nil
}

// Lift returns a key hash policy.
func (w *Wpkh) Lift() (*policy.Policy, error) {
	return policy.NewKeyHash(w.key), nil
}

// TranslateKeys returns a copy whose key identifier is replaced by fpk.
func (w *Wpkh) TranslateKeys(fpk miniscript.KeyTranslator) (*Wpkh, error) {
	key, err := fpk(w.key)
	if err != nil {
		return nil, err
	}
	return NewWpkh(key)
}

// String returns wpkh(key).
func (w *Wpkh) String() string {
	return fmt.Sprintf("wpkh(%s)", w.key)
}
