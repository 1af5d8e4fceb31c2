package interpreter

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript/miniscript"
	"github.com/decred/dcrd/lru"
)

// badScriptCacheSize is the number of scripts that failed to decode which
// are remembered.
const badScriptCacheSize = 1000

// badScripts holds the hashes of scripts, with their context, that are not
// miniscripts.
var badScripts = lru.NewCache(badScriptCacheSize)

// SpendKind is the kind of output an input spends.
type SpendKind uint8

// These constants are the spend kinds the interpreter classifies.
const (
	SpendBare SpendKind = iota
	SpendP2PKH
	SpendP2SH
	SpendP2SHWPKH
	SpendP2SHWSH
	SpendP2WPKH
	SpendP2WSH
)

var spendKindStrings = map[SpendKind]string{
	SpendBare:     "bare",
	SpendP2PKH:    "p2pkh",
	SpendP2SH:     "p2sh",
	SpendP2SHWPKH: "p2sh-p2wpkh",
	SpendP2SHWSH:  "p2sh-p2wsh",
	SpendP2WPKH:   "p2wpkh",
	SpendP2WSH:    "p2wsh",
}

// String returns the SpendKind as a human-readable name.
func (k SpendKind) String() string {
	if s := spendKindStrings[k]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown SpendKind (%d)", uint8(k))
}

// Config is the ambient context of the spend.
type Config struct {
	// LockTime is the lock time of the spending transaction, compared
	// with after fragments.
	LockTime uint32

	// Age is the relative lock time of the spending input, compared with
	// older fragments.
	Age uint32

	// Layout locates the covenant fields. The zero value selects
	// DefaultCovenantLayout.
	Layout CovenantLayout
}

// Interpreter checks a spend of a miniscript output.
type Interpreter struct {
	kind     SpendKind
	script   *miniscript.AST
	stack    []Element
	covenant bool
	cfg      Config
}

// Kind returns the kind of output being spent.
func (i *Interpreter) Kind() SpendKind {
	return i.kind
}

// Miniscript returns the decoded script being satisfied.
func (i *Interpreter) Miniscript() *miniscript.AST {
	return i.script
}

// Stack returns a copy of the initial stack, bottom first.
func (i *Interpreter) Stack() []Element {
	return append([]Element(nil), i.stack...)
}

// scriptSigElements reads a push-only scriptSig. The raw data of the last
// push is returned too, as it is the redeem script of a P2SH spend.
func scriptSigElements(scriptSig []byte) ([]Element, []byte, error) {
	var (
		elems []Element
		last  []byte
	)
	tokenizer := txscript.MakeScriptTokenizer(0, scriptSig)
	for tokenizer.Next() {
		e, err := elementFromOpcode(tokenizer.Opcode(), tokenizer.Data())
		if err != nil {
			return nil, nil, err
		}
		elems = append(elems, e)
		last = tokenizer.Data()
	}
	if err := tokenizer.Err(); err != nil {
		return nil, nil, Error{
			ErrorCode:   ErrExpectedPush,
			Description: "malformed scriptSig",
			Err:         err,
		}
	}
	return elems, last, nil
}

func witnessElements(witness wire.TxWitness) []Element {
	elems := make([]Element, len(witness))
	for i, item := range witness {
		elems[i] = NewElement(item)
	}
	return elems
}

// decode decodes a script as a miniscript, remembering scripts that fail.
func decode(script []byte, ctx miniscript.ScriptContext) (*miniscript.AST,
	error) {

	key := chainhash.HashH(append([]byte{byte(ctx)}, script...))
	if badScripts.Contains(key) {
		str := fmt.Sprintf("%v script %x (hash %v) previously failed "+
			"to decode", ctx, script, key)
		return nil, evalError(ErrMiniscript, str)
	}
	ms, err := miniscript.Decode(script, ctx)
	if err != nil {
		log.Debugf("Caching %v script %v as not a miniscript: %v", ctx,
			key, err)
		badScripts.Add(key)
		return nil, Error{
			ErrorCode:   ErrMiniscript,
			Description: fmt.Sprintf("decode %v script %x", ctx, script),
			Err:         err,
		}
	}
	return ms, nil
}

// pkhScript returns the P2PKH script paying to keyHash, which is also the
// script a P2WPKH program stands for.
func pkhScript(keyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(keyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// wpkh loads a P2WPKH spend of program from its witness.
func (i *Interpreter) wpkh(program []byte, witness wire.TxWitness) error {
	if len(witness) != 2 {
		str := fmt.Sprintf("p2wpkh witness has %d elements, expected 2",
			len(witness))
		return evalError(ErrUnexpectedStackEnd, str)
	}
	if !bytes.Equal(btcutil.Hash160(witness[1]), program) {
		str := fmt.Sprintf("key %x does not hash to program %x",
			witness[1], program)
		return evalError(ErrIncorrectWPubKeyHash, str)
	}
	script, err := pkhScript(program)
	if err != nil {
		return err
	}
	if i.script, err = decode(script, miniscript.SegwitV0); err != nil {
		return err
	}
	i.stack = witnessElements(witness)
	return nil
}

// wsh loads a P2WSH spend of program from its witness.
func (i *Interpreter) wsh(program []byte, witness wire.TxWitness) error {
	if len(witness) == 0 {
		return evalError(ErrUnexpectedStackEnd,
			"p2wsh witness has no witness script")
	}
	witnessScript := witness[len(witness)-1]
	if !bytes.Equal(chainhash.HashB(witnessScript), program) {
		str := fmt.Sprintf("witness script %x does not hash to "+
			"program %x", witnessScript, program)
		return evalError(ErrIncorrectWScriptHash, str)
	}
	var err error
	i.script, err = decode(witnessScript, miniscript.SegwitV0)
	if err != nil {
		return err
	}
	i.stack = witnessElements(witness[:len(witness)-1])
	return nil
}

// New classifies the spend of spk by scriptSig and witness, checks the
// committed script and key hashes, decodes the script being satisfied and
// loads the initial stack.
//
// The interpreter keeps references to scriptSig and witness, which must not
// change while it is in use.
func New(spk, scriptSig []byte, witness wire.TxWitness,
	cfg Config) (*Interpreter, error) {

	if cfg.Layout == (CovenantLayout{}) {
		cfg.Layout = DefaultCovenantLayout
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}

	sigElems, redeemScript, err := scriptSigElements(scriptSig)
	if err != nil {
		return nil, err
	}

	i := &Interpreter{cfg: cfg}
	switch {
	case txscript.IsPayToWitnessPubKeyHash(spk):
		i.kind = SpendP2WPKH
		if len(scriptSig) != 0 {
			return nil, evalError(ErrNonEmptyScriptSig,
				"p2wpkh spend has a scriptSig")
		}
		err = i.wpkh(spk[2:], witness)

	case txscript.IsPayToWitnessScriptHash(spk):
		i.kind = SpendP2WSH
		if len(scriptSig) != 0 {
			return nil, evalError(ErrNonEmptyScriptSig,
				"p2wsh spend has a scriptSig")
		}
		err = i.wsh(spk[2:], witness)

	case txscript.IsWitnessProgram(spk):
		str := fmt.Sprintf("unsupported witness program %x", spk)
		return nil, evalError(ErrUnsupportedSpend, str)

	case txscript.IsPayToScriptHash(spk):
		if len(sigElems) == 0 {
			return nil, evalError(ErrUnexpectedStackEnd,
				"p2sh spend has an empty scriptSig")
		}
		scriptHash := spk[2:22]
		if !bytes.Equal(btcutil.Hash160(redeemScript), scriptHash) {
			str := fmt.Sprintf("redeem script %x does not hash to "+
				"%x", redeemScript, scriptHash)
			return nil, evalError(ErrIncorrectScriptHash, str)
		}

		switch {
		case txscript.IsPayToWitnessPubKeyHash(redeemScript):
			i.kind = SpendP2SHWPKH
			if len(sigElems) != 1 {
				return nil, evalError(ErrNonEmptyScriptSig,
					"nested p2wpkh scriptSig has more "+
						"than the program push")
			}
			err = i.wpkh(redeemScript[2:], witness)

		case txscript.IsPayToWitnessScriptHash(redeemScript):
			i.kind = SpendP2SHWSH
			if len(sigElems) != 1 {
				return nil, evalError(ErrNonEmptyScriptSig,
					"nested p2wsh scriptSig has more "+
						"than the program push")
			}
			err = i.wsh(redeemScript[2:], witness)

		case txscript.IsWitnessProgram(redeemScript):
			str := fmt.Sprintf("unsupported nested witness "+
				"program %x", redeemScript)
			return nil, evalError(ErrUnsupportedSpend, str)

		default:
			i.kind = SpendP2SH
			if len(witness) != 0 {
				return nil, evalError(ErrNonEmptyWitness,
					"p2sh spend has a witness")
			}
			i.script, err = decode(redeemScript, miniscript.Legacy)
			i.stack = sigElems[:len(sigElems)-1]
		}

	default:
		i.kind = SpendBare
		if txscript.IsPayToPubKeyHash(spk) {
			i.kind = SpendP2PKH
		}
		if len(witness) != 0 {
			return nil, evalError(ErrNonEmptyWitness,
				"legacy spend has a witness")
		}
		i.script, err = decode(spk, miniscript.Legacy)
		i.stack = sigElems
	}
	if err != nil {
		return nil, err
	}

	i.covenant = usesCovenant(i.script)
	log.Debugf("Interpreting %v spend of %v with %d stack elements",
		i.kind, i.script, len(i.stack))
	return i, nil
}

// usesCovenant reports whether the script reads the covenant fields.
func usesCovenant(node *miniscript.AST) bool {
	switch node.Fragment() {
	case miniscript.FragVerEq, miniscript.FragOutputsPref:
		return true
	}
	for _, sub := range node.Subs() {
		if usesCovenant(sub) {
			return true
		}
	}
	return false
}

// Constraints runs the whole evaluation and returns every satisfied
// constraint, in script order.
func (i *Interpreter) Constraints(verify VerifyFunc) ([]*SatisfiedConstraint,
	error) {

	var constraints []*SatisfiedConstraint
	it := i.Iter(verify)
	for it.Next() {
		constraints = append(constraints, it.Constraint())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return constraints, nil
}
