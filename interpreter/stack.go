package interpreter

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/miniscript/miniscript"
	"golang.org/x/crypto/ripemd160"
)

// hashPreimageLen is the only preimage size hash locks accept.
const hashPreimageLen = 32

// VerifyFunc reports whether sig is a valid signature by pubKey over the
// spending transaction.
type VerifyFunc func(pubKey *btcec.PublicKey, sig Signature) bool

// Stack is the interpreter stack. Index 0 is the bottom.
//
// Push elements alias the witness and scriptSig the stack was loaded from,
// which must not change while the stack is in use.
type Stack struct {
	elems []Element
}

// NewStack returns a stack holding elems, bottom first. The slice is used
// directly.
func NewStack(elems []Element) *Stack {
	return &Stack{elems: elems}
}

// Len returns the number of elements on the stack.
func (s *Stack) Len() int {
	return len(s.elems)
}

// Push adds an element to the top of the stack.
//
// Stack transformation: [... x1 x2] -> [... x1 x2 e]
func (s *Stack) Push(e Element) {
	s.elems = append(s.elems, e)
}

// Pop removes the top element. ok is false if the stack is empty.
//
// Stack transformation: [... x1 x2] -> [... x1]
func (s *Stack) Pop() (e Element, ok bool) {
	n := len(s.elems)
	if n == 0 {
		return Element{}, false
	}
	e = s.elems[n-1]
	s.elems = s.elems[:n-1]
	return e, true
}

// Last returns the top element without removing it.
func (s *Stack) Last() (Element, bool) {
	if len(s.elems) == 0 {
		return Element{}, false
	}
	return s.elems[len(s.elems)-1], true
}

// At returns the element at index i, counted from the bottom.
func (s *Stack) At(i int) (Element, error) {
	if i < 0 || i >= len(s.elems) {
		str := fmt.Sprintf("stack index %d out of range for %d "+
			"elements", i, len(s.elems))
		return Element{}, evalError(ErrUnexpectedStackEnd, str)
	}
	return s.elems[i], nil
}

// SplitOff removes and returns the elements from index k up, preserving
// their order.
//
// Stack transformation: SplitOff(1): [x0 x1 x2] -> [x0], returns [x1 x2]
func (s *Stack) SplitOff(k int) []Element {
	if k >= len(s.elems) {
		return nil
	}
	if k < 0 {
		k = 0
	}
	top := make([]Element, len(s.elems)-k)
	copy(top, s.elems[k:])
	s.elems = s.elems[:k]
	return top
}

// Elements returns a copy of the stack, bottom first.
func (s *Stack) Elements() []Element {
	return append([]Element(nil), s.elems...)
}

// popElem pops the top element, failing on an empty stack.
func (s *Stack) popElem() (Element, error) {
	e, ok := s.Pop()
	if !ok {
		return Element{}, evalError(ErrUnexpectedStackEnd,
			"stack is empty")
	}
	return e, nil
}

// verifySig splits a serialized signature into its DER part and sighash
// byte, and checks it with verify.
func verifySig(verify VerifyFunc, pubKey *btcec.PublicKey,
	sigser []byte) (Signature, error) {

	if len(sigser) == 0 {
		return Signature{}, evalError(ErrInvalidSignature,
			"empty signature")
	}
	hashType := txscript.SigHashType(sigser[len(sigser)-1])
	sig, err := ecdsa.ParseDERSignature(sigser[:len(sigser)-1])
	if err != nil {
		return Signature{}, Error{
			ErrorCode:   ErrInvalidSignature,
			Description: fmt.Sprintf("signature %x", sigser),
			Err:         err,
		}
	}
	s := Signature{Sig: sig, HashType: hashType}
	if !verify(pubKey, s) {
		str := fmt.Sprintf("signature %x does not verify for key %x",
			sigser, pubKey.SerializeCompressed())
		return Signature{}, evalError(ErrInvalidSignature, str)
	}
	return s, nil
}

// checkSig pops the signature of a key check. A Dissatisfied element is
// pushed back and reported as (nil, nil).
func (s *Stack) checkSig(verify VerifyFunc,
	pubKey *btcec.PublicKey) (*Signature, error) {

	e, err := s.popElem()
	if err != nil {
		return nil, err
	}
	switch e.Kind {
	case ElemDissatisfied:
		s.Push(Dissatisfied)
		return nil, nil

	case ElemSatisfied:
		str := fmt.Sprintf("Satisfied element in the signature "+
			"position of key %x", pubKey.SerializeCompressed())
		return nil, evalError(ErrPkEvaluation, str)
	}

	sig, err := verifySig(verify, pubKey, e.Data)
	if err != nil {
		return nil, err
	}
	s.Push(Satisfied)
	return &sig, nil
}

// EvaluatePk evaluates `<key> CHECKSIG` with the signature on top of the
// stack. An empty signature dissatisfies. Any other signature must verify.
func (s *Stack) EvaluatePk(verify VerifyFunc,
	pubKey *btcec.PublicKey) (*SatisfiedConstraint, error) {

	sig, err := s.checkSig(verify, pubKey)
	if sig == nil || err != nil {
		return nil, err
	}
	return &SatisfiedConstraint{
		Kind:   PublicKey,
		PubKey: pubKey,
		Sig:    *sig,
	}, nil
}

// EvaluatePkh evaluates `DUP HASH160 <hash> EQUALVERIFY CHECKSIG` with the
// key on top of the stack and the signature below it. A key of the wrong
// hash is always a hard error.
func (s *Stack) EvaluatePkh(verify VerifyFunc,
	keyHash []byte) (*SatisfiedConstraint, error) {

	e, err := s.popElem()
	if err != nil {
		return nil, err
	}
	keyBytes, err := e.Push()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(btcutil.Hash160(keyBytes), keyHash) {
		str := fmt.Sprintf("key %x does not hash to %x", keyBytes,
			keyHash)
		return nil, evalError(ErrPkHashVerifyFail, str)
	}
	pubKey, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, Error{
			ErrorCode:   ErrPubKeyParse,
			Description: fmt.Sprintf("key %x", keyBytes),
			Err:         err,
		}
	}

	sig, err := s.checkSig(verify, pubKey)
	if sig == nil || err != nil {
		return nil, err
	}
	return &SatisfiedConstraint{
		Kind:    PublicKeyHash,
		PubKey:  pubKey,
		KeyHash: keyHash,
		Sig:     *sig,
	}, nil
}

// EvaluateAfter evaluates `<n> CHECKLOCKTIMEVERIFY` against the lock time of
// the spend. Nothing is popped.
func (s *Stack) EvaluateAfter(n, lockTime uint32) (*SatisfiedConstraint,
	error) {

	if lockTime < n {
		str := fmt.Sprintf("absolute lock time %d not met by %d", n,
			lockTime)
		return nil, evalError(ErrAbsoluteLockTimeNotMet, str)
	}
	s.Push(Satisfied)
	return &SatisfiedConstraint{Kind: AbsoluteTimeLock, Time: n}, nil
}

// EvaluateOlder evaluates `<n> CHECKSEQUENCEVERIFY` against the age of the
// spent output. Nothing is popped.
func (s *Stack) EvaluateOlder(n, age uint32) (*SatisfiedConstraint, error) {
	if age < n {
		str := fmt.Sprintf("relative lock time %d not met by %d", n,
			age)
		return nil, evalError(ErrRelativeLockTimeNotMet, str)
	}
	s.Push(Satisfied)
	return &SatisfiedConstraint{Kind: RelativeTimeLock, Time: n}, nil
}

// hashLockDigest hashes a preimage with the hash lock's function.
func hashLockDigest(typ HashLockType, preimage []byte) []byte {
	switch typ {
	case Sha256:
		return chainhash.HashB(preimage)
	case Hash256:
		return chainhash.DoubleHashB(preimage)
	case Ripemd160:
		h := ripemd160.New()
		h.Write(preimage)
		return h.Sum(nil)
	default:
		return btcutil.Hash160(preimage)
	}
}

// EvaluateHashLock evaluates `SIZE <32> EQUALVERIFY <HASH> <h> EQUAL` with
// the preimage on top of the stack. A preimage that is not 32 bytes is a hard
// error. A wrong preimage dissatisfies.
func (s *Stack) EvaluateHashLock(typ HashLockType,
	hash []byte) (*SatisfiedConstraint, error) {

	e, err := s.popElem()
	if err != nil {
		return nil, err
	}
	preimage, err := e.Push()
	if err != nil {
		return nil, err
	}
	if len(preimage) != hashPreimageLen {
		str := fmt.Sprintf("%v preimage has %d bytes, expected %d",
			typ, len(preimage), hashPreimageLen)
		return nil, evalError(ErrHashPreimageLength, str)
	}
	if !bytes.Equal(hashLockDigest(typ, preimage), hash) {
		s.Push(Dissatisfied)
		return nil, nil
	}
	s.Push(Satisfied)
	return &SatisfiedConstraint{
		Kind:     HashLock,
		HashType: typ,
		Hash:     hash,
		Preimage: preimage,
	}, nil
}

// covenantSlot returns the push at a covenant slot, which must have size
// bytes.
func (s *Stack) covenantSlot(slot, pos, size int) ([]byte, error) {
	e, err := s.At(slot)
	if err != nil {
		return nil, err
	}
	data, err := e.Push()
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, covSizeError(pos, size, len(data))
	}
	return data, nil
}

// EvaluateVerEq evaluates ver_eq(n). The transaction version is read, not
// popped, from its covenant slot. A different version dissatisfies.
func (s *Stack) EvaluateVerEq(n uint32,
	layout CovenantLayout) (*SatisfiedConstraint, error) {

	data, err := s.covenantSlot(layout.VersionSlot, layout.VersionPos, 4)
	if err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(data) != n {
		s.Push(Dissatisfied)
		return nil, nil
	}
	s.Push(Satisfied)
	return &SatisfiedConstraint{Kind: VerEq, Version: n}, nil
}

// EvaluateOutputsPref evaluates outputs_pref(prefix). The suffix elements on
// top of the stack are always popped, then prefix||suffix is checked against
// the hashOutputs covenant slot. A mismatch dissatisfies.
func (s *Stack) EvaluateOutputsPref(prefix []byte,
	layout CovenantLayout) (*SatisfiedConstraint, error) {

	hashOutputs, err := s.covenantSlot(
		layout.OutputsSlot, layout.OutputsPos, chainhash.HashSize,
	)
	if err != nil {
		return nil, err
	}

	n := miniscript.MaxOutputsPrefElems
	if s.Len() < n {
		str := fmt.Sprintf("outputs_pref needs %d suffix elements, "+
			"stack has %d", n, s.Len())
		return nil, evalError(ErrUnexpectedStackEnd, str)
	}
	outputs := append([]byte(nil), prefix...)
	for _, e := range s.SplitOff(s.Len() - n) {
		outputs = append(outputs, e.Bytes()...)
	}

	if !bytes.Equal(chainhash.DoubleHashB(outputs), hashOutputs) {
		s.Push(Dissatisfied)
		return nil, nil
	}
	s.Push(Satisfied)
	return &SatisfiedConstraint{Kind: OutputsPref, Prefix: prefix}, nil
}

// EvaluateMulti tries the top element as the signature for one key of a
// multisig. On success the element stays popped. A signature that does not
// verify is pushed back and reported as (nil, nil), so it can be tried
// against the next key.
func (s *Stack) EvaluateMulti(verify VerifyFunc,
	pubKey *btcec.PublicKey) (*SatisfiedConstraint, error) {

	e, err := s.popElem()
	if err != nil {
		return nil, err
	}
	if e.Kind != ElemPush {
		str := fmt.Sprintf("%v in a multisig signature position", e)
		return nil, evalError(ErrUnexpectedStackBoolean, str)
	}
	sig, err := verifySig(verify, pubKey, e.Data)
	if err != nil {
		s.Push(e)
		return nil, nil
	}
	return &SatisfiedConstraint{
		Kind:   PublicKey,
		PubKey: pubKey,
		Sig:    sig,
	}, nil
}
