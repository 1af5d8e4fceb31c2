package interpreter

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ripemd160"
)

// testMsgHash is the digest every test signature signs.
var testMsgHash = chainhash.HashB([]byte("miniscript interpreter test"))

// testPrivKey derives a deterministic private key from a test identifier.
func testPrivKey(identifier string) *btcec.PrivateKey {
	privKey, _ := btcec.PrivKeyFromBytes(
		chainhash.HashB([]byte(identifier)),
	)
	return privKey
}

func testPubKey(identifier string) []byte {
	return testPrivKey(identifier).PubKey().SerializeCompressed()
}

// testSig returns a serialized SIGHASH_ALL signature over testMsgHash.
func testSig(identifier string) []byte {
	sig := ecdsa.Sign(testPrivKey(identifier), testMsgHash)
	return append(sig.Serialize(), byte(txscript.SigHashAll))
}

// testVerify checks signatures over testMsgHash.
func testVerify(pubKey *btcec.PublicKey, sig Signature) bool {
	return sig.HashType == txscript.SigHashAll &&
		sig.Sig.Verify(testMsgHash, pubKey)
}

func pushes(items ...[]byte) []Element {
	elems := make([]Element, len(items))
	for i, item := range items {
		elems[i] = NewElement(item)
	}
	return elems
}

// TestNewElement tests that only the canonical booleans are booleans.
func TestNewElement(t *testing.T) {
	t.Parallel()

	require.Equal(t, Dissatisfied, NewElement(nil))
	require.Equal(t, Dissatisfied, NewElement([]byte{}))
	require.Equal(t, Satisfied, NewElement([]byte{1}))
	require.Equal(t, ElemPush, NewElement([]byte{0}).Kind)
	require.Equal(t, ElemPush, NewElement([]byte{1, 0}).Kind)
	require.Equal(t, ElemPush, NewElement([]byte{0x81}).Kind)

	require.Equal(t, []byte{1}, Satisfied.Bytes())
	require.Equal(t, []byte{}, Dissatisfied.Bytes())

	_, err := Satisfied.Push()
	require.ErrorIs(t, err, ErrExpectedPush)
	data, err := NewElement([]byte{0}).Push()
	require.NoError(t, err)
	require.Equal(t, []byte{0}, data)

	_, err = elementFromOpcode(txscript.OP_2, nil)
	require.ErrorIs(t, err, ErrExpectedPush)
}

// TestStack tests the primitive stack operations.
func TestStack(t *testing.T) {
	t.Parallel()

	s := NewStack(pushes([]byte{1}, []byte{}, []byte{2}, []byte{3}))
	require.Equal(t, 4, s.Len())

	e, err := s.At(0)
	require.NoError(t, err)
	require.Equal(t, Satisfied, e)
	_, err = s.At(4)
	require.ErrorIs(t, err, ErrUnexpectedStackEnd)
	_, err = s.At(-1)
	require.ErrorIs(t, err, ErrUnexpectedStackEnd)

	top := s.SplitOff(2)
	require.Equal(t, pushes([]byte{2}, []byte{3}), top)
	require.Equal(t, 2, s.Len())

	last, ok := s.Last()
	require.True(t, ok)
	require.Equal(t, Dissatisfied, last)

	s.Push(NewElement([]byte{9}))
	e, ok = s.Pop()
	require.True(t, ok)
	require.True(t, e.Equal(NewElement([]byte{9})))

	require.Nil(t, s.SplitOff(5))
	s.SplitOff(0)
	_, ok = s.Pop()
	require.False(t, ok)
}

// TestEvaluatePk tests the soft and hard outcomes of a key check.
func TestEvaluatePk(t *testing.T) {
	t.Parallel()

	pubKey := testPrivKey("A").PubKey()

	s := NewStack(pushes(testSig("A")))
	c, err := s.EvaluatePk(testVerify, pubKey)
	require.NoError(t, err)
	require.Equal(t, PublicKey, c.Kind)
	require.True(t, c.PubKey.IsEqual(pubKey))
	require.Equal(t, []Element{Satisfied}, s.Elements())

	// An empty signature declines.
	s = NewStack(pushes(nil))
	c, err = s.EvaluatePk(testVerify, pubKey)
	require.NoError(t, err)
	require.Nil(t, c)
	require.Equal(t, []Element{Dissatisfied}, s.Elements())

	s = NewStack([]Element{Satisfied})
	_, err = s.EvaluatePk(testVerify, pubKey)
	require.ErrorIs(t, err, ErrPkEvaluation)

	// A signature by another key is a lie.
	s = NewStack(pushes(testSig("B")))
	_, err = s.EvaluatePk(testVerify, pubKey)
	require.ErrorIs(t, err, ErrInvalidSignature)

	s = NewStack(pushes([]byte{0x30, 0x01}))
	_, err = s.EvaluatePk(testVerify, pubKey)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = NewStack(nil).EvaluatePk(testVerify, pubKey)
	require.ErrorIs(t, err, ErrUnexpectedStackEnd)
}

// TestEvaluatePkh tests key hash checks.
func TestEvaluatePkh(t *testing.T) {
	t.Parallel()

	keyHash := btcutil.Hash160(testPubKey("A"))

	s := NewStack(pushes(testSig("A"), testPubKey("A")))
	c, err := s.EvaluatePkh(testVerify, keyHash)
	require.NoError(t, err)
	require.Equal(t, PublicKeyHash, c.Kind)
	require.Equal(t, keyHash, c.KeyHash)

	s = NewStack(pushes(nil, testPubKey("A")))
	c, err = s.EvaluatePkh(testVerify, keyHash)
	require.NoError(t, err)
	require.Nil(t, c)
	require.Equal(t, []Element{Dissatisfied}, s.Elements())

	// The wrong key is never a soft failure.
	s = NewStack(pushes(nil, testPubKey("B")))
	_, err = s.EvaluatePkh(testVerify, keyHash)
	require.ErrorIs(t, err, ErrPkHashVerifyFail)

	bogus := bytes.Repeat([]byte{0x05}, 33)
	s = NewStack(pushes(nil, bogus))
	_, err = s.EvaluatePkh(testVerify, btcutil.Hash160(bogus))
	require.ErrorIs(t, err, ErrPubKeyParse)
}

// TestEvaluateTimelocks tests the lock time boundaries.
func TestEvaluateTimelocks(t *testing.T) {
	t.Parallel()

	s := NewStack(nil)
	_, err := s.EvaluateAfter(500, 499)
	require.ErrorIs(t, err, ErrAbsoluteLockTimeNotMet)
	require.Equal(t, 0, s.Len())

	c, err := s.EvaluateAfter(500, 500)
	require.NoError(t, err)
	require.Equal(t, &SatisfiedConstraint{
		Kind: AbsoluteTimeLock, Time: 500,
	}, c)
	require.Equal(t, []Element{Satisfied}, s.Elements())

	_, err = NewStack(nil).EvaluateOlder(144, 143)
	require.ErrorIs(t, err, ErrRelativeLockTimeNotMet)
	c, err = NewStack(nil).EvaluateOlder(144, 200)
	require.NoError(t, err)
	require.Equal(t, RelativeTimeLock, c.Kind)
}

// TestEvaluateHashLock tests the preimage size boundary for every hash
// function.
func TestEvaluateHashLock(t *testing.T) {
	t.Parallel()

	preimage := bytes.Repeat([]byte{0x42}, 32)
	ripemd := ripemd160.New()
	ripemd.Write(preimage)

	hashes := map[HashLockType][]byte{
		Sha256:    chainhash.HashB(preimage),
		Hash256:   chainhash.DoubleHashB(preimage),
		Ripemd160: ripemd.Sum(nil),
		Hash160:   btcutil.Hash160(preimage),
	}

	for typ, hash := range hashes {
		for _, size := range []int{31, 33, 0x01} {
			s := NewStack(pushes(bytes.Repeat([]byte{0x42}, size)))
			_, err := s.EvaluateHashLock(typ, hash)
			require.ErrorIs(t, err, ErrHashPreimageLength,
				"%v size %d", typ, size)
		}

		s := NewStack(pushes(preimage))
		c, err := s.EvaluateHashLock(typ, hash)
		require.NoError(t, err, typ)
		require.Equal(t, HashLock, c.Kind)
		require.Equal(t, typ, c.HashType)
		require.Equal(t, preimage, c.Preimage)
		require.Equal(t, []Element{Satisfied}, s.Elements())

		s = NewStack(pushes(make([]byte, 32)))
		c, err = s.EvaluateHashLock(typ, hash)
		require.NoError(t, err, typ)
		require.Nil(t, c)
		require.Equal(t, []Element{Dissatisfied}, s.Elements())
	}
}

// TestEvaluateMulti tests that a signature that does not match is put back
// for the next key.
func TestEvaluateMulti(t *testing.T) {
	t.Parallel()

	s := NewStack(pushes(testSig("A")))
	c, err := s.EvaluateMulti(testVerify, testPrivKey("B").PubKey())
	require.NoError(t, err)
	require.Nil(t, c)
	require.Equal(t, 1, s.Len())

	c, err = s.EvaluateMulti(testVerify, testPrivKey("A").PubKey())
	require.NoError(t, err)
	require.Equal(t, PublicKey, c.Kind)
	require.Equal(t, 0, s.Len())

	s = NewStack([]Element{Dissatisfied})
	_, err = s.EvaluateMulti(testVerify, testPrivKey("A").PubKey())
	require.ErrorIs(t, err, ErrUnexpectedStackBoolean)
}

// covenantStack returns the 12 covenant fields with the given version and
// hashOutputs at their default slots.
func covenantStack(version uint32, hashOutputs []byte) []Element {
	elems := make([]Element, numCovenantFields)
	for i := range elems {
		elems[i] = NewElement([]byte{byte(i + 2)})
	}
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], version)
	elems[DefaultCovenantLayout.VersionSlot] = NewElement(v[:])
	elems[DefaultCovenantLayout.OutputsSlot] = NewElement(hashOutputs)
	return elems
}

// TestEvaluateVerEq tests the version covenant.
func TestEvaluateVerEq(t *testing.T) {
	t.Parallel()

	layout := DefaultCovenantLayout
	hashOutputs := make([]byte, 32)

	s := NewStack(covenantStack(2, hashOutputs))
	c, err := s.EvaluateVerEq(2, layout)
	require.NoError(t, err)
	require.Equal(t, &SatisfiedConstraint{Kind: VerEq, Version: 2}, c)
	require.Equal(t, numCovenantFields+1, s.Len())

	s = NewStack(covenantStack(1, hashOutputs))
	c, err = s.EvaluateVerEq(2, layout)
	require.NoError(t, err)
	require.Nil(t, c)
	last, _ := s.Last()
	require.Equal(t, Dissatisfied, last)

	elems := covenantStack(2, hashOutputs)
	elems[layout.VersionSlot] = NewElement([]byte{2, 0, 0})
	_, err = NewStack(elems).EvaluateVerEq(2, layout)
	require.ErrorIs(t, err, ErrCovWitnessSize)

	_, err = NewStack(pushes([]byte{2})).EvaluateVerEq(2, layout)
	require.ErrorIs(t, err, ErrUnexpectedStackEnd)
}

// TestEvaluateOutputsPref tests the outputs covenant.
func TestEvaluateOutputsPref(t *testing.T) {
	t.Parallel()

	layout := DefaultCovenantLayout
	prefix := []byte{0xaa, 0xbb}
	suffix := [][]byte{
		bytes.Repeat([]byte{0x01}, 80), bytes.Repeat([]byte{0x02}, 5),
		nil, nil, nil, nil, nil,
	}
	outputs := append(append([]byte(nil), prefix...), suffix[0]...)
	outputs = append(outputs, suffix[1]...)
	hashOutputs := chainhash.DoubleHashB(outputs)

	s := NewStack(append(covenantStack(2, hashOutputs),
		pushes(suffix...)...))
	c, err := s.EvaluateOutputsPref(prefix, layout)
	require.NoError(t, err)
	require.Equal(t, &SatisfiedConstraint{
		Kind: OutputsPref, Prefix: prefix,
	}, c)
	require.Equal(t, numCovenantFields+1, s.Len())

	// The suffix is consumed on a mismatch too.
	s = NewStack(append(covenantStack(2, hashOutputs),
		pushes(suffix...)...))
	c, err = s.EvaluateOutputsPref([]byte{0xaa}, layout)
	require.NoError(t, err)
	require.Nil(t, c)
	require.Equal(t, numCovenantFields+1, s.Len())
	last, _ := s.Last()
	require.Equal(t, Dissatisfied, last)

	s = NewStack(covenantStack(2, hashOutputs)[:5])
	_, err = s.EvaluateOutputsPref(prefix, layout)
	require.ErrorIs(t, err, ErrUnexpectedStackEnd)

	s = NewStack(covenantStack(2, []byte{1, 2, 3}))
	_, err = s.EvaluateOutputsPref(prefix, layout)
	require.ErrorIs(t, err, ErrCovWitnessSize)
}

// TestCovenantLayout tests layout validation.
func TestCovenantLayout(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultCovenantLayout.Validate())

	layout := DefaultCovenantLayout
	layout.VersionSlot = 10
	require.ErrorIs(t, layout.Validate(), ErrBadLayout)

	layout = DefaultCovenantLayout
	layout.OutputsPos = 13
	require.ErrorIs(t, layout.Validate(), ErrBadLayout)

	layout = CovenantLayout{
		VersionSlot: 10, VersionPos: 2, OutputsSlot: 0, OutputsPos: 12,
	}
	require.NoError(t, layout.Validate())
}
