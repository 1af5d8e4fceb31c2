package interpreter

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript/miniscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

var testPreimage = bytes.Repeat([]byte{0x42}, 32)

func testLookupVar(identifier string) ([]byte, error) {
	if len(identifier) >= 40 {
		return nil, nil
	}
	return testPubKey(identifier), nil
}

// testSatisfier signs for the given identifiers, knows testPreimage and
// accepts relative lock times up to age and the transaction version 2.
func testSatisfier(age uint32, signers ...string) *miniscript.Satisfier {
	keys := make(map[string]string, len(signers))
	for _, id := range signers {
		keys[string(testPubKey(id))] = id
	}
	return &miniscript.Satisfier{
		Sign: func(pubKey []byte) ([]byte, bool) {
			id, ok := keys[string(pubKey)]
			if !ok {
				return nil, false
			}
			return testSig(id), true
		},
		LookupPubKey: func(keyHash []byte) ([]byte, bool) {
			for pubKey := range keys {
				if bytes.Equal(btcutil.Hash160([]byte(pubKey)),
					keyHash) {

					return []byte(pubKey), true
				}
			}
			return nil, false
		},
		Preimage: func(_ string, _ []byte) ([]byte, bool) {
			return testPreimage, true
		},
		CheckOlder: func(n uint32) (bool, error) {
			return n <= age, nil
		},
		CheckAfter: func(n uint32) (bool, error) {
			return false, nil
		},
		CheckVersion: func(v uint32) (bool, error) {
			return v == 2, nil
		},
	}
}

// p2wsh returns the P2WSH output script committing to witnessScript.
func p2wsh(t *testing.T, witnessScript []byte) []byte {
	addr, err := btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(witnessScript), &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	spk, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return spk
}

func p2sh(t *testing.T, redeemScript []byte) []byte {
	addr, err := btcutil.NewAddressScriptHash(
		redeemScript, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)
	spk, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return spk
}

// pushScript encodes witness items as a push-only scriptSig.
func pushScript(t *testing.T, items ...[]byte) []byte {
	b := txscript.NewScriptBuilder()
	for _, item := range items {
		b.AddData(item)
	}
	script, err := b.Script()
	require.NoError(t, err)
	return script
}

func compileScript(t *testing.T, ms string,
	ctx miniscript.ScriptContext) ([]byte, *miniscript.AST) {

	node, err := miniscript.ParseWithContext(ms, ctx)
	require.NoError(t, err, ms)
	require.NoError(t, node.ApplyVars(testLookupVar), ms)
	script, err := node.Script()
	require.NoError(t, err, ms)
	return script, node
}

func constraintKinds(constraints []*SatisfiedConstraint) []ConstraintKind {
	kinds := make([]ConstraintKind, len(constraints))
	for i, c := range constraints {
		kinds[i] = c.Kind
	}
	return kinds
}

// TestConstraints runs satisfactions of various miniscripts through the
// interpreter.
func TestConstraints(t *testing.T) {
	t.Parallel()

	sha256Hash := hex.EncodeToString(chainhash.HashB(testPreimage))
	hash160Hash := hex.EncodeToString(btcutil.Hash160(testPreimage))

	tests := []struct {
		name    string
		ms      string
		signers []string
		age     uint32
		kinds   []ConstraintKind
		keys    []string
	}{{
		name:    "pk",
		ms:      "pk(A)",
		signers: []string{"A"},
		kinds:   []ConstraintKind{PublicKey},
		keys:    []string{"A"},
	}, {
		name:    "pkh",
		ms:      "pkh(A)",
		signers: []string{"A"},
		kinds:   []ConstraintKind{PublicKeyHash},
		keys:    []string{"A"},
	}, {
		name:    "multi",
		ms:      "multi(2,A,B,C)",
		signers: []string{"A", "C"},
		kinds:   []ConstraintKind{PublicKey, PublicKey},
		keys:    []string{"C", "A"},
	}, {
		name:  "or_d timeout",
		ms:    "or_d(pk(A),older(10))",
		age:   10,
		kinds: []ConstraintKind{RelativeTimeLock},
	}, {
		name:    "or_d key",
		ms:      "or_d(pk(A),older(10))",
		signers: []string{"A"},
		kinds:   []ConstraintKind{PublicKey},
		keys:    []string{"A"},
	}, {
		name:    "and_v hash",
		ms:      "and_v(v:pk(A),sha256(" + sha256Hash + "))",
		signers: []string{"A"},
		kinds:   []ConstraintKind{PublicKey, HashLock},
		keys:    []string{"A"},
	}, {
		name:  "hash160",
		ms:    "and_v(v:hash160(" + hash160Hash + "),older(1))",
		age:   1,
		kinds: []ConstraintKind{HashLock, RelativeTimeLock},
	}, {
		name:    "thresh",
		ms:      "thresh(2,pk(A),s:pk(B),s:pk(C))",
		signers: []string{"A", "C"},
		kinds:   []ConstraintKind{PublicKey, PublicKey},
		keys:    []string{"A", "C"},
	}, {
		name:    "andor else",
		ms:      "andor(pk(A),older(10),pk(B))",
		signers: []string{"B"},
		kinds:   []ConstraintKind{PublicKey},
		keys:    []string{"B"},
	}, {
		name:    "andor then",
		ms:      "andor(pk(A),older(10),pk(B))",
		signers: []string{"A"},
		age:     20,
		kinds:   []ConstraintKind{PublicKey, RelativeTimeLock},
		keys:    []string{"A"},
	}, {
		name:    "or_i",
		ms:      "or_i(pk(A),pkh(B))",
		signers: []string{"B"},
		kinds:   []ConstraintKind{PublicKeyHash},
		keys:    []string{"B"},
	}, {
		name:    "and_b",
		ms:      "and_b(pk(A),s:pk(B))",
		signers: []string{"A", "B"},
		kinds:   []ConstraintKind{PublicKey, PublicKey},
		keys:    []string{"A", "B"},
	}, {
		name:    "or_b",
		ms:      "or_b(pk(A),s:pk(B))",
		signers: []string{"B"},
		kinds:   []ConstraintKind{PublicKey},
		keys:    []string{"B"},
	}, {
		name:    "or_c",
		ms:      "and_v(or_c(pk(B),v:older(10)),pk(A))",
		signers: []string{"A", "B"},
		kinds:   []ConstraintKind{PublicKey, PublicKey},
		keys:    []string{"B", "A"},
	}, {
		name:  "dupif",
		ms:    "or_i(pk(A),dv:older(10))",
		age:   10,
		kinds: []ConstraintKind{RelativeTimeLock},
	}, {
		name:    "nonzero",
		ms:      "and_v(v:pk(A),j:pk(B))",
		signers: []string{"A", "B"},
		kinds:   []ConstraintKind{PublicKey, PublicKey},
		keys:    []string{"A", "B"},
	}}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			script, node := compileScript(t, test.ms, miniscript.SegwitV0)
			witness, err := node.Satisfy(
				testSatisfier(test.age, test.signers...),
			)
			require.NoError(t, err)
			witness = append(witness, script)

			interp, err := New(p2wsh(t, script), nil, witness,
				Config{Age: test.age})
			require.NoError(t, err)
			require.Equal(t, SpendP2WSH, interp.Kind())

			constraints, err := interp.Constraints(testVerify)
			require.NoError(t, err, spew.Sdump(witness))
			require.Equal(t, test.kinds, constraintKinds(constraints))

			var keys []string
			for _, c := range constraints {
				if c.PubKey == nil {
					continue
				}
				for _, id := range []string{"A", "B", "C"} {
					if c.PubKey.IsEqual(testPrivKey(id).PubKey()) {
						keys = append(keys, id)
					}
				}
			}
			require.Equal(t, test.keys, keys)
		})
	}
}

// TestAfterBoundary tests a block height lock one block early and on time.
func TestAfterBoundary(t *testing.T) {
	t.Parallel()

	script, _ := compileScript(t, "after(500)", miniscript.SegwitV0)
	witness := wire.TxWitness{script}

	interp, err := New(p2wsh(t, script), nil, witness,
		Config{LockTime: 499})
	require.NoError(t, err)
	_, err = interp.Constraints(testVerify)
	require.ErrorIs(t, err, ErrAbsoluteLockTimeNotMet)

	interp, err = New(p2wsh(t, script), nil, witness,
		Config{LockTime: 500})
	require.NoError(t, err)
	constraints, err := interp.Constraints(testVerify)
	require.NoError(t, err)
	require.Equal(t, []*SatisfiedConstraint{{
		Kind: AbsoluteTimeLock, Time: 500,
	}}, constraints)
}

// TestMultiOrder tests that multisig signatures must follow key order.
func TestMultiOrder(t *testing.T) {
	t.Parallel()

	script, _ := compileScript(t, "multi(2,A,B,C)", miniscript.SegwitV0)
	spk := p2wsh(t, script)

	tests := []struct {
		name    string
		witness wire.TxWitness
		err     error
	}{{
		name:    "in order",
		witness: wire.TxWitness{nil, testSig("A"), testSig("C"), script},
	}, {
		name:    "out of order",
		witness: wire.TxWitness{nil, testSig("C"), testSig("A"), script},
		err:     ErrMultiSigEvaluation,
	}, {
		name: "non-empty dummy",
		witness: wire.TxWitness{
			{0x05}, testSig("A"), testSig("C"), script,
		},
		err: ErrMultiSigEvaluation,
	}, {
		name:    "one signature",
		witness: wire.TxWitness{nil, testSig("B"), script},
		err:     ErrUnexpectedStackEnd,
	}, {
		name:    "dissatisfied",
		witness: wire.TxWitness{nil, nil, nil, script},
		err:     ErrScriptSatisfaction,
	}}

	for _, test := range tests {
		interp, err := New(spk, nil, test.witness, Config{})
		require.NoError(t, err, test.name)

		_, err = interp.Constraints(testVerify)
		if test.err != nil {
			require.ErrorIs(t, err, test.err, test.name)
			continue
		}
		require.NoError(t, err, test.name)
	}
}

// TestIterStopsOnError tests that the iterator yields the constraints found
// before a failure.
func TestIterStopsOnError(t *testing.T) {
	t.Parallel()

	script, _ := compileScript(t, "and_v(v:pk(A),after(500))",
		miniscript.SegwitV0)
	witness := wire.TxWitness{testSig("A"), script}
	interp, err := New(p2wsh(t, script), nil, witness,
		Config{LockTime: 10})
	require.NoError(t, err)

	it := interp.Iter(testVerify)
	require.True(t, it.Next())
	require.Equal(t, PublicKey, it.Constraint().Kind)
	require.False(t, it.Next())
	require.ErrorIs(t, it.Err(), ErrAbsoluteLockTimeNotMet)
	require.False(t, it.Next())

	// A fresh iterator starts from the initial stack again.
	require.Len(t, interp.Stack(), 1)
}

// TestCovenant tests a version covenant above the covenant fields.
func TestCovenant(t *testing.T) {
	t.Parallel()

	script, node := compileScript(t, "and_v(v:pk(A),ver_eq(2))",
		miniscript.SegwitV0)
	sat, err := node.Satisfy(testSatisfier(0, "A"))
	require.NoError(t, err)

	run := func(version uint32) error {
		var witness wire.TxWitness
		for _, e := range covenantStack(version, make([]byte, 32)) {
			witness = append(witness, e.Bytes())
		}
		witness = append(witness, sat...)
		witness = append(witness, script)

		interp, err := New(p2wsh(t, script), nil, witness, Config{})
		require.NoError(t, err)
		constraints, err := interp.Constraints(testVerify)
		if err != nil {
			return err
		}
		require.Equal(t, []ConstraintKind{PublicKey, VerEq},
			constraintKinds(constraints))
		return nil
	}
	require.NoError(t, run(2))
	require.ErrorIs(t, run(3), ErrScriptSatisfaction)

	// Without the covenant fields the version slot does not exist.
	witness := append(wire.TxWitness{}, sat...)
	witness = append(witness, script)
	interp, err := New(p2wsh(t, script), nil, witness, Config{})
	require.NoError(t, err)
	_, err = interp.Constraints(testVerify)
	require.ErrorIs(t, err, ErrUnexpectedStackEnd)

	_, err = New(p2wsh(t, script), nil, witness, Config{
		Layout: CovenantLayout{VersionSlot: 1, VersionPos: 1},
	})
	require.ErrorIs(t, err, ErrBadLayout)
}

// TestNewSpendKinds tests the classification of the spent output.
func TestNewSpendKinds(t *testing.T) {
	t.Parallel()

	legacyScript, _ := compileScript(t, "multi(2,A,B,C)",
		miniscript.Legacy)
	wshScript, _ := compileScript(t, "pk(A)", miniscript.SegwitV0)

	pubKey := testPubKey("A")
	keyHash := btcutil.Hash160(pubKey)
	wpkhProgram := append([]byte{txscript.OP_0, 20}, keyHash...)
	wshProgram := p2wsh(t, wshScript)

	pkhSpk, err := pkhScript(keyHash)
	require.NoError(t, err)

	tests := []struct {
		name      string
		spk       []byte
		scriptSig []byte
		witness   wire.TxWitness
		kind      SpendKind
		numKinds  int
	}{{
		name:     "p2wpkh",
		spk:      wpkhProgram,
		witness:  wire.TxWitness{testSig("A"), pubKey},
		kind:     SpendP2WPKH,
		numKinds: 1,
	}, {
		name:      "p2pkh",
		spk:       pkhSpk,
		scriptSig: pushScript(t, testSig("A"), pubKey),
		kind:      SpendP2PKH,
		numKinds:  1,
	}, {
		name: "p2sh",
		spk:  p2sh(t, legacyScript),
		scriptSig: pushScript(t, nil, testSig("A"), testSig("B"),
			legacyScript),
		kind:     SpendP2SH,
		numKinds: 2,
	}, {
		name:      "p2sh-p2wpkh",
		spk:       p2sh(t, wpkhProgram),
		scriptSig: pushScript(t, wpkhProgram),
		witness:   wire.TxWitness{testSig("A"), pubKey},
		kind:      SpendP2SHWPKH,
		numKinds:  1,
	}, {
		name:      "p2sh-p2wsh",
		spk:       p2sh(t, wshProgram),
		scriptSig: pushScript(t, wshProgram),
		witness:   wire.TxWitness{testSig("A"), wshScript},
		kind:      SpendP2SHWSH,
		numKinds:  1,
	}, {
		name:      "bare",
		spk:       wshScript,
		scriptSig: pushScript(t, testSig("A")),
		kind:      SpendBare,
		numKinds:  1,
	}}

	for _, test := range tests {
		interp, err := New(test.spk, test.scriptSig, test.witness,
			Config{})
		require.NoError(t, err, test.name)
		require.Equal(t, test.kind, interp.Kind(), test.name)

		constraints, err := interp.Constraints(testVerify)
		require.NoError(t, err, test.name)
		require.Len(t, constraints, test.numKinds, test.name)
	}
}

// TestNewErrors tests the spends New rejects before evaluation.
func TestNewErrors(t *testing.T) {
	t.Parallel()

	wshScript, _ := compileScript(t, "pk(A)", miniscript.SegwitV0)
	legacyScript, _ := compileScript(t, "pk(A)", miniscript.Legacy)
	otherScript, _ := compileScript(t, "pk(B)", miniscript.Legacy)
	pubKey := testPubKey("A")
	wpkhProgram := append([]byte{txscript.OP_0, 20},
		btcutil.Hash160(pubKey)...)

	taproot := append([]byte{txscript.OP_1, 32}, make([]byte, 32)...)

	tests := []struct {
		name      string
		spk       []byte
		scriptSig []byte
		witness   wire.TxWitness
		err       error
	}{{
		name:    "wrong witness script",
		spk:     p2wsh(t, wshScript),
		witness: wire.TxWitness{testSig("A"), legacyScript[:1]},
		err:     ErrIncorrectWScriptHash,
	}, {
		name:      "p2wsh with scriptSig",
		spk:       p2wsh(t, wshScript),
		scriptSig: pushScript(t, []byte{1, 2}),
		witness:   wire.TxWitness{testSig("A"), wshScript},
		err:       ErrNonEmptyScriptSig,
	}, {
		name:    "wrong p2wpkh key",
		spk:     wpkhProgram,
		witness: wire.TxWitness{testSig("B"), testPubKey("B")},
		err:     ErrIncorrectWPubKeyHash,
	}, {
		name:    "short p2wpkh witness",
		spk:     wpkhProgram,
		witness: wire.TxWitness{pubKey},
		err:     ErrUnexpectedStackEnd,
	}, {
		name:    "taproot",
		spk:     taproot,
		witness: wire.TxWitness{testSig("A")},
		err:     ErrUnsupportedSpend,
	}, {
		name:      "wrong redeem script",
		spk:       p2sh(t, legacyScript),
		scriptSig: pushScript(t, testSig("A"), otherScript),
		err:       ErrIncorrectScriptHash,
	}, {
		name:      "p2sh with witness",
		spk:       p2sh(t, legacyScript),
		scriptSig: pushScript(t, testSig("A"), legacyScript),
		witness:   wire.TxWitness{{1}},
		err:       ErrNonEmptyWitness,
	}, {
		name:      "empty p2sh scriptSig",
		spk:       p2sh(t, legacyScript),
		scriptSig: nil,
		err:       ErrUnexpectedStackEnd,
	}, {
		name:      "non-push scriptSig",
		spk:       p2sh(t, legacyScript),
		scriptSig: []byte{txscript.OP_DUP},
		err:       ErrExpectedPush,
	}, {
		name:    "not a miniscript",
		spk:     p2wsh(t, []byte{txscript.OP_DUP}),
		witness: wire.TxWitness{{txscript.OP_DUP}},
		err:     ErrMiniscript,
	}}

	for _, test := range tests {
		_, err := New(test.spk, test.scriptSig, test.witness, Config{})
		require.ErrorIs(t, err, test.err, test.name)
	}

	// Scripts that failed to decode are remembered, and a later attempt
	// names the cached script.
	notMs := []byte{txscript.OP_DUP}
	_, err := New(p2wsh(t, notMs), nil, wire.TxWitness{notMs}, Config{})
	require.ErrorIs(t, err, ErrMiniscript)
	key := chainhash.HashH(
		append([]byte{byte(miniscript.SegwitV0)}, notMs...),
	)
	require.True(t, badScripts.Contains(key))

	_, err = New(p2wsh(t, notMs), nil, wire.TxWitness{notMs}, Config{})
	require.ErrorIs(t, err, ErrMiniscript)
	require.ErrorContains(t, err, "previously failed to decode")
	require.ErrorContains(t, err, key.String())
}

// TestNewWrappedScripts tests that spends of scripts made of wrapped
// fragments decode, and that valid scripts are not cached as failures.
func TestNewWrappedScripts(t *testing.T) {
	t.Parallel()

	for _, ms := range []string{
		"pk(A)",
		"pkh(A)",
		"and_v(v:pk(A),pk(B))",
		"or_d(pk(A),and_v(v:pk(B),older(10)))",
	} {
		node, err := miniscript.ParseWithContext(ms, miniscript.SegwitV0)
		require.NoError(t, err, ms)
		require.NoError(t, node.ApplyVars(testLookupVar), ms)
		script, err := node.Script()
		require.NoError(t, err, ms)

		interp, err := New(
			p2wsh(t, script), nil, wire.TxWitness{script}, Config{},
		)
		require.NoError(t, err, ms)
		decoded, err := interp.Miniscript().Script()
		require.NoError(t, err, ms)
		require.Equal(t, script, decoded, ms)
		require.False(t, badScripts.Contains(chainhash.HashH(
			append([]byte{byte(miniscript.SegwitV0)}, script...),
		)), ms)
	}
}
