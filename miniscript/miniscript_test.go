package miniscript

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

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

// testLookupVar resolves short identifiers to test keys. Longer identifiers
// are hex encoded values.
func testLookupVar(identifier string) ([]byte, error) {
	if len(identifier) >= 40 {
		return nil, nil
	}
	return testPubKey(identifier), nil
}

// testPreimage is the preimage of testSha256.
var testPreimage = bytes.Repeat([]byte{0x42}, 32)

var testSha256 = hex.EncodeToString(chainhash.HashB(testPreimage))

// TestSplitString tests the splitString function.
func TestSplitString(t *testing.T) {
	separators := func(c rune) bool {
		return c == '(' || c == ')' || c == ','
	}

	testCases := []struct {
		str      string
		expected []string
	}{
		{
			str:      "",
			expected: []string{},
		},
		{
			str:      "0",
			expected: []string{"0"},
		},
		{
			str:      "0)(1(",
			expected: []string{"0", ")", "(", "1", "("},
		},
		{
			str: "or_b(pk(key_1),s:pk(key_2))",
			expected: []string{
				"or_b", "(", "pk", "(", "key_1", ")", ",",
				"s:pk", "(", "key_2", ")", ")",
			},
		},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.expected, splitString(tc.str, separators))
	}
}

// checkMiniscript makes sure the passed miniscript is top level, has the
// expected type and script length.
func checkMiniscript(miniscript, expectedType string) error {
	node, err := Parse(miniscript)
	if err != nil {
		return err
	}
	if err := node.IsValidTopLevel(); err != nil {
		return err
	}
	sortString := func(s string) string {
		r := []rune(s)
		sort.Slice(r, func(i, j int) bool {
			return r[i] < r[j]
		})
		return string(r)
	}
	if sortString(expectedType) != sortString(node.Type()) {
		return fmt.Errorf("expected type %s, got %s",
			sortString(expectedType), sortString(node.Type()))
	}

	if err := node.ApplyVars(testLookupVar); err != nil {
		return err
	}

	script, err := node.Script()
	if err != nil {
		return err
	}

	if len(script) != node.scriptLen {
		return fmt.Errorf("expected script length %d but got %d for "+
			"script %s", node.scriptLen, len(script),
			node.DrawTree())
	}
	return nil
}

// TestTypes asserts the type and script length of valid miniscripts.
func TestTypes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		miniscript   string
		expectedType string
	}{
		{"pk(A)", "Bondumse"},
		{"pkh(A)", "Bndumse"},
		{"older(144)", "Bzmf"},
		{"after(500)", "Bzmf"},
		{"multi(2,A,B,C)", "Bndumse"},
		{"sha256(" + testSha256 + ")", "Bondum"},
		{"and_v(v:pk(A),pk(B))", "Bnumsf"},
		{"or_d(pk(A),older(10))", "Bomf"},
		{"ver_eq(2)", "Bzumf"},
		{"outputs_pref(aabb)", "Bdum"},
		{"thresh(2,pk(A),s:pk(B),s:pk(C))", "Bdumse"},
		{"andor(pk(A),older(10),pk(B))", "Bdmse"},
		{"or_i(pk(A),dv:older(10))", "Bdm"},
	}

	for _, tc := range testCases {
		require.NoError(
			t, checkMiniscript(tc.miniscript, tc.expectedType),
			tc.miniscript,
		)
	}
}

// TestInvalid asserts miniscripts that fail to parse.
func TestInvalid(t *testing.T) {
	t.Parallel()

	keys := make([]string, 21)
	for i := range keys {
		keys[i] = fmt.Sprintf("key%d", i)
	}

	testCases := []struct {
		miniscript string
		code       ErrorCode
		hasCode    bool
	}{
		{miniscript: "pk(A,B)"},
		{miniscript: "and_v(pk(A),pk(B))"},
		{miniscript: "thresh(0,pk(A))"},
		{miniscript: "older(0)"},
		{miniscript: "s:older(1)"},
		{miniscript: "ver_eq(-1)"},
		{miniscript: "foo(A)"},
		{miniscript: "outputs_pref()"},
		{miniscript: "outputs_pref(0g)"},
		{
			miniscript: "outputs_pref(" +
				strings.Repeat("05", 33) + ")",
			code:    ErrBadPubKey,
			hasCode: true,
		},
		{
			miniscript: "multi(1," + strings.Join(keys, ",") + ")",
			code:       ErrTooManyKeys,
			hasCode:    true,
		},
	}

	for _, tc := range testCases {
		_, err := Parse(tc.miniscript)
		require.Error(t, err, tc.miniscript)
		if tc.hasCode {
			require.ErrorIs(t, err, tc.code, tc.miniscript)
		}
	}
}

// TestComputeOpCount tests that the maxOpCount function returns the correct
// number of operations.
func TestComputeOpCount(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		script     string
		maxOpCount int
	}{
		{
			script: "or_i(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))",
			maxOpCount: 9,
		},
		{
			script: "thresh(2,or_i(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))," +
				"s:pk(key8),s:pk(key9))",
			maxOpCount: 16,
		},
		{
			script: "thresh(2,or_d(multi(2,key1,key2,key3)," +
				"multi(3,key4,key5,key6,key7))," +
				"s:pk(key8),s:pk(key9))",
			maxOpCount: 19,
		},
		{
			script:     "and_v(v:ver_eq(2),pk(A))",
			maxOpCount: 5,
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.script)
		require.NoError(t, err)
		require.Equal(t, tc.maxOpCount, node.MaxOpCount())
	}
}

// TestThreshMax compares the thresh worst case against the costs of every
// choice of satisfied subs.
func TestThreshMax(t *testing.T) {
	t.Parallel()

	sats := []maxInt{validInt(1), validInt(5), validInt(2)}
	dsats := []maxInt{validInt(3), validInt(0), {}}

	testCases := []struct {
		k    int
		want maxInt
	}{
		{k: 0, want: maxInt{}},
		{k: 1, want: validInt(5)},
		{k: 2, want: validInt(10)},
		{k: 3, want: validInt(8)},
		{k: 4, want: maxInt{}},
	}
	for _, tc := range testCases {
		got := threshMax(tc.k, sats, dsats, validInt(0), maxInt{})
		require.Equal(t, tc.want, got, "k=%d", tc.k)
	}
}

// TestString asserts that String gives back the canonical text.
func TestString(t *testing.T) {
	t.Parallel()

	testCases := []string{
		"pk(A)",
		"pkh(A)",
		"and_v(v:pk(A),pk(B))",
		"or_d(pk(A),older(10))",
		"andor(pk(A),older(10),pk(B))",
		"and_n(pk(A),older(10))",
		"tv:pk(A)",
		"l:pk(A)",
		"u:pk(A)",
		"or_i(pk(A),dv:older(10))",
		"thresh(2,pk(A),s:pk(B),a:pk(C))",
		"multi(2,A,B,C)",
		"ver_eq(2)",
		"outputs_pref(deadbeef)",
	}

	for _, miniscript := range testCases {
		node, err := Parse(miniscript)
		require.NoError(t, err, miniscript)
		require.Equal(t, miniscript, node.String())
	}
}

// TestMaxSatisfactionSize tests the worst case satisfaction sizes.
func TestMaxSatisfactionSize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		miniscript string
		ctx        ScriptContext
		size       int
		elems      int
	}{
		{"pk(A)", SegwitV0, 73, 2},
		{"pkh(A)", SegwitV0, 107, 3},
		{"multi(2,A,B,C)", SegwitV0, 147, 4},
		{"multi(2,A,B,C)", Legacy, 147, 4},
		{"and_v(v:pk(A),older(10))", SegwitV0, 73, 2},
		{"or_i(pk(A),pk(B))", SegwitV0, 75, 3},
		{"or_i(pk(A),pk(B))", Legacy, 74, 3},
	}

	for _, tc := range testCases {
		node, err := ParseWithContext(tc.miniscript, tc.ctx)
		require.NoError(t, err)
		require.NoError(t, node.ApplyVars(testLookupVar))

		size, ok := node.MaxSatisfactionSize()
		require.True(t, ok)
		require.Equal(t, tc.size, size, tc.miniscript)

		elems, ok := node.MaxSatisfactionWitnessElements()
		require.True(t, ok)
		require.Equal(t, tc.elems, elems, tc.miniscript)
	}
}

// TestScriptContext tests the limits and fragments of each context.
func TestScriptContext(t *testing.T) {
	t.Parallel()

	_, err := ParseWithContext("ver_eq(2)", Legacy)
	require.ErrorIs(t, err, ErrContextFragment)

	keys := make([]string, 16)
	for i := range keys {
		keys[i] = fmt.Sprintf("key%d", i)
	}
	multi := "multi(1," + strings.Join(keys, ",") + ")"
	_, err = ParseWithContext(multi, Legacy)
	require.ErrorIs(t, err, ErrScriptTooLarge)
	_, err = ParseWithContext(multi, SegwitV0)
	require.NoError(t, err)

	// Uncompressed keys are only allowed in the legacy context.
	uncompressed := testPrivKey("A").PubKey().SerializeUncompressed()
	lookup := func(string) ([]byte, error) {
		return uncompressed, nil
	}
	node, err := ParseWithContext("pk(A)", Legacy)
	require.NoError(t, err)
	require.NoError(t, node.ApplyVars(lookup))
	require.Equal(t, 67, node.ScriptSize())

	node, err = Parse("pk(A)")
	require.NoError(t, err)
	require.ErrorIs(t, node.ApplyVars(lookup), ErrUncompressedKey)
}

// TestApplyVars tests key and hash resolution errors.
func TestApplyVars(t *testing.T) {
	t.Parallel()

	node, err := Parse("and_v(v:pk(A),pk(A))")
	require.NoError(t, err)
	require.ErrorIs(t, node.ApplyVars(testLookupVar), ErrDuplicateKey)

	node, err = Parse("sha256(aabb)")
	require.NoError(t, err)
	require.ErrorIs(t, node.ApplyVars(nil), ErrBadHashLen)

	node, err = Parse("pk(A)")
	require.NoError(t, err)
	require.ErrorIs(t, node.ApplyVars(nil), ErrMissingKey)

	_, err = node.Script()
	require.ErrorIs(t, err, ErrMissingKey)
}

// TestLift tests lifting miniscripts to abstract policies.
func TestLift(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		miniscript string
		policy     string
	}{
		{"pk(A)", "pk(A)"},
		{"pkh(A)", "pkh(A)"},
		{
			"or_d(pk(A),and_v(v:pk(B),older(10)))",
			"or(pk(A),and(pk(B),older(10)))",
		},
		{
			"andor(pk(A),older(10),pk(B))",
			"or(and(pk(A),older(10)),pk(B))",
		},
		{"multi(2,A,B,C)", "thresh(2,pk(A),pk(B),pk(C))"},
		{
			"thresh(2,pk(A),s:pk(B),a:pk(C))",
			"thresh(2,pk(A),pk(B),pk(C))",
		},
		{
			"and_v(v:ver_eq(2),outputs_pref(aabb))",
			"and(ver_eq(2),outputs_pref(aabb))",
		},
	}

	for _, tc := range testCases {
		node, err := Parse(tc.miniscript)
		require.NoError(t, err)
		p, err := node.Lift()
		require.NoError(t, err)
		require.Equal(t, tc.policy, p.String(), tc.miniscript)
	}

	node, err := Parse("and_v(v:after(100),after(500000001))")
	require.NoError(t, err)
	_, err = node.Lift()
	require.ErrorIs(t, err, ErrTimelockMixing)
}

// TestTranslateKeys tests key translation and its failure.
func TestTranslateKeys(t *testing.T) {
	t.Parallel()

	node, err := Parse("and_v(v:pk(A),or_d(pkh(B),multi(1,C,D)))")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C", "D"}, node.Keys())

	upper := func(id string) (string, error) {
		return "key" + id, nil
	}
	hashed := func(id string) (string, error) {
		return "hash" + id, nil
	}
	translated, err := node.TranslateKeys(upper, hashed)
	require.NoError(t, err)
	require.Equal(
		t, []string{"keyA", "hashB", "keyC", "keyD"},
		translated.Keys(),
	)
	require.Equal(
		t, "and_v(v:pk(keyA),or_d(pkh(hashB),multi(1,keyC,keyD)))",
		translated.String(),
	)

	// The original is untouched.
	require.Equal(t, []string{"A", "B", "C", "D"}, node.Keys())

	errNoKey := errors.New("no such key")
	failing := func(id string) (string, error) {
		if id == "C" {
			return "", errNoKey
		}
		return id, nil
	}
	translated, err = node.TranslateKeys(failing, hashed)
	require.ErrorIs(t, err, errNoKey)
	require.Nil(t, translated)
}

// TestSatisfyOutputsPref tests the witness layout of outputs_pref.
func TestSatisfyOutputsPref(t *testing.T) {
	t.Parallel()

	node, err := Parse("and_v(v:outputs_pref(aabb),pk(A))")
	require.NoError(t, err)
	require.NoError(t, node.ApplyVars(testLookupVar))

	suffix := bytes.Repeat([]byte{0x01}, 100)
	outputs := append([]byte{0xaa, 0xbb}, suffix...)
	sig := bytes.Repeat([]byte{0x30}, 72)
	satisfier := &Satisfier{
		Sign: func([]byte) ([]byte, bool) {
			return sig, true
		},
		Outputs: func() ([]byte, bool) {
			return outputs, true
		},
	}
	witness, err := node.Satisfy(satisfier)
	require.NoError(t, err, spew.Sdump(witness))
	require.Len(t, witness, 1+MaxOutputsPrefElems)
	require.Equal(t, sig, witness[0])
	require.Equal(t, suffix[:80], []byte(witness[1]))
	require.Equal(t, suffix[80:], []byte(witness[2]))
	for _, elem := range witness[3:] {
		require.Empty(t, elem)
	}

	// Outputs that do not start with the prefix cannot satisfy it.
	satisfier.Outputs = func() ([]byte, bool) {
		return suffix, true
	}
	_, err = node.Satisfy(satisfier)
	require.ErrorIs(t, err, ErrNoSatisfaction)
}

// testRedeem constructs a p2wsh(<miniscript>) UTXO and spends it with a
// satisfaction generated from the miniscript, executing the script with the
// btcd script engine.
func testRedeem(t *testing.T, miniscript string, sequence uint32,
	signers []string, withPreimage bool) error {

	node, err := Parse(miniscript)
	if err != nil {
		return err
	}
	if err := node.IsSane(); err != nil {
		return err
	}
	if err := node.ApplyVars(testLookupVar); err != nil {
		return err
	}
	t.Logf("Tree for miniscript %v: %v", miniscript, node.DrawTree())
	t.Logf("Script: %v", node.ScriptASM())

	witnessScript, err := node.Script()
	if err != nil {
		return err
	}

	addr, err := btcutil.NewAddressWitnessScriptHash(
		chainhash.HashB(witnessScript), &chaincfg.TestNet3Params,
	)
	if err != nil {
		return err
	}
	utxoAmount := int64(999799)
	utxoPkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}
	burnPkScript, err := txscript.NullDataScript(nil)
	if err != nil {
		return err
	}

	txInput := wire.NewTxIn(&wire.OutPoint{}, nil, nil)
	txInput.Sequence = sequence
	transaction := wire.MsgTx{
		Version: 2,
		TxIn:    []*wire.TxIn{txInput},
		TxOut: []*wire.TxOut{{
			Value:    utxoAmount - 200,
			PkScript: burnPkScript,
		}},
	}
	inputIndex := 0

	previousOutputs := txscript.NewCannedPrevOutputFetcher(
		utxoPkScript, utxoAmount,
	)
	sigHashes := txscript.NewTxSigHashes(&transaction, previousOutputs)
	signatureHash, err := txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, &transaction,
		inputIndex, utxoAmount,
	)
	if err != nil {
		return err
	}

	privKeys := make(map[string]*btcec.PrivateKey, len(signers))
	for _, signer := range signers {
		privKey := testPrivKey(signer)
		pubKey := privKey.PubKey().SerializeCompressed()
		privKeys[string(pubKey)] = privKey
	}

	witness, err := node.Satisfy(&Satisfier{
		CheckOlder: func(lockTime uint32) (bool, error) {
			return CheckOlder(
				lockTime, uint32(transaction.Version),
				transaction.TxIn[inputIndex].Sequence,
			), nil
		},
		CheckAfter: func(lockTime uint32) (bool, error) {
			return CheckAfter(
				lockTime, transaction.LockTime,
				transaction.TxIn[inputIndex].Sequence,
			), nil
		},
		Sign: func(pubKey []byte) ([]byte, bool) {
			privKey, ok := privKeys[string(pubKey)]
			if !ok {
				return nil, false
			}
			signature := ecdsa.Sign(privKey, signatureHash)
			return append(
				signature.Serialize(), byte(txscript.SigHashAll),
			), true
		},
		Preimage: func(hashFunc string, hash []byte) ([]byte, bool) {
			if !withPreimage || hashFunc != "sha256" {
				return nil, false
			}
			return testPreimage, bytes.Equal(
				hash, chainhash.HashB(testPreimage),
			)
		},
	})
	if err != nil {
		return err
	}

	transaction.TxIn[inputIndex].Witness = append(witness, witnessScript)
	engine, err := txscript.NewEngine(
		utxoPkScript, &transaction, inputIndex,
		txscript.StandardVerifyFlags, nil, sigHashes, utxoAmount,
		previousOutputs,
	)
	if err != nil {
		return err
	}
	if err := engine.Execute(); err != nil {
		return err
	}
	t.Logf("Raw witness: %v", witness.ToHexStrings())
	return nil
}

// TestRedeem tests that the script generated from a miniscript can be spent
// successfully with the generated witness.
func TestRedeem(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		comment      string
		miniscript   string
		sequence     uint32
		signers      []string
		withPreimage bool
		valid        bool
	}{
		{
			comment:    "single key",
			miniscript: "pk(A)",
			signers:    []string{"A"},
			valid:      true,
		},
		{
			comment:    "single key, no signer",
			miniscript: "pk(A)",
		},
		{
			comment:    "key hash",
			miniscript: "pkh(A)",
			signers:    []string{"A"},
			valid:      true,
		},
		{
			comment:    "2-of-3 with the first and last key",
			miniscript: "multi(2,A,B,C)",
			signers:    []string{"A", "C"},
			valid:      true,
		},
		{
			comment:    "2-of-3 with one key",
			miniscript: "multi(2,A,B,C)",
			signers:    []string{"B"},
		},
		{
			comment:    "recovery path after the timelock",
			miniscript: "or_d(pk(A),and_v(v:pk(B),older(10)))",
			sequence:   10,
			signers:    []string{"B"},
			valid:      true,
		},
		{
			comment:    "recovery path before the timelock",
			miniscript: "or_d(pk(A),and_v(v:pk(B),older(10)))",
			sequence:   9,
			signers:    []string{"B"},
		},
		{
			comment:      "key and preimage",
			miniscript:   "and_v(v:pk(A),sha256(" + testSha256 + "))",
			signers:      []string{"A"},
			withPreimage: true,
			valid:        true,
		},
		{
			comment:    "key without preimage",
			miniscript: "and_v(v:pk(A),sha256(" + testSha256 + "))",
			signers:    []string{"A"},
		},
		{
			comment:    "thresh with the first and last sub",
			miniscript: "thresh(2,pk(A),s:pk(B),s:pk(C))",
			signers:    []string{"A", "C"},
			valid:      true,
		},
		{
			comment:    "andor else branch",
			miniscript: "andor(pk(A),older(10),pk(B))",
			signers:    []string{"B"},
			valid:      true,
		},
	}

	for _, tc := range testCases {
		err := testRedeem(
			t, tc.miniscript, tc.sequence, tc.signers,
			tc.withPreimage,
		)
		if !tc.valid {
			require.Errorf(
				t, err, "comment: %s, miniscript: %s",
				tc.comment, tc.miniscript,
			)
			continue
		}
		require.NoErrorf(
			t, err, "comment: %s, miniscript: %s", tc.comment,
			tc.miniscript,
		)
	}
}
