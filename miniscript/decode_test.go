package miniscript

import (
	"encoding/hex"
	"regexp"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

var (
	testKeyHashRe = regexp.MustCompile(`pkh\(([A-D])\)`)
	testKeyRe     = regexp.MustCompile(`[A-D]`)
)

// decodedString returns the text a decoded script prints for a miniscript
// written with test key identifiers. Keys print as hex and pkh as the hex
// hash of its key.
func decodedString(miniscript string) string {
	s := testKeyHashRe.ReplaceAllStringFunc(miniscript, func(m string) string {
		id := testKeyHashRe.FindStringSubmatch(m)[1]
		hash := btcutil.Hash160(testPubKey(id))
		return "pkh(" + hex.EncodeToString(hash) + ")"
	})
	return testKeyRe.ReplaceAllStringFunc(s, func(id string) string {
		return hex.EncodeToString(testPubKey(id))
	})
}

// TestDecodeRoundTrip tests that encoded miniscripts decode back into the
// same fragments.
func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	hash20 := "7a8b9c0d1e2f30415263748596a7b8c9dae0f1a2"

	testCases := []struct {
		miniscript string
		ctx        ScriptContext
	}{
		{miniscript: "pk(A)", ctx: SegwitV0},
		{miniscript: "pkh(A)", ctx: SegwitV0},
		{miniscript: "multi(2,A,B,C)", ctx: SegwitV0},
		{miniscript: "multi(1,A,B)", ctx: Legacy},
		{miniscript: "and_v(v:pk(A),pk(B))", ctx: SegwitV0},
		{
			miniscript: "and_v(v:pk(A),and_v(v:pk(B),pk(C)))",
			ctx:        SegwitV0,
		},
		{
			miniscript: "and_v(v:pk(A),and_v(v:pkh(B)," +
				"and_v(v:older(10),pk(C))))",
			ctx: SegwitV0,
		},
		{miniscript: "or_d(pk(A),older(10))", ctx: SegwitV0},
		{miniscript: "or_b(pk(A),s:pk(B))", ctx: SegwitV0},
		{miniscript: "and_b(pk(A),s:pk(B))", ctx: SegwitV0},
		{miniscript: "or_c(pk(A),v:pk(B))", ctx: Legacy},
		{miniscript: "andor(pk(A),older(10),pk(B))", ctx: SegwitV0},
		{miniscript: "or_i(pk(A),dv:older(10))", ctx: SegwitV0},
		{miniscript: "or_i(pk(A),pkh(B))", ctx: Legacy},
		{miniscript: "thresh(2,pk(A),s:pk(B),s:pk(C))", ctx: SegwitV0},
		{
			miniscript: "thresh(2,pk(A),a:pk(B),s:pk(C))",
			ctx:        SegwitV0,
		},
		{miniscript: "hash160(" + hash20 + ")", ctx: SegwitV0},
		{
			miniscript: "and_v(v:pk(A),sha256(" + testSha256 + "))",
			ctx:        SegwitV0,
		},
		{miniscript: "and_v(v:after(500),pk(A))", ctx: Legacy},
		{miniscript: "and_v(v:ver_eq(2),pk(A))", ctx: SegwitV0},
		{
			miniscript: "and_v(v:outputs_pref(aabbcc),pk(A))",
			ctx:        SegwitV0,
		},
	}

	for _, tc := range testCases {
		node, err := ParseWithContext(tc.miniscript, tc.ctx)
		require.NoError(t, err, tc.miniscript)
		require.NoError(t, node.ApplyVars(testLookupVar))
		script, err := node.Script()
		require.NoError(t, err, tc.miniscript)

		decoded, err := Decode(script, tc.ctx)
		require.NoError(t, err, tc.miniscript)
		require.Equal(t, node.Type(), decoded.Type(), tc.miniscript)
		require.Equal(
			t, decodedString(tc.miniscript), decoded.String(),
			tc.miniscript,
		)
		require.Equal(t, tc.ctx, decoded.Context())

		encoded, err := decoded.Script()
		require.NoError(t, err)
		require.Equal(t, script, encoded, tc.miniscript)
		require.Equal(t, node.ScriptSize(), decoded.ScriptSize())
		require.Equal(t, node.MaxOpCount(), decoded.MaxOpCount())
	}
}

// TestDecodeErrors tests scripts that are not miniscripts.
func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	_, err := Decode(nil, SegwitV0)
	require.ErrorIs(t, err, ErrUnexpectedEnd)

	_, err = Decode([]byte{txscript.OP_DUP}, SegwitV0)
	require.ErrorIs(t, err, ErrUnexpectedToken)

	// and_v requires a V left side.
	_, err = Decode(mustScript(t, func(b *txscript.ScriptBuilder) {
		b.AddData(testPubKey("A")).AddOp(txscript.OP_CHECKSIG)
		b.AddData(testPubKey("B")).AddOp(txscript.OP_CHECKSIG)
	}), SegwitV0)
	require.Error(t, err)

	_, err = Decode([]byte{txscript.OP_1, txscript.OP_1}, SegwitV0)
	require.Error(t, err)

	_, err = Decode([]byte{txscript.OP_CHECKSIG}, SegwitV0)
	require.ErrorIs(t, err, ErrUnexpectedEnd)

	_, err = Decode([]byte{txscript.OP_NOP}, SegwitV0)
	require.ErrorIs(t, err, ErrInvalidOpcode)
}

// TestDecodeWrapped tests that scripts built from wrapped fragments decode,
// starting from the raw P2PK script, which is c:pk_k.
func TestDecodeWrapped(t *testing.T) {
	t.Parallel()

	script := mustScript(t, func(b *txscript.ScriptBuilder) {
		b.AddData(testPubKey("A")).AddOp(txscript.OP_CHECKSIG)
	})
	node, err := Decode(script, SegwitV0)
	require.NoError(t, err)
	require.Equal(t, decodedString("pk(A)"), node.String())
	require.Equal(t, f_wrap_c, node.identifier)

	script = mustScript(t, func(b *txscript.ScriptBuilder) {
		b.AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160)
		b.AddData(btcutil.Hash160(testPubKey("B")))
		b.AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG)
	})
	node, err = Decode(script, Legacy)
	require.NoError(t, err)
	require.Equal(t, decodedString("pkh(B)"), node.String())

	script = mustScript(t, func(b *txscript.ScriptBuilder) {
		b.AddData(testPubKey("A")).AddOp(txscript.OP_CHECKSIGVERIFY)
		b.AddData(testPubKey("B")).AddOp(txscript.OP_CHECKSIG)
	})
	node, err = Decode(script, SegwitV0)
	require.NoError(t, err)
	require.Equal(
		t, decodedString("and_v(v:pk(A),pk(B))"), node.String(),
	)
}

// TestArgCheckWrappers tests the argument count of wrapper nodes.
func TestArgCheckWrappers(t *testing.T) {
	t.Parallel()

	wrappers := []string{
		f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n,
	}
	for _, w := range wrappers {
		leaf := &AST{identifier: f_pk_k}
		_, err := argCheck(&AST{identifier: w, args: []*AST{leaf}})
		require.NoError(t, err, w)

		_, err = argCheck(&AST{identifier: w})
		require.Error(t, err, w)

		_, err = argCheck(&AST{identifier: w, args: []*AST{leaf, leaf}})
		require.Error(t, err, w)
	}
}

// TestDecodeUncompressedKey tests that uncompressed keys only decode in
// legacy scripts.
func TestDecodeUncompressedKey(t *testing.T) {
	t.Parallel()

	key := testPrivKey("A").PubKey().SerializeUncompressed()
	script := mustScript(t, func(b *txscript.ScriptBuilder) {
		b.AddData(key).AddOp(txscript.OP_CHECKSIG)
	})

	node, err := Decode(script, Legacy)
	require.NoError(t, err)
	require.Equal(t, "pk("+hex.EncodeToString(key)+")", node.String())
	require.Equal(t, [][]byte{key}, node.Subs()[0].PubKeys())

	_, err = Decode(script, SegwitV0)
	require.ErrorIs(t, err, ErrUncompressedKey)
}
