package miniscript

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// mustScript builds a script with the ScriptBuilder and fails the test on
// error.
func mustScript(t *testing.T, build func(b *txscript.ScriptBuilder)) []byte {
	t.Helper()

	b := txscript.NewScriptBuilder()
	build(b)
	script, err := b.Script()
	require.NoError(t, err)
	return script
}

func tokenKinds(tokens []Token) []TokenKind {
	kinds := make([]TokenKind, len(tokens))
	for i, t := range tokens {
		kinds[i] = t.Kind
	}
	return kinds
}

// TestLexNonMinimalNumber tests that numbers pushed with more bytes than
// needed are rejected for every push length up to 4.
func TestLexNonMinimalNumber(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		script []byte
	}{
		{"1 byte push of 5", []byte{0x01, 0x05}},
		{"1 byte push of 0", []byte{0x01, 0x00}},
		{"2 byte push of 5", []byte{0x02, 0x05, 0x00}},
		{"3 byte push of 5", []byte{0x03, 0x05, 0x00, 0x00}},
		{"4 byte push of 5", []byte{0x04, 0x05, 0x00, 0x00, 0x00}},
		{
			"4 byte push of 1000",
			[]byte{0x04, 0xe8, 0x03, 0x00, 0x00},
		},
		{
			"PUSHDATA1 of 2 bytes",
			[]byte{txscript.OP_PUSHDATA1, 0x02, 0xe8, 0x03},
		},
	}

	for _, tc := range testCases {
		_, err := Lex(tc.script)
		require.Error(t, err, tc.name)
	}

	tokens, err := Lex([]byte{0x02, 0xe8, 0x03})
	require.NoError(t, err)
	require.Equal(t, []Token{{Kind: TokNum, Num: 1000}}, tokens)

	// Negative numbers are opaque pushes.
	tokens, err = Lex([]byte{0x02, 0xe8, 0x83})
	require.NoError(t, err)
	require.Equal(t, TokPush, tokens[0].Kind)
}

// TestLexPickPush tests the fusion of OP_PICK with the following push.
func TestLexPickPush(t *testing.T) {
	t.Parallel()

	hash := bytes.Repeat([]byte{0x11}, 32)

	tokens, err := Lex(mustScript(t, func(b *txscript.ScriptBuilder) {
		b.AddOp(txscript.OP_PICK).AddData([]byte{1, 0, 0, 0})
	}))
	require.NoError(t, err)
	require.Equal(t, []Token{{Kind: TokPickPush4, Num: 1}}, tokens)

	tokens, err = Lex(mustScript(t, func(b *txscript.ScriptBuilder) {
		b.AddOp(txscript.OP_PICK).AddData(hash)
	}))
	require.NoError(t, err)
	require.Equal(t, []Token{{Kind: TokPickPush32, Data: hash}}, tokens)

	for _, size := range []int{2, 3, 5, 20, 33} {
		data := bytes.Repeat([]byte{0x81}, size)
		_, err := Lex(mustScript(t, func(b *txscript.ScriptBuilder) {
			b.AddOp(txscript.OP_PICK).AddData(data)
		}))
		require.ErrorIs(t, err, ErrInvalidPush, "size %d", size)
	}

	// A small number opcode is not a push.
	tokens, err = Lex([]byte{txscript.OP_PICK, txscript.OP_4})
	require.NoError(t, err)
	require.Equal(t, []TokenKind{TokPick, TokNum}, tokenKinds(tokens))
}

// TestLexCatRewrite tests that typed pushes in front of SWAP CAT become raw
// pushes.
func TestLexCatRewrite(t *testing.T) {
	t.Parallel()

	hash20 := bytes.Repeat([]byte{0x22}, 20)
	hash32 := bytes.Repeat([]byte{0x33}, 32)

	testCases := []struct {
		name     string
		push     func(b *txscript.ScriptBuilder)
		expected []byte
	}{
		{
			name: "hash20",
			push: func(b *txscript.ScriptBuilder) {
				b.AddData(hash20)
			},
			expected: hash20,
		},
		{
			name: "hash32",
			push: func(b *txscript.ScriptBuilder) {
				b.AddData(hash32)
			},
			expected: hash32,
		},
		{
			name: "pubkey",
			push: func(b *txscript.ScriptBuilder) {
				b.AddData(testPubKey("A"))
			},
			expected: testPubKey("A"),
		},
		{
			name: "number",
			push: func(b *txscript.ScriptBuilder) {
				b.AddInt64(1000)
			},
			expected: []byte{0xe8, 0x03},
		},
	}

	for _, tc := range testCases {
		script := mustScript(t, func(b *txscript.ScriptBuilder) {
			tc.push(b)
			b.AddOp(txscript.OP_SWAP).AddOp(txscript.OP_CAT)
			b.AddOp(txscript.OP_CAT)
		})
		tokens, err := Lex(script)
		require.NoError(t, err, tc.name)
		require.Equal(
			t, []TokenKind{TokPush, TokSwap, TokCat, TokCat},
			tokenKinds(tokens), tc.name,
		)
		require.Equal(t, tc.expected, tokens[0].Data, tc.name)

		encoded, err := TokensToScript(tokens)
		require.NoError(t, err)
		require.Equal(t, script, encoded, tc.name)
	}

	// Without the SWAP the typed token stays.
	tokens, err := Lex(mustScript(t, func(b *txscript.ScriptBuilder) {
		b.AddData(hash20).AddOp(txscript.OP_CAT)
	}))
	require.NoError(t, err)
	require.Equal(t, []TokenKind{TokHash20, TokCat}, tokenKinds(tokens))
}

// TestLexVerify tests the VERIFY splitting and the rejection of a separate
// OP_VERIFY where the combined opcode exists.
func TestLexVerify(t *testing.T) {
	t.Parallel()

	tokens, err := Lex([]byte{
		txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIGVERIFY,
		txscript.OP_CHECKMULTISIGVERIFY,
		txscript.OP_CHECKSEQUENCEVERIFY, txscript.OP_VERIFY,
	})
	require.NoError(t, err)
	require.Equal(t, []TokenKind{
		TokEqual, TokVerify, TokCheckSig, TokVerify, TokCheckMultiSig,
		TokVerify, TokCheckSequenceVerify, TokVerify,
	}, tokenKinds(tokens))

	for _, op := range []byte{
		txscript.OP_EQUAL, txscript.OP_CHECKSIG,
		txscript.OP_CHECKMULTISIG,
	} {
		_, err := Lex([]byte{op, txscript.OP_VERIFY})
		require.ErrorIs(t, err, ErrNonMinimalVerify)
	}
}

// TestLexErrors tests opcodes and pushes the lexer rejects.
func TestLexErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		script []byte
		code   ErrorCode
	}{
		{
			name:   "1negate",
			script: []byte{txscript.OP_1NEGATE},
			code:   ErrInvalidOpcode,
		},
		{
			name:   "nop",
			script: []byte{txscript.OP_NOP},
			code:   ErrInvalidOpcode,
		},
		{
			name:   "return",
			script: []byte{txscript.OP_RETURN},
			code:   ErrInvalidOpcode,
		},
		{
			name:   "truncated push",
			script: []byte{0x05, 0x01, 0x02},
			code:   ErrMalformedScript,
		},
		{
			name: "invalid pubkey",
			script: append(
				[]byte{0x21}, bytes.Repeat([]byte{0x05}, 33)...,
			),
			code: ErrBadPubKey,
		},
	}

	for _, tc := range testCases {
		_, err := Lex(tc.script)
		require.ErrorIs(t, err, tc.code, tc.name)
	}
}

// TestTokenIter tests that tokens are handed out back to front.
func TestTokenIter(t *testing.T) {
	t.Parallel()

	tokens := []Token{
		{Kind: TokDup}, {Kind: TokHash160}, {Kind: TokEqual},
	}
	it := NewTokenIter(tokens)
	require.Equal(t, 3, it.Len())

	s, ok := it.PeekSlice(2)
	require.True(t, ok)
	require.Equal(t, []TokenKind{TokHash160, TokEqual}, tokenKinds(s))

	_, ok = it.PeekSlice(4)
	require.False(t, ok)

	next, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, TokEqual, next.Kind)

	it.UnNext(next)
	peeked, ok := it.Peek()
	require.True(t, ok)
	require.Equal(t, TokEqual, peeked.Kind)

	require.True(t, it.Advance(2))
	require.False(t, it.Advance(2))
	require.Equal(t, 1, it.Len())

	next, _ = it.Next()
	require.Equal(t, TokDup, next.Kind)
	_, ok = it.Next()
	require.False(t, ok)
}
