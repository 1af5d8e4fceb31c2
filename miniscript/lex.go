package miniscript

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// These opcodes are not in the btcd opcode table under these names.
const (
	opCheckSigFromStack       = 0xc1
	opCheckSigFromStackVerify = 0xc2
)

// TokenKind is the kind of a lexed script atom.
type TokenKind uint8

// These constants are the kinds of script atoms the lexer produces.
const (
	TokBoolAnd TokenKind = iota
	TokBoolOr
	TokAdd
	TokSub
	TokEqual
	TokCheckSig
	TokCheckSigFromStack
	TokCheckSigFromStackVerify
	TokCheckMultiSig
	TokCheckSequenceVerify
	TokCheckLockTimeVerify
	TokFromAltStack
	TokToAltStack
	TokLeft
	TokCat
	TokCodeSep
	TokOver
	TokPick
	TokDepth
	TokDrop
	TokDup
	TokIf
	TokIfDup
	TokNotIf
	TokElse
	TokEndIf
	TokZeroNotEqual
	TokSize
	TokSwap
	TokVerify
	TokRipemd160
	TokHash160
	TokSha256
	TokHash256

	// TokNum is a non-negative minimally encoded number.
	TokNum

	// TokHash20 is a 20 byte push.
	TokHash20

	// TokHash32 is a 32 byte push.
	TokHash32

	// TokPubKey is a 33 or 65 byte push that parses as a public key.
	TokPubKey

	// TokPush is any other push, or a typed push that is concatenated.
	TokPush

	// TokPickPush4 is OP_PICK followed by a 4 byte push.
	TokPickPush4

	// TokPickPush32 is OP_PICK followed by a 32 byte push.
	TokPickPush32

	// TokPickPush is OP_PICK followed by a push of another size. The
	// lexer does not produce it. It is accepted when encoding tokens.
	TokPickPush
)

var tokenKindStrings = map[TokenKind]string{
	TokBoolAnd:                 "BoolAnd",
	TokBoolOr:                  "BoolOr",
	TokAdd:                     "Add",
	TokSub:                     "Sub",
	TokEqual:                   "Equal",
	TokCheckSig:                "CheckSig",
	TokCheckSigFromStack:       "CheckSigFromStack",
	TokCheckSigFromStackVerify: "CheckSigFromStackVerify",
	TokCheckMultiSig:           "CheckMultiSig",
	TokCheckSequenceVerify:     "CheckSequenceVerify",
	TokCheckLockTimeVerify:     "CheckLockTimeVerify",
	TokFromAltStack:            "FromAltStack",
	TokToAltStack:              "ToAltStack",
	TokLeft:                    "Left",
	TokCat:                     "Cat",
	TokCodeSep:                 "CodeSep",
	TokOver:                    "Over",
	TokPick:                    "Pick",
	TokDepth:                   "Depth",
	TokDrop:                    "Drop",
	TokDup:                     "Dup",
	TokIf:                      "If",
	TokIfDup:                   "IfDup",
	TokNotIf:                   "NotIf",
	TokElse:                    "Else",
	TokEndIf:                   "EndIf",
	TokZeroNotEqual:            "ZeroNotEqual",
	TokSize:                    "Size",
	TokSwap:                    "Swap",
	TokVerify:                  "Verify",
	TokRipemd160:               "Ripemd160",
	TokHash160:                 "Hash160",
	TokSha256:                  "Sha256",
	TokHash256:                 "Hash256",
	TokNum:                     "Num",
	TokHash20:                  "Hash20",
	TokHash32:                  "Hash32",
	TokPubKey:                  "PubKey",
	TokPush:                    "Push",
	TokPickPush4:               "PickPush4",
	TokPickPush32:              "PickPush32",
	TokPickPush:                "PickPush",
}

// String returns the TokenKind as a human-readable name.
func (k TokenKind) String() string {
	if s := tokenKindStrings[k]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown TokenKind (%d)", int(k))
}

// simpleOps maps the opcodes that lex to one or two payload free tokens.
var simpleOps = map[byte][]TokenKind{
	txscript.OP_BOOLAND:             {TokBoolAnd},
	txscript.OP_BOOLOR:              {TokBoolOr},
	txscript.OP_ADD:                 {TokAdd},
	txscript.OP_SUB:                 {TokSub},
	txscript.OP_EQUAL:               {TokEqual},
	txscript.OP_EQUALVERIFY:         {TokEqual, TokVerify},
	txscript.OP_CHECKSIG:            {TokCheckSig},
	txscript.OP_CHECKSIGVERIFY:      {TokCheckSig, TokVerify},
	opCheckSigFromStack:             {TokCheckSigFromStack},
	opCheckSigFromStackVerify:       {TokCheckSigFromStackVerify},
	txscript.OP_CHECKMULTISIG:       {TokCheckMultiSig},
	txscript.OP_CHECKMULTISIGVERIFY: {TokCheckMultiSig, TokVerify},
	txscript.OP_CHECKSEQUENCEVERIFY: {TokCheckSequenceVerify},
	txscript.OP_CHECKLOCKTIMEVERIFY: {TokCheckLockTimeVerify},
	txscript.OP_FROMALTSTACK:        {TokFromAltStack},
	txscript.OP_TOALTSTACK:          {TokToAltStack},
	txscript.OP_LEFT:                {TokLeft},
	txscript.OP_CAT:                 {TokCat},
	txscript.OP_CODESEPARATOR:       {TokCodeSep},
	txscript.OP_OVER:                {TokOver},
	txscript.OP_PICK:                {TokPick},
	txscript.OP_DEPTH:               {TokDepth},
	txscript.OP_DROP:                {TokDrop},
	txscript.OP_DUP:                 {TokDup},
	txscript.OP_IF:                  {TokIf},
	txscript.OP_IFDUP:               {TokIfDup},
	txscript.OP_NOTIF:               {TokNotIf},
	txscript.OP_ELSE:                {TokElse},
	txscript.OP_ENDIF:               {TokEndIf},
	txscript.OP_0NOTEQUAL:           {TokZeroNotEqual},
	txscript.OP_SIZE:                {TokSize},
	txscript.OP_SWAP:                {TokSwap},
	txscript.OP_VERIFY:              {TokVerify},
	txscript.OP_RIPEMD160:           {TokRipemd160},
	txscript.OP_HASH160:             {TokHash160},
	txscript.OP_SHA256:              {TokSha256},
	txscript.OP_HASH256:             {TokHash256},
}

// Token is one atom of a lexed script.
type Token struct {
	Kind TokenKind

	// Num is the value of TokNum and TokPickPush4.
	Num uint32

	// Data is the pushed bytes of TokHash20, TokHash32, TokPubKey,
	// TokPush, TokPickPush32 and TokPickPush.
	Data []byte

	// PubKey is the parsed key of TokPubKey.
	PubKey *btcec.PublicKey
}

// String returns a short human-readable form of the token.
func (t Token) String() string {
	switch t.Kind {
	case TokNum, TokPickPush4:
		return fmt.Sprintf("%v(%d)", t.Kind, t.Num)
	case TokHash20, TokHash32, TokPubKey, TokPush, TokPickPush32,
		TokPickPush:

		return fmt.Sprintf("%v(%x)", t.Kind, t.Data)
	}
	return t.Kind.String()
}

// Equal reports whether both tokens are structurally the same.
func (t Token) Equal(o Token) bool {
	return t.Kind == o.Kind && t.Num == o.Num && bytes.Equal(t.Data, o.Data)
}

// scriptIntBytes returns the minimal script number encoding of n.
func scriptIntBytes(n int64) []byte {
	if n == 0 {
		return nil
	}
	negative := n < 0
	if negative {
		n = -n
	}
	var result []byte
	for n > 0 {
		result = append(result, byte(n&0xff))
		n >>= 8
	}
	if result[len(result)-1]&0x80 != 0 {
		extra := byte(0x00)
		if negative {
			extra = 0x80
		}
		result = append(result, extra)
	} else if negative {
		result[len(result)-1] |= 0x80
	}
	return result
}

// readScriptInt decodes a script number of at most 4 bytes. Non-minimal
// encodings are accepted.
func readScriptInt(b []byte) (int64, bool) {
	if len(b) > 4 {
		return 0, false
	}
	if len(b) == 0 {
		return 0, true
	}
	var v int64
	for i, c := range b {
		v |= int64(c) << uint8(8*i)
	}
	if b[len(b)-1]&0x80 != 0 {
		v &= ^(int64(0x80) << uint8(8*(len(b)-1)))
		return -v, true
	}
	return v, true
}

// checkMinimalPush reports whether raw is the canonical encoding of a push of
// data.
func checkMinimalPush(raw, data []byte) error {
	canonical, err := txscript.NewScriptBuilder().AddData(data).Script()
	if err != nil {
		return scriptError(ErrMalformedScript, err.Error())
	}
	if !bytes.Equal(raw, canonical) {
		str := fmt.Sprintf("non-minimal push %x of %d bytes", raw,
			len(data))
		return scriptError(ErrMalformedScript, str)
	}
	return nil
}

// classifyPush builds the most specific token for a data push. A later
// OP_CAT may turn it back into a TokPush.
func classifyPush(data []byte) (Token, error) {
	switch len(data) {
	case 20:
		return Token{Kind: TokHash20, Data: data}, nil

	case 32:
		return Token{Kind: TokHash32, Data: data}, nil

	case secp256k1.PubKeyBytesLenCompressed,
		secp256k1.PubKeyBytesLenUncompressed:

		pubKey, err := btcec.ParsePubKey(data)
		if err != nil {
			str := fmt.Sprintf("push %x is not a valid public "+
				"key: %v", data, err)
			return Token{}, scriptError(ErrBadPubKey, str)
		}
		return Token{Kind: TokPubKey, Data: data, PubKey: pubKey}, nil
	}

	v, ok := readScriptInt(data)
	if !ok || v < 0 {
		return Token{Kind: TokPush, Data: data}, nil
	}
	if !bytes.Equal(scriptIntBytes(v), data) {
		str := fmt.Sprintf("number push %x is not minimally encoded",
			data)
		return Token{}, scriptError(ErrInvalidPush, str)
	}
	return Token{Kind: TokNum, Num: uint32(v)}, nil
}

// pushBytes returns the raw bytes a typed push token was lexed from.
func pushBytes(t Token) ([]byte, bool) {
	switch t.Kind {
	case TokHash20, TokHash32, TokPubKey, TokPush:
		return t.Data, true
	case TokNum:
		return scriptIntBytes(int64(t.Num)), true
	}
	return nil, false
}

// checkRawPush checks that data lexes back as itself when it is pushed in
// front of SWAP CAT, which is how outputs_pref uses its prefix.
func checkRawPush(data []byte) error {
	if len(data) == 0 {
		return scriptError(ErrInvalidPush, "empty outputs prefix")
	}
	script, err := txscript.NewScriptBuilder().AddData(data).Script()
	if err != nil {
		return scriptError(ErrInvalidPush, err.Error())
	}
	tokens, err := Lex(script)
	if err != nil {
		return err
	}
	if len(tokens) != 1 {
		return scriptError(ErrInvalidPush,
			fmt.Sprintf("prefix %x is not a single push", data))
	}
	lexed, ok := pushBytes(tokens[0])
	if !ok || !bytes.Equal(lexed, data) {
		str := fmt.Sprintf("prefix %x does not encode as a data push",
			data)
		return scriptError(ErrInvalidPush, str)
	}
	return nil
}

// Lex converts a script into its tokens, in script order. Callers usually
// consume them back to front with a TokenIter.
func Lex(script []byte) ([]Token, error) {
	tokens := make([]Token, 0, len(script))

	// A push followed by SWAP CAT is data, not a typed value.
	processCandidatePush := func() {
		n := len(tokens)
		if n < 2 || tokens[n-1].Kind != TokSwap {
			return
		}
		if data, ok := pushBytes(tokens[n-2]); ok {
			tokens[n-2] = Token{Kind: TokPush, Data: data}
		}
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	prevOffset := int32(0)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		offset := tokenizer.ByteIndex()
		raw := script[prevOffset:offset]
		prevOffset = offset

		switch {
		case op == txscript.OP_0:
			tokens = append(tokens, Token{Kind: TokNum, Num: 0})

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			n := uint32(op - (txscript.OP_1 - 1))
			tokens = append(tokens, Token{Kind: TokNum, Num: n})

		case op <= txscript.OP_PUSHDATA4:
			data := tokenizer.Data()
			if err := checkMinimalPush(raw, data); err != nil {
				return nil, err
			}

			n := len(tokens)
			if n > 0 && tokens[n-1].Kind == TokPick {
				var tok Token
				switch len(data) {
				case 4:
					tok = Token{
						Kind: TokPickPush4,
						Num: binary.LittleEndian.Uint32(
							data,
						),
					}
				case 32:
					tok = Token{Kind: TokPickPush32,
						Data: data}
				default:
					str := fmt.Sprintf("push of %d bytes "+
						"after OP_PICK", len(data))
					return nil, scriptError(
						ErrInvalidPush, str,
					)
				}
				tokens[n-1] = tok
				continue
			}

			tok, err := classifyPush(data)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)

		case op == txscript.OP_VERIFY:
			if n := len(tokens); n > 0 {
				switch last := tokens[n-1]; last.Kind {
				case TokEqual, TokCheckSig, TokCheckMultiSig:
					str := fmt.Sprintf("OP_VERIFY after %v "+
						"must use the VERIFY opcode",
						last.Kind)
					return nil, scriptError(
						ErrNonMinimalVerify, str,
					)
				}
			}
			tokens = append(tokens, Token{Kind: TokVerify})

		case op == txscript.OP_CAT:
			processCandidatePush()
			tokens = append(tokens, Token{Kind: TokCat})

		default:
			kinds, ok := simpleOps[op]
			if !ok {
				str := fmt.Sprintf("opcode %s has no "+
					"miniscript meaning", opName(op))
				return nil, scriptError(ErrInvalidOpcode, str)
			}
			for _, kind := range kinds {
				tokens = append(tokens, Token{Kind: kind})
			}
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, scriptError(ErrMalformedScript, err.Error())
	}

	log.Tracef("Lexed %d byte script into %d tokens", len(script),
		len(tokens))
	return tokens, nil
}

// opName returns the disassembled name of a single opcode.
func opName(op byte) string {
	name, err := txscript.DisasmString([]byte{op})
	if err != nil || name == "" {
		return "0x" + hex.EncodeToString([]byte{op})
	}
	return name
}

// verifyOps maps a token to its VERIFY opcode when followed by TokVerify.
var verifyOps = map[TokenKind]byte{
	TokEqual:         txscript.OP_EQUALVERIFY,
	TokCheckSig:      txscript.OP_CHECKSIGVERIFY,
	TokCheckMultiSig: txscript.OP_CHECKMULTISIGVERIFY,
}

// TokensToScript encodes tokens in script order. It is the inverse of Lex for
// every script Lex accepts.
func TokensToScript(tokens []Token) ([]byte, error) {
	opcodes := make(map[TokenKind]byte, len(simpleOps))
	for op, kinds := range simpleOps {
		if len(kinds) == 1 {
			opcodes[kinds[0]] = op
		}
	}

	b := txscript.NewScriptBuilder()
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]

		if op, ok := verifyOps[t.Kind]; ok && i+1 < len(tokens) &&
			tokens[i+1].Kind == TokVerify {

			b.AddOp(op)
			i++
			continue
		}

		switch t.Kind {
		case TokNum:
			b.AddInt64(int64(t.Num))

		case TokHash20, TokHash32, TokPubKey, TokPush:
			b.AddData(t.Data)

		case TokPickPush4:
			var data [4]byte
			binary.LittleEndian.PutUint32(data[:], t.Num)
			b.AddOp(txscript.OP_PICK)
			b.AddData(data[:])

		case TokPickPush32, TokPickPush:
			b.AddOp(txscript.OP_PICK)
			b.AddData(t.Data)

		default:
			op, ok := opcodes[t.Kind]
			if !ok {
				return nil, fmt.Errorf("cannot encode token %v",
					t)
			}
			b.AddOp(op)
		}
	}
	return b.Script()
}

// TokenIter hands out tokens from the back of a lexed script, which is the
// order the decoder reads them in.
type TokenIter struct {
	tokens []Token
}

// NewTokenIter returns an iterator over tokens in script order. The slice is
// used directly.
func NewTokenIter(tokens []Token) *TokenIter {
	return &TokenIter{tokens: tokens}
}

// Peek returns the next token without consuming it.
func (it *TokenIter) Peek() (Token, bool) {
	if len(it.tokens) == 0 {
		return Token{}, false
	}
	return it.tokens[len(it.tokens)-1], true
}

// PeekSlice returns the next n tokens in script order, so the next token to
// be consumed is the last one. ok is false if fewer than n tokens remain.
func (it *TokenIter) PeekSlice(n int) ([]Token, bool) {
	if n > len(it.tokens) {
		return nil, false
	}
	return it.tokens[len(it.tokens)-n:], true
}

// Next consumes the next token.
func (it *TokenIter) Next() (Token, bool) {
	t, ok := it.Peek()
	if ok {
		it.tokens = it.tokens[:len(it.tokens)-1]
	}
	return t, ok
}

// Advance consumes n tokens. Nothing is consumed if fewer than n remain.
func (it *TokenIter) Advance(n int) bool {
	if n > len(it.tokens) {
		return false
	}
	it.tokens = it.tokens[:len(it.tokens)-n]
	return true
}

// UnNext puts a token back. It is the next one returned.
func (it *TokenIter) UnNext(t Token) {
	it.tokens = append(it.tokens, t)
}

// Len returns the number of tokens left.
func (it *TokenIter) Len() int {
	return len(it.tokens)
}
