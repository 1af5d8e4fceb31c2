package miniscript

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
)

// nonTerm is a pending parser action. The decoder reads the tokens back to
// front, so the innermost fragments at the end of the script are reduced
// first.
type nonTerm uint8

const (
	ntExpression nonTerm = iota
	ntWExpression
	ntMaybeSwap
	ntMaybeAndV
	ntAlt
	ntCheck
	ntDupIf
	ntVerify
	ntNonZero
	ntZeroNotEqual
	ntAndV
	ntAndB
	ntOrB
	ntOrC
	ntOrD
	ntTern
	ntThreshW
	ntThreshE
	ntEndIf
	ntEndIfElse
)

// parseState is a nonTerm with the counters of a threshold.
type parseState struct {
	nt nonTerm

	// n is the number of subs seen and k the threshold, for ntThreshW
	// and ntThreshE.
	n, k uint32
}

// pattern matches one token. num is only checked for TokNum when non-negative.
type pattern struct {
	kind TokenKind
	num  int64
}

func tok(kind TokenKind) pattern {
	return pattern{kind: kind, num: -1}
}

func num(n int64) pattern {
	return pattern{kind: TokNum, num: n}
}

type decoder struct {
	tokens   *TokenIter
	nonTerms []parseState
	terms    []*AST
}

func (d *decoder) push(states ...parseState) {
	d.nonTerms = append(d.nonTerms, states...)
}

func (d *decoder) pushNT(nts ...nonTerm) {
	for _, nt := range nts {
		d.nonTerms = append(d.nonTerms, parseState{nt: nt})
	}
}

func (d *decoder) next() (Token, error) {
	t, ok := d.tokens.Next()
	if !ok {
		return Token{}, scriptError(ErrUnexpectedEnd,
			"unexpected start of script")
	}
	return t, nil
}

// expect consumes tokens matching the patterns in order.
func (d *decoder) expect(patterns ...pattern) ([]Token, error) {
	matched := make([]Token, 0, len(patterns))
	for _, p := range patterns {
		t, err := d.next()
		if err != nil {
			return nil, err
		}
		if t.Kind != p.kind || (p.kind == TokNum && p.num >= 0 &&
			int64(t.Num) != p.num) {

			return nil, unexpected(t)
		}
		matched = append(matched, t)
	}
	return matched, nil
}

func unexpected(t Token) error {
	return scriptError(ErrUnexpectedToken,
		fmt.Sprintf("unexpected token %v", t))
}

// hashSuffix is the `SIZE <32> EQUALVERIFY` part of a hash fragment.
var hashSuffix = []pattern{tok(TokVerify), tok(TokEqual), num(32),
	tok(TokSize)}

func (d *decoder) reduce0(node *AST) {
	d.terms = append(d.terms, node)
}

func (d *decoder) pop() (*AST, error) {
	if len(d.terms) == 0 {
		return nil, scriptError(ErrUnexpectedToken,
			"fragment is missing a sub-expression")
	}
	node := d.terms[len(d.terms)-1]
	d.terms = d.terms[:len(d.terms)-1]
	return node, nil
}

func (d *decoder) reduce1(identifier string) error {
	x, err := d.pop()
	if err != nil {
		return err
	}
	d.reduce0(&AST{identifier: identifier, args: []*AST{x}})
	return nil
}

// reduce2 combines the last two terms. The most recently reduced term is the
// left one in the script.
func (d *decoder) reduce2(identifier string) error {
	left, err := d.pop()
	if err != nil {
		return err
	}
	right, err := d.pop()
	if err != nil {
		return err
	}
	d.reduce0(&AST{identifier: identifier, args: []*AST{left, right}})
	return nil
}

// reduce3 builds andor(X,Y,Z) from the terms of `X NOTIF Z ELSE Y ENDIF`.
func (d *decoder) reduce3() error {
	x, err := d.pop()
	if err != nil {
		return err
	}
	z, err := d.pop()
	if err != nil {
		return err
	}
	y, err := d.pop()
	if err != nil {
		return err
	}
	d.reduce0(&AST{identifier: f_andor, args: []*AST{x, y, z}})
	return nil
}

// leaf builds a fragment with value arguments.
func leaf(identifier string, args ...*AST) *AST {
	return &AST{identifier: identifier, args: args}
}

func numArg(n uint32) *AST {
	return &AST{identifier: strconv.FormatUint(uint64(n), 10),
		num: uint64(n)}
}

func dataArg(data []byte) *AST {
	return &AST{identifier: hex.EncodeToString(data), value: data}
}

// isAndV reports whether the next token can end the left side of an and_v.
func (d *decoder) isAndV() bool {
	t, ok := d.tokens.Peek()
	if !ok {
		return false
	}
	switch t.Kind {
	case TokIf, TokNotIf, TokElse, TokToAltStack, TokSwap:
		return false
	}
	return true
}

// isPkH reports whether the next tokens are `DUP HASH160 <20> EQUAL`, the
// body of pk_h in front of its VERIFY.
func (d *decoder) isPkH() bool {
	s, ok := d.tokens.PeekSlice(4)
	if !ok {
		return false
	}
	return s[0].Kind == TokDup && s[1].Kind == TokHash160 &&
		s[2].Kind == TokHash20 && s[3].Kind == TokEqual
}

// expression decodes the fragment that ends at the current token.
func (d *decoder) expression() error {
	t, err := d.next()
	if err != nil {
		return err
	}

	switch t.Kind {
	case TokPubKey:
		d.reduce0(leaf(f_pk_k, dataArg(t.Data)))

	case TokCheckSig:
		d.pushNT(ntCheck, ntExpression)

	case TokVerify:
		if d.isPkH() {
			s, _ := d.expect(tok(TokEqual), tok(TokHash20),
				tok(TokHash160), tok(TokDup))
			d.reduce0(leaf(f_pk_h, dataArg(s[1].Data)))
			return nil
		}
		d.pushNT(ntVerify, ntExpression)

	case TokZeroNotEqual:
		d.pushNT(ntZeroNotEqual, ntExpression)

	case TokCheckSequenceVerify, TokCheckLockTimeVerify:
		s, err := d.expect(num(-1))
		if err != nil {
			return err
		}
		identifier := f_older
		if t.Kind == TokCheckLockTimeVerify {
			identifier = f_after
		}
		d.reduce0(leaf(identifier, numArg(s[0].Num)))

	case TokEqual:
		return d.equal()

	case TokNum:
		switch t.Num {
		case 0:
			d.reduce0(leaf(f_0))
		case 1:
			d.reduce0(leaf(f_1))
		default:
			return unexpected(t)
		}

	case TokEndIf:
		d.pushNT(ntEndIf, ntMaybeAndV, ntExpression)

	case TokBoolAnd:
		d.pushNT(ntAndB, ntExpression, ntWExpression)

	case TokBoolOr:
		d.pushNT(ntOrB, ntExpression, ntWExpression)

	case TokCheckMultiSig:
		return d.multi()

	default:
		return unexpected(t)
	}
	return nil
}

// equal decodes the fragments ending in OP_EQUAL: hash locks, thresh and the
// covenant fragments.
func (d *decoder) equal() error {
	t, err := d.next()
	if err != nil {
		return err
	}

	hashLock := func(data []byte, ops map[TokenKind]string) error {
		op, err := d.next()
		if err != nil {
			return err
		}
		identifier, ok := ops[op.Kind]
		if !ok {
			return unexpected(op)
		}
		if _, err := d.expect(hashSuffix...); err != nil {
			return err
		}
		d.reduce0(leaf(identifier, dataArg(data)))
		return nil
	}

	switch t.Kind {
	case TokHash32:
		return hashLock(t.Data, map[TokenKind]string{
			TokSha256:  f_sha256,
			TokHash256: f_hash256,
		})

	case TokHash20:
		return hashLock(t.Data, map[TokenKind]string{
			TokRipemd160: f_ripemd160,
			TokHash160:   f_hash160,
		})

	case TokNum:
		d.push(parseState{nt: ntThreshW, k: t.Num})

	case TokPickPush4:
		_, err := d.expect(tok(TokSub), num(VersionDepthOffset),
			tok(TokDepth))
		if err != nil {
			return err
		}
		d.reduce0(leaf(f_ver_eq, numArg(t.Num)))

	case TokPick:
		s, err := d.expect(tok(TokSub), num(OutputsDepthOffset),
			tok(TokDepth), tok(TokHash256), tok(TokCat),
			tok(TokSwap), tok(TokPush))
		if err != nil {
			return err
		}
		for i := 0; i < MaxOutputsPrefElems-1; i++ {
			if _, err := d.expect(tok(TokCat)); err != nil {
				return err
			}
		}
		d.reduce0(leaf(f_outputs_pref, dataArg(s[6].Data)))

	default:
		return unexpected(t)
	}
	return nil
}

// multi decodes `k <key>... n CHECKMULTISIG`.
func (d *decoder) multi() error {
	s, err := d.expect(num(-1))
	if err != nil {
		return err
	}
	n := s[0].Num
	if n > multisigMaxKeys {
		str := fmt.Sprintf("multisig with %d keys, the maximum is %d",
			n, multisigMaxKeys)
		return scriptError(ErrTooManyKeys, str)
	}
	keys := make([]*AST, n)
	for i := int(n) - 1; i >= 0; i-- {
		s, err := d.expect(tok(TokPubKey))
		if err != nil {
			return err
		}
		keys[i] = dataArg(s[0].Data)
	}
	s, err = d.expect(num(-1))
	if err != nil {
		return err
	}
	args := append([]*AST{numArg(s[0].Num)}, keys...)
	d.reduce0(leaf(f_multi, args...))
	return nil
}

func (d *decoder) step(state parseState) error {
	switch state.nt {
	case ntExpression:
		return d.expression()

	case ntWExpression:
		t, err := d.next()
		if err != nil {
			return err
		}
		if t.Kind == TokFromAltStack {
			d.pushNT(ntAlt, ntMaybeAndV, ntExpression)
			return nil
		}
		d.tokens.UnNext(t)
		d.pushNT(ntMaybeSwap, ntExpression)

	case ntMaybeAndV:
		if d.isAndV() {
			d.pushNT(ntAndV, ntExpression)
		}

	case ntMaybeSwap:
		if t, ok := d.tokens.Peek(); ok && t.Kind == TokSwap {
			d.tokens.Next()
			return d.reduce1(f_wrap_s)
		}

	case ntAlt:
		if _, err := d.expect(tok(TokToAltStack)); err != nil {
			return err
		}
		return d.reduce1(f_wrap_a)

	case ntCheck:
		return d.reduce1(f_wrap_c)

	case ntDupIf:
		return d.reduce1(f_wrap_d)

	case ntVerify:
		return d.reduce1(f_wrap_v)

	case ntNonZero:
		return d.reduce1(f_wrap_j)

	case ntZeroNotEqual:
		return d.reduce1(f_wrap_n)

	case ntAndV:
		// and_v chains nest to the right: A B C is
		// and_v(A,and_v(B,C)).
		if err := d.reduce2(f_and_v); err != nil {
			return err
		}
		if d.isAndV() {
			d.pushNT(ntAndV, ntExpression)
		}

	case ntAndB:
		return d.reduce2(f_and_b)

	case ntOrB:
		return d.reduce2(f_or_b)

	case ntOrC:
		return d.reduce2(f_or_c)

	case ntOrD:
		return d.reduce2(f_or_d)

	case ntTern:
		return d.reduce3()

	case ntThreshW:
		t, err := d.next()
		if err != nil {
			return err
		}
		if t.Kind == TokAdd {
			d.push(
				parseState{nt: ntThreshW, n: state.n + 1,
					k: state.k},
				parseState{nt: ntWExpression},
			)
			return nil
		}
		d.tokens.UnNext(t)
		d.push(
			parseState{nt: ntThreshE, n: state.n + 1, k: state.k},
			parseState{nt: ntExpression},
		)

	case ntThreshE:
		subs := make([]*AST, 0, state.n+1)
		subs = append(subs, numArg(state.k))
		for i := uint32(0); i < state.n; i++ {
			sub, err := d.pop()
			if err != nil {
				return err
			}
			subs = append(subs, sub)
		}
		d.reduce0(leaf(f_thresh, subs...))

	case ntEndIf:
		t, err := d.next()
		if err != nil {
			return err
		}
		switch t.Kind {
		case TokElse:
			d.pushNT(ntEndIfElse, ntMaybeAndV, ntExpression)

		case TokIf:
			t, err := d.next()
			if err != nil {
				return err
			}
			switch t.Kind {
			case TokDup:
				d.pushNT(ntDupIf)
			case TokZeroNotEqual:
				if _, err := d.expect(tok(TokSize)); err != nil {
					return err
				}
				d.pushNT(ntNonZero)
			default:
				return unexpected(t)
			}

		case TokNotIf:
			t, ok := d.tokens.Peek()
			if ok && t.Kind == TokIfDup {
				d.tokens.Next()
				d.pushNT(ntOrD, ntExpression)
				return nil
			}
			d.pushNT(ntOrC, ntExpression)

		default:
			return unexpected(t)
		}

	case ntEndIfElse:
		t, err := d.next()
		if err != nil {
			return err
		}
		switch t.Kind {
		case TokIf:
			return d.reduce2(f_or_i)
		case TokNotIf:
			d.pushNT(ntTern, ntExpression)
		default:
			return unexpected(t)
		}

	default:
		return fmt.Errorf("unknown parser state %d", state.nt)
	}
	return nil
}

// parse runs the decoder until the top level fragment is complete.
func parse(tokens *TokenIter) (*AST, error) {
	d := &decoder{tokens: tokens}
	d.pushNT(ntMaybeAndV, ntMaybeSwap, ntExpression)
	for len(d.nonTerms) > 0 {
		state := d.nonTerms[len(d.nonTerms)-1]
		d.nonTerms = d.nonTerms[:len(d.nonTerms)-1]
		if err := d.step(state); err != nil {
			return nil, err
		}
	}
	if tokens.Len() != 0 {
		str := fmt.Sprintf("%d tokens left after the top level "+
			"fragment", tokens.Len())
		return nil, scriptError(ErrTrailingTokens, str)
	}
	if len(d.terms) != 1 {
		return nil, scriptError(ErrUnexpectedToken,
			"script does not decode to a single fragment")
	}
	return d.terms[0], nil
}

// Decode parses a script into a miniscript for the given context. The result
// is type checked and its keys and hashes are resolved. Only scripts that
// encode back to exactly the same bytes are accepted.
func Decode(script []byte, ctx ScriptContext) (*AST, error) {
	tokens, err := Lex(script)
	if err != nil {
		return nil, err
	}
	node, err := parse(NewTokenIter(tokens))
	if err != nil {
		return nil, err
	}

	node, err = node.apply(argCheck)
	if err != nil {
		return nil, err
	}
	node, err = node.finalize(ctx)
	if err != nil {
		return nil, err
	}
	if err := node.ApplyVars(nil); err != nil {
		return nil, err
	}

	encoded, err := node.Script()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(encoded, script) {
		str := fmt.Sprintf("script %x decodes to %v, which encodes "+
			"to %x", script, node, encoded)
		return nil, scriptError(ErrNonCanonical, str)
	}
	log.Debugf("Decoded %d byte %v script to %v", len(script), ctx, node)
	return node, nil
}
