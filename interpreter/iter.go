package interpreter

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/miniscript/miniscript"
)

// nodeState is one pending fragment evaluation. evaluated counts the
// children (or multisig keys) already done and satisfied how many of them
// evaluated to true.
type nodeState struct {
	node      *miniscript.AST
	evaluated int
	satisfied int
}

// Iter walks a miniscript in script order, yielding one SatisfiedConstraint
// per satisfied fragment. Its use follows the bufio.Scanner pattern:
//
//	it := interp.Iter(verify)
//	for it.Next() {
//		c := it.Constraint()
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type Iter struct {
	stack    *Stack
	states   []nodeState
	verify   VerifyFunc
	cfg      Config
	covenant bool

	constraint *SatisfiedConstraint
	err        error
	done       bool
}

// Iter returns an iterator over the constraints the witness satisfies. Each
// iterator works on its own copy of the initial stack.
func (i *Interpreter) Iter(verify VerifyFunc) *Iter {
	it := &Iter{
		stack:    NewStack(i.Stack()),
		verify:   verify,
		cfg:      i.cfg,
		covenant: i.covenant,
	}
	it.push(i.script, 0, 0)
	return it
}

// Constraint returns the constraint found by the last call to Next.
func (it *Iter) Constraint() *SatisfiedConstraint {
	return it.constraint
}

// Err returns the error that stopped the iteration, if any.
func (it *Iter) Err() error {
	return it.err
}

// Stack returns the current stack.
func (it *Iter) Stack() *Stack {
	return it.stack
}

func (it *Iter) push(node *miniscript.AST, evaluated, satisfied int) {
	it.states = append(it.states, nodeState{
		node:      node,
		evaluated: evaluated,
		satisfied: satisfied,
	})
}

// Next advances to the next satisfied constraint. It returns false when the
// evaluation is complete or has failed, see Err.
func (it *Iter) Next() bool {
	if it.done {
		return false
	}
	for len(it.states) > 0 {
		state := it.states[len(it.states)-1]
		it.states = it.states[:len(it.states)-1]

		c, err := it.step(state)
		if err != nil {
			it.fail(err)
			return false
		}
		if c != nil {
			log.Tracef("Satisfied %v", c)
			it.constraint = c
			return true
		}
	}

	it.done = true
	it.constraint = nil
	if err := it.checkFinalStack(); err != nil {
		it.err = err
	}
	return false
}

func (it *Iter) fail(err error) {
	it.err = err
	it.done = true
	it.constraint = nil
}

// checkFinalStack requires a single Satisfied element, above the covenant
// fields when the script reads them.
func (it *Iter) checkFinalStack() error {
	want := 1
	if it.covenant {
		want += numCovenantFields
	}
	top, ok := it.stack.Last()
	if it.stack.Len() != want || !ok || top.Kind != ElemSatisfied {
		str := fmt.Sprintf("evaluation ended with %d stack elements "+
			"%v, expected %d with Satisfied on top", it.stack.Len(),
			it.stack.elems, want)
		return evalError(ErrScriptSatisfaction, str)
	}
	return nil
}

// popBool pops the boolean result of a child fragment.
func (it *Iter) popBool(node *miniscript.AST) (bool, error) {
	e, err := it.stack.popElem()
	if err != nil {
		return false, err
	}
	switch e.Kind {
	case ElemSatisfied:
		return true, nil
	case ElemDissatisfied:
		return false, nil
	}
	str := fmt.Sprintf("%v in boolean position of %s", e, node.Fragment())
	return false, evalError(ErrCouldNotEvaluate, str)
}

func pushBool(s *Stack, b bool) {
	if b {
		s.Push(Satisfied)
	} else {
		s.Push(Dissatisfied)
	}
}

// parseKey parses a key argument. Decoded scripts only hold valid keys.
func parseKey(key []byte) (*btcec.PublicKey, error) {
	pubKey, err := btcec.ParsePubKey(key)
	if err != nil {
		return nil, Error{
			ErrorCode:   ErrPubKeyParse,
			Description: fmt.Sprintf("key %x", key),
			Err:         err,
		}
	}
	return pubKey, nil
}

var hashLockTypes = map[string]HashLockType{
	miniscript.FragSha256:    Sha256,
	miniscript.FragHash256:   Hash256,
	miniscript.FragRipemd160: Ripemd160,
	miniscript.FragHash160:   Hash160,
}

// step performs one evaluation step. Leaf fragments may return a
// constraint. Combinators pop the results of their children and schedule
// the next child.
func (it *Iter) step(st nodeState) (*SatisfiedConstraint, error) {
	node, s := st.node, it.stack

	switch node.Fragment() {
	case miniscript.FragFalse:
		s.Push(Dissatisfied)

	case miniscript.FragTrue:
		s.Push(Satisfied)

	case miniscript.FragPkK:
		pubKey, err := parseKey(node.PubKeys()[0])
		if err != nil {
			return nil, err
		}
		return s.EvaluatePk(it.verify, pubKey)

	case miniscript.FragPkH:
		return s.EvaluatePkh(it.verify, node.KeyHash())

	case miniscript.FragAfter:
		return s.EvaluateAfter(uint32(node.Num()), it.cfg.LockTime)

	case miniscript.FragOlder:
		return s.EvaluateOlder(uint32(node.Num()), it.cfg.Age)

	case miniscript.FragSha256, miniscript.FragHash256,
		miniscript.FragRipemd160, miniscript.FragHash160:

		return s.EvaluateHashLock(
			hashLockTypes[node.Fragment()], node.Hash(),
		)

	case miniscript.FragVerEq:
		return s.EvaluateVerEq(uint32(node.Num()), it.cfg.Layout)

	case miniscript.FragOutputsPref:
		return s.EvaluateOutputsPref(node.Hash(), it.cfg.Layout)

	// These wrappers only move or normalize the child's result, and the
	// combinators above them keep results in their state.
	case miniscript.FragAlt, miniscript.FragSwap, miniscript.FragCheck,
		miniscript.FragZeroNotEq:

		it.push(node.Subs()[0], 0, 0)

	case miniscript.FragDupIf:
		if st.evaluated == 1 {
			s.Push(Satisfied)
			break
		}
		b, err := it.popBool(node)
		if err != nil {
			return nil, err
		}
		if !b {
			s.Push(Dissatisfied)
			break
		}
		it.push(node, 1, 0)
		it.push(node.Subs()[0], 0, 0)

	case miniscript.FragVerify:
		if st.evaluated == 0 {
			it.push(node, 1, 0)
			it.push(node.Subs()[0], 0, 0)
			break
		}
		b, err := it.popBool(node)
		if err != nil {
			return nil, err
		}
		if !b {
			str := fmt.Sprintf("verify of %v failed",
				node.Subs()[0])
			return nil, evalError(ErrVerifyFailed, str)
		}

	case miniscript.FragNonZero:
		if st.evaluated == 1 {
			break
		}
		top, ok := s.Last()
		if !ok {
			return nil, evalError(ErrUnexpectedStackEnd,
				"stack is empty")
		}
		if top.Kind != ElemDissatisfied {
			it.push(node, 1, 0)
			it.push(node.Subs()[0], 0, 0)
		}

	case miniscript.FragAndV:
		subs := node.Subs()
		it.push(subs[1], 0, 0)
		it.push(subs[0], 0, 0)

	case miniscript.FragAndB, miniscript.FragOrB:
		return nil, it.stepBool(st)

	case miniscript.FragOrC, miniscript.FragOrD, miniscript.FragAndOr:
		return nil, it.stepBranch(st)

	case miniscript.FragOrI:
		b, err := it.popBool(node)
		if err != nil {
			return nil, err
		}
		if b {
			it.push(node.Subs()[0], 0, 0)
		} else {
			it.push(node.Subs()[1], 0, 0)
		}

	case miniscript.FragThresh:
		subs := node.Subs()
		satisfied := st.satisfied
		if st.evaluated > 0 {
			b, err := it.popBool(node)
			if err != nil {
				return nil, err
			}
			if b {
				satisfied++
			}
		}
		if st.evaluated < len(subs) {
			it.push(node, st.evaluated+1, satisfied)
			it.push(subs[st.evaluated], 0, 0)
			break
		}
		pushBool(s, satisfied == int(node.Num()))

	case miniscript.FragMulti:
		return it.stepMulti(st)

	default:
		str := fmt.Sprintf("cannot evaluate fragment %s",
			node.Fragment())
		return nil, evalError(ErrCouldNotEvaluate, str)
	}
	return nil, nil
}

// stepBool evaluates and_b and or_b: both children run, then their results
// are combined.
func (it *Iter) stepBool(st nodeState) error {
	node, subs := st.node, st.node.Subs()
	switch st.evaluated {
	case 0:
		it.push(node, 1, 0)
		it.push(subs[0], 0, 0)
		return nil

	case 1:
		b, err := it.popBool(node)
		if err != nil {
			return err
		}
		satisfied := 0
		if b {
			satisfied = 1
		}
		it.push(node, 2, satisfied)
		it.push(subs[1], 0, 0)
		return nil
	}

	b, err := it.popBool(node)
	if err != nil {
		return err
	}
	satisfied := st.satisfied
	if b {
		satisfied++
	}
	if node.Fragment() == miniscript.FragAndB {
		pushBool(it.stack, satisfied == 2)
	} else {
		pushBool(it.stack, satisfied > 0)
	}
	return nil
}

// stepBranch evaluates or_c, or_d and andor, whose first child decides which
// branch runs next.
func (it *Iter) stepBranch(st nodeState) error {
	node, subs := st.node, st.node.Subs()
	if st.evaluated == 0 {
		it.push(node, 1, 0)
		it.push(subs[0], 0, 0)
		return nil
	}

	b, err := it.popBool(node)
	if err != nil {
		return err
	}
	switch node.Fragment() {
	case miniscript.FragOrC:
		if !b {
			it.push(subs[1], 0, 0)
		}

	case miniscript.FragOrD:
		if b {
			it.stack.Push(Satisfied)
		} else {
			it.push(subs[1], 0, 0)
		}

	default:
		if b {
			it.push(subs[1], 0, 0)
		} else {
			it.push(subs[2], 0, 0)
		}
	}
	return nil
}

// stepMulti evaluates `<k> <keys...> <n> CHECKMULTISIG`. Signatures are
// matched greedily from the top of the stack against the keys from the last
// one down, so they must appear in key order. Below the k signatures there
// must be the empty dummy element.
func (it *Iter) stepMulti(st nodeState) (*SatisfiedConstraint, error) {
	node, s := st.node, it.stack
	k := int(node.Num())
	keys := node.PubKeys()

	if st.evaluated == 0 && st.satisfied == 0 {
		if s.Len() < k+1 {
			str := fmt.Sprintf("multi needs %d elements, stack has "+
				"%d", k+1, s.Len())
			return nil, evalError(ErrUnexpectedStackEnd, str)
		}
		dissatisfied := true
		for _, e := range s.elems[s.Len()-k-1:] {
			if e.Kind != ElemDissatisfied {
				dissatisfied = false
				break
			}
		}
		if dissatisfied {
			s.SplitOff(s.Len() - k - 1)
			s.Push(Dissatisfied)
			return nil, nil
		}
	}

	if st.satisfied == k {
		dummy, err := s.popElem()
		if err != nil {
			return nil, err
		}
		if dummy.Kind != ElemDissatisfied {
			str := fmt.Sprintf("multisig dummy element is %v", dummy)
			return nil, evalError(ErrMultiSigEvaluation, str)
		}
		s.Push(Satisfied)
		return nil, nil
	}
	if st.evaluated == len(keys) {
		str := fmt.Sprintf("multi found %d of %d signatures",
			st.satisfied, k)
		return nil, evalError(ErrMultiSigEvaluation, str)
	}

	pubKey, err := parseKey(keys[len(keys)-1-st.evaluated])
	if err != nil {
		return nil, err
	}
	c, err := s.EvaluateMulti(it.verify, pubKey)
	if err != nil {
		return nil, err
	}
	satisfied := st.satisfied
	if c != nil {
		satisfied++
	}
	it.push(node, st.evaluated+1, satisfied)
	return c, nil
}
