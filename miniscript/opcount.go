package miniscript

import "fmt"

// maxInt is an optional non-negative integer. An invalid maxInt means the
// quantity does not exist, e.g. the dissatisfaction of a `v:` fragment.
type maxInt struct {
	valid bool
	value int
}

func validInt(v int) maxInt {
	return maxInt{valid: true, value: v}
}

// and is the sum of both quantities, invalid if either is.
func (m maxInt) and(b maxInt) maxInt {
	if !m.valid || !b.valid {
		return maxInt{}
	}
	return validInt(m.value + b.value)
}

// or is the larger of both quantities, ignoring an invalid one.
func (m maxInt) or(b maxInt) maxInt {
	switch {
	case !m.valid:
		return b
	case !b.valid, m.value >= b.value:
		return m
	}
	return b
}

// maxSum is a worst case quantity: and adds the costs of two parts spent
// together, or keeps the larger of two alternatives.
type maxSum[T any] interface {
	and(T) T
	or(T) T
}

// threshMax returns the worst case of a thresh spend with exactly k of the
// subs satisfied and the others dissatisfied. sat and dsat hold the cost of
// each sub. empty is the cost of spending nothing and none is an impossible
// spend.
func threshMax[T maxSum[T]](k int, sat, dsat []T, empty, none T) T {
	// best[j] is the worst case with j of the subs seen so far
	// satisfied.
	best := []T{empty}
	for i := range sat {
		next := make([]T, len(best)+1)
		for j := range next {
			v := none
			if j < len(best) {
				v = best[j].and(dsat[i])
			}
			if j > 0 {
				v = v.or(best[j-1].and(sat[i]))
			}
			next[j] = v
		}
		best = next
	}
	if k < 0 || k >= len(best) {
		return none
	}
	return best[k]
}

type ops struct {
	// count is the number of non-push opcodes.
	count int

	// dsat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to dissatisfy.
	dsat maxInt

	// sat is the number of keys in possibly executed
	// OP_CHECKMULTISIG(VERIFY)s to satisfy.
	sat maxInt
}

// leafOps returns the op count of a fragment without sub-expressions.
func leafOps(node *AST) (ops, bool) {
	zero, none := validInt(0), maxInt{}
	switch node.identifier {
	case f_0:
		return ops{0, zero, none}, true
	case f_1:
		return ops{0, none, zero}, true
	case f_pk_k:
		return ops{0, zero, zero}, true
	case f_pk_h:
		// DUP HASH160 EQUALVERIFY
		return ops{3, zero, zero}, true
	case f_older, f_after:
		return ops{1, none, zero}, true
	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		// SIZE EQUALVERIFY <hash> EQUAL
		return ops{4, zero, zero}, true
	case f_ver_eq:
		// DEPTH SUB PICK EQUAL
		return ops{4, none, zero}, true
	case f_outputs_pref:
		// CAT*6 SWAP CAT HASH256 DEPTH SUB PICK EQUAL
		return ops{MaxOutputsPrefElems - 1 + 7, zero, zero}, true
	case f_multi:
		n := validInt(len(node.args) - 1)
		return ops{1, n, n}, true
	}
	return ops{}, false
}

func computeOpCount(node *AST) (*AST, error) {
	if leaf, ok := leafOps(node); ok {
		node.opCount = leaf
		return node, nil
	}

	sub := func(i int) ops {
		return node.args[i].opCount
	}
	none := maxInt{}

	switch node.identifier {
	case f_andor:
		x, y, z := sub(0), sub(1), sub(2)
		node.opCount = ops{
			count: 3 + x.count + y.count + z.count,
			dsat:  x.dsat.and(z.dsat),
			sat:   x.sat.and(y.sat).or(x.dsat.and(z.sat)),
		}

	case f_and_v:
		x, y := sub(0), sub(1)
		node.opCount = ops{x.count + y.count, none, x.sat.and(y.sat)}

	case f_and_b:
		x, y := sub(0), sub(1)
		node.opCount = ops{
			count: 1 + x.count + y.count,
			dsat:  x.dsat.and(y.dsat),
			sat:   x.sat.and(y.sat),
		}

	case f_or_b:
		x, z := sub(0), sub(1)
		node.opCount = ops{
			count: 1 + x.count + z.count,
			dsat:  x.dsat.and(z.dsat),
			sat:   x.sat.and(z.dsat).or(x.dsat.and(z.sat)),
		}

	case f_or_c:
		x, z := sub(0), sub(1)
		node.opCount = ops{
			count: 2 + x.count + z.count,
			dsat:  none,
			sat:   x.sat.or(x.dsat.and(z.sat)),
		}

	case f_or_d:
		x, z := sub(0), sub(1)
		node.opCount = ops{
			count: 3 + x.count + z.count,
			dsat:  x.dsat.and(z.dsat),
			sat:   x.sat.or(x.dsat.and(z.sat)),
		}

	case f_or_i:
		x, z := sub(0), sub(1)
		node.opCount = ops{
			count: 3 + x.count + z.count,
			dsat:  x.dsat.or(z.dsat),
			sat:   x.sat.or(z.sat),
		}

	case f_thresh:
		// One OP_ADD per sub except the first, plus the final
		// EQUAL(VERIFY).
		subs := node.args[1:]
		count := 0
		dsat := validInt(0)
		sats := make([]maxInt, len(subs))
		dsats := make([]maxInt, len(subs))
		for i, arg := range subs {
			count += arg.opCount.count + 1
			dsat = dsat.and(arg.opCount.dsat)
			sats[i], dsats[i] = arg.opCount.sat, arg.opCount.dsat
		}
		k := int(node.args[0].num)
		sat := threshMax(k, sats, dsats, validInt(0), none)
		node.opCount = ops{count, dsat, sat}

	case f_wrap_a:
		// TOALTSTACK FROMALTSTACK
		x := sub(0)
		node.opCount = ops{2 + x.count, x.dsat, x.sat}

	case f_wrap_s, f_wrap_c, f_wrap_n:
		x := sub(0)
		node.opCount = ops{1 + x.count, x.dsat, x.sat}

	case f_wrap_d:
		// DUP IF ENDIF
		x := sub(0)
		node.opCount = ops{3 + x.count, validInt(0), x.sat}

	case f_wrap_v:
		x := sub(0)
		count := x.count
		if !node.args[0].props.canCollapseVerify {
			count++
		}
		node.opCount = ops{count, none, x.sat}

	case f_wrap_j:
		// SIZE 0NOTEQUAL IF ENDIF
		x := sub(0)
		node.opCount = ops{4 + x.count, validInt(0), x.sat}

	default:
		return nil, fmt.Errorf("unknown identifier: %s",
			node.identifier)
	}

	return node, nil
}
