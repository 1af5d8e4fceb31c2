package miniscript

import "fmt"

const (
	// maxSigSize is a DER signature with the sighash byte and its
	// length prefix.
	maxSigSize = 1 + 72

	// hashPreimageSize is a 32 byte preimage with its length prefix.
	hashPreimageSize = 1 + 32
)

// sizes are the worst case sizes of one way (satisfying or dissatisfying) of
// spending a fragment.
type sizes struct {
	// witness is the serialized size of the witness elements, including
	// each element's length prefix.
	witness maxInt

	// scriptSig is the size of the same elements as data pushes.
	scriptSig maxInt

	// elems is the number of stack elements.
	elems maxInt
}

func validSizes(witness, scriptSig, elems int) sizes {
	return sizes{validInt(witness), validInt(scriptSig), validInt(elems)}
}

func (s sizes) and(b sizes) sizes {
	return sizes{
		s.witness.and(b.witness),
		s.scriptSig.and(b.scriptSig),
		s.elems.and(b.elems),
	}
}

func (s sizes) or(b sizes) sizes {
	return sizes{
		s.witness.or(b.witness),
		s.scriptSig.or(b.scriptSig),
		s.elems.or(b.elems),
	}
}

type extData struct {
	sat, dsat sizes
}

var (
	// pushZero is the empty element, OP_0 in a scriptSig.
	pushZero = validSizes(1, 1, 1)

	// pushOne is the element 0x01, OP_1 in a scriptSig.
	pushOne = validSizes(2, 1, 1)
)

// keyElemSize is the size of a key witness element. A pk_h whose key is not
// known is assumed to use a compressed key.
func keyElemSize(value []byte) int {
	if len(value) == 65 {
		return 1 + 65
	}
	return pubKeyDataPushLen
}

// computeExtData computes the worst case satisfaction and dissatisfaction
// sizes, as used for fee estimation and the standardness limits.
func computeExtData(node *AST) (*AST, error) {
	invalid := sizes{}
	empty := validSizes(0, 0, 0)

	switch node.identifier {
	case f_0:
		node.ext = extData{sat: invalid, dsat: empty}

	case f_1:
		node.ext = extData{sat: empty, dsat: invalid}

	case f_pk_k:
		node.ext = extData{
			sat:  validSizes(maxSigSize, maxSigSize, 1),
			dsat: pushZero,
		}

	case f_pk_h:
		keyLen := keyElemSize(node.args[0].value)
		node.ext = extData{
			sat: validSizes(
				maxSigSize+keyLen, maxSigSize+keyLen, 2,
			),
			dsat: validSizes(1+keyLen, 1+keyLen, 2),
		}

	case f_older, f_after, f_ver_eq:
		node.ext = extData{sat: empty, dsat: invalid}

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		preimage := validSizes(hashPreimageSize, hashPreimageSize, 1)
		node.ext = extData{sat: preimage, dsat: preimage}

	case f_outputs_pref:
		// A full suffix element needs OP_PUSHDATA1 in a scriptSig.
		n := MaxOutputsPrefElems
		node.ext = extData{
			sat: validSizes(
				n*(1+maxStandardWitnessItemSize),
				n*(2+maxStandardWitnessItemSize), n,
			),
			dsat: validSizes(n, n, n),
		}

	case f_andor:
		x, y, z := node.args[0].ext, node.args[1].ext, node.args[2].ext
		node.ext = extData{
			sat:  y.sat.and(x.sat).or(z.sat.and(x.dsat)),
			dsat: z.dsat.and(x.dsat),
		}

	case f_and_v:
		x, y := node.args[0].ext, node.args[1].ext
		node.ext = extData{
			sat:  x.sat.and(y.sat),
			dsat: x.sat.and(y.dsat),
		}

	case f_and_b:
		x, y := node.args[0].ext, node.args[1].ext
		node.ext = extData{
			sat:  x.sat.and(y.sat),
			dsat: x.dsat.and(y.dsat),
		}

	case f_or_b:
		x, z := node.args[0].ext, node.args[1].ext
		node.ext = extData{
			sat:  x.sat.and(z.dsat).or(x.dsat.and(z.sat)),
			dsat: x.dsat.and(z.dsat),
		}

	case f_or_c:
		x, z := node.args[0].ext, node.args[1].ext
		node.ext = extData{
			sat:  x.sat.or(x.dsat.and(z.sat)),
			dsat: invalid,
		}

	case f_or_d:
		x, z := node.args[0].ext, node.args[1].ext
		node.ext = extData{
			sat:  x.sat.or(x.dsat.and(z.sat)),
			dsat: x.dsat.and(z.dsat),
		}

	case f_or_i:
		x, z := node.args[0].ext, node.args[1].ext
		node.ext = extData{
			sat:  x.sat.and(pushOne).or(z.sat.and(pushZero)),
			dsat: x.dsat.and(pushOne).or(z.dsat.and(pushZero)),
		}

	case f_thresh:
		subs := node.args[1:]
		dsat := empty
		sats := make([]sizes, len(subs))
		dsats := make([]sizes, len(subs))
		for i, sub := range subs {
			dsat = dsat.and(sub.ext.dsat)
			sats[i], dsats[i] = sub.ext.sat, sub.ext.dsat
		}
		k := int(node.args[0].num)
		node.ext = extData{
			sat:  threshMax(k, sats, dsats, empty, invalid),
			dsat: dsat,
		}

	case f_multi:
		k := int(node.args[0].num)
		node.ext = extData{
			sat: validSizes(
				1+k*maxSigSize, 1+k*maxSigSize, k+1,
			),
			dsat: validSizes(k+1, k+1, k+1),
		}

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		node.ext = node.args[0].ext

	case f_wrap_d:
		node.ext = extData{
			sat:  node.args[0].ext.sat.and(pushOne),
			dsat: pushZero,
		}

	case f_wrap_v:
		node.ext = extData{sat: node.args[0].ext.sat, dsat: invalid}

	case f_wrap_j:
		node.ext = extData{sat: node.args[0].ext.sat, dsat: pushZero}

	default:
		return nil, fmt.Errorf("unknown identifier: %s",
			node.identifier)
	}
	return node, nil
}

// MaxSatisfactionSize returns the worst case size in bytes of a satisfaction:
// the witness serialization for SegwitV0, without the count of elements, and
// the scriptSig pushes for Legacy, without the redeem script. ok is false if
// the miniscript cannot be satisfied.
func (a *AST) MaxSatisfactionSize() (size int, ok bool) {
	s := a.ext.sat.witness
	if a.ctx == Legacy {
		s = a.ext.sat.scriptSig
	}
	return s.value, s.valid
}

// MaxSatisfactionWitnessElements returns the worst case number of witness
// elements of a satisfaction, including the witness script itself.
func (a *AST) MaxSatisfactionWitnessElements() (elems int, ok bool) {
	e := a.ext.sat.elems
	return e.value + 1, e.valid
}
