package miniscript

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// SignFunc is a function type that returns a signature for a pubkey or false if
// no signer is available.
type SignFunc func(pubKey []byte) (signature []byte, available bool)

// PreimageFunc is a function type that returns the preimage of a hash value.
type PreimageFunc func(hashFunc string, hash []byte) (preimage []byte,
	available bool)

// Satisfier is provided to the satisfier to generate signatures for pubkeys and
// preimages to hash values that occur in the miniscript. Nil fields mean the
// corresponding secret or fact is not available.
type Satisfier struct {
	// CheckOlder checks if the OP_CHECKSEQUENCEVERIFY call is satisfied in
	// the context of a transaction. Use the `CheckOlder` utility function.
	CheckOlder func(locktime uint32) (bool, error)

	// CheckAfter checks if the OP_CHECKLOCKTIMEVERIFY call is satisfied in
	// the context of a transaction. Use the `CheckAfter` utility function.
	CheckAfter func(locktime uint32) (bool, error)

	// CheckVersion checks if the spending transaction has the version
	// required by ver_eq.
	CheckVersion func(version uint32) (bool, error)

	// Sign returns a signature for the pubkey or false if a signer is not
	// available.
	Sign SignFunc

	// LookupPubKey returns the key of a pk_h fragment that only knows
	// the 20 byte key hash.
	LookupPubKey func(keyHash []byte) (pubKey []byte, available bool)

	// Preimage returns the preimage of the hash value. hashFunc is one of
	// "sha256", "ripemd160", "hash256", "hash160".
	Preimage PreimageFunc

	// Outputs returns the serialized outputs of the spending transaction,
	// the preimage of the BIP143 hashOutputs field, used by outputs_pref.
	Outputs func() ([]byte, bool)
}

func (s *Satisfier) sign(pubKey []byte) ([]byte, bool) {
	if s == nil || s.Sign == nil {
		return nil, false
	}
	return s.Sign(pubKey)
}

func (s *Satisfier) preimage(hashFunc string, hash []byte) ([]byte, bool) {
	if s == nil || s.Preimage == nil {
		return nil, false
	}
	return s.Preimage(hashFunc, hash)
}

func (s *Satisfier) lookupPubKey(keyHash []byte) ([]byte, bool) {
	if s == nil || s.LookupPubKey == nil {
		return nil, false
	}
	return s.LookupPubKey(keyHash)
}

func (s *Satisfier) check(f func(uint32) (bool, error), n uint32) (bool,
	error) {

	if f == nil {
		return false, nil
	}
	return f(n)
}

// satisfaction is a struct based on `InputStack` of the Bitcoin Core
// implementation at
// https://github.com/bitcoin/bitcoin/blob/a13f374/src/script/miniscript.cpp
type satisfaction struct {
	// witness is a list of data elements that will be pushed onto the
	// witness stack, bottom first.
	witness wire.TxWitness

	// available, if false, indicates there is no valid satisfaction (i.e.
	// private key or hash preimage not available, time lock not yet valid,
	// generally not satisfiable, etc.).
	available bool

	// malleable, if true, indicates the satisfaction is malleable by a
	// third party.
	malleable bool

	// hasSig indicates this satisfaction requires a signature, which means
	// a third party cannot malleate this satisfaction even if `malleable`
	// is true. If `malleable` and `hasSig` is true, only we (the
	// key-holders) can malleate this satisfaction.
	hasSig bool
}

func (s *satisfaction) setAvailable(available bool) *satisfaction {
	s.available = available
	return s
}

func (s *satisfaction) withSig() *satisfaction {
	s.hasSig = true
	return s
}

func (s *satisfaction) setMalleable(malleable bool) *satisfaction {
	s.malleable = malleable
	return s
}

func (s *satisfaction) and(b *satisfaction) *satisfaction {
	witness := append(wire.TxWitness{}, s.witness...)
	return &satisfaction{
		witness:   append(witness, b.witness...),
		available: s.available && b.available,
		malleable: s.malleable || b.malleable,
		hasSig:    s.hasSig || b.hasSig,
	}
}

func (s *satisfaction) or(b *satisfaction) *satisfaction {
	// If only one (or neither) is valid, pick the other one.
	if !s.available {
		return b
	}
	if !b.available {
		return s
	}
	// If only one of the solutions has a signature, we must pick the other
	// one.
	if !s.hasSig && b.hasSig {
		return s
	}
	if s.hasSig && !b.hasSig {
		return b
	}
	if !s.hasSig && !b.hasSig {
		// If neither solution requires a signature, the result is
		// inevitably malleable.
		s.malleable = true
		b.malleable = true
	} else {
		// If both options require a signature, prefer the non-malleable
		// one.
		if b.malleable && !s.malleable {
			return s
		}
		if s.malleable && !b.malleable {
			return b
		}
	}

	// Both available, pick smaller one.
	if s.witness.SerializeSize() <= b.witness.SerializeSize() {
		return s
	}
	return b
}

type satisfactions struct {
	dsat, sat *satisfaction
}

func verifyLockTime(txLockTime uint32, threshold uint32, lockTime uint32) bool {
	if !((txLockTime < threshold && lockTime < threshold) ||
		(txLockTime >= threshold && lockTime >= threshold)) {

		// Can't mix time lock types (blocks vs time).
		return false
	}
	return lockTime <= txLockTime
}

// CheckOlder checks if the OP_CHECKSEQUENCEVERIFY (BIP112, BIP68) call is
// satisfied given the lock time value.
//
// txVersion is the version of the transaction being signed.
// OP_CHECKSEQUENCEVERIFY requires this to be at least 2, otherwise the script
// fails.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. It is compared to the lock time value.
func CheckOlder(lockTime uint32, txVersion uint32,
	txInputSequence uint32) bool {

	// See BIP68. Mask off non-consensus bits before doing comparisons.
	lockTimeMask := uint32(
		wire.SequenceLockTimeIsSeconds | wire.SequenceLockTimeMask,
	)
	return txInputSequence&wire.SequenceLockTimeDisabled == 0 &&
		txVersion >= 2 && verifyLockTime(
		txInputSequence&lockTimeMask,
		wire.SequenceLockTimeIsSeconds,
		lockTime&lockTimeMask,
	)
}

// CheckAfter checks if the OP_CHECKLOCKTIMEVERIFY (BIP65) call is satisfied
// given the lock time value.
//
// TxLockTime is the nLockTime of the transaction that is being signed. It is
// compared to the lock time value.
//
// txInputSequence should be set to the sequence field of the input that is
// being signed. According to BIP65, it must be smaller than 0xFFFFFFFF (maximum
// value) for this OP-code to not abort.
func CheckAfter(value uint32, txLockTime uint32, txInputSequence uint32) bool {
	return txInputSequence != wire.MaxTxInSequenceNum &&
		verifyLockTime(txLockTime, txscript.LockTimeThreshold, value)
}

// splitOutputsSuffix splits the part of the serialized outputs that follows
// the prefix into the outputs_pref witness elements, bottom first. Each
// element is at most one standard witness item, unused elements are empty.
func splitOutputsSuffix(suffix []byte) (wire.TxWitness, bool) {
	if len(suffix) > MaxOutputsPrefElems*maxStandardWitnessItemSize {
		return nil, false
	}
	witness := make(wire.TxWitness, 0, MaxOutputsPrefElems)
	for i := 0; i < MaxOutputsPrefElems; i++ {
		n := len(suffix)
		if n > maxStandardWitnessItemSize {
			n = maxStandardWitnessItemSize
		}
		witness = append(witness, suffix[:n:n])
		suffix = suffix[n:]
	}
	return witness, true
}

// satisfy is based on `ProduceInput()` of the Bitcoin Core implementation at:
// https://github.com/bitcoin/bitcoin/blob/a13f374/src/script/miniscript.h#L850
func satisfy(node *AST, satisfier *Satisfier) (*satisfactions, error) {
	zero := func() *satisfaction {
		// Empty data translates to OP_0/OP_FALSE (push zero bytes)
		return &satisfaction{
			witness:   wire.TxWitness{{}},
			available: true,
		}
	}
	one := func() *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{{1}},
			available: true,
		}
	}
	empty := func() *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{},
			available: true,
		}
	}
	unavailable := func() *satisfaction {
		return &satisfaction{available: false}
	}
	witness := func(w []byte) *satisfaction {
		return &satisfaction{
			witness:   wire.TxWitness{w},
			available: true,
		}
	}
	timelock := func(check func(uint32) (bool, error)) (*satisfactions,
		error) {

		satisfied, err := satisfier.check(
			check, uint32(node.args[0].num),
		)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  empty().setAvailable(satisfied),
		}, nil
	}
	missingKey := func(arg *AST) error {
		str := fmt.Sprintf("empty key for %s (%s)", node.identifier,
			arg.identifier)
		return scriptError(ErrMissingKey, str)
	}

	switch node.identifier {
	case f_0:
		return &satisfactions{
			dsat: empty(),
			sat:  unavailable(),
		}, nil

	case f_1:
		return &satisfactions{
			dsat: unavailable(),
			sat:  empty(),
		}, nil

	case f_pk_k:
		arg := node.args[0]
		key := arg.value
		if key == nil {
			return nil, missingKey(arg)
		}
		sig, available := satisfier.sign(key)
		return &satisfactions{
			dsat: zero(),
			sat:  witness(sig).withSig().setAvailable(available),
		}, nil

	case f_pk_h:
		arg := node.args[0]
		key := arg.value
		if key == nil {
			return nil, missingKey(arg)
		}
		if len(key) == hash160Len {
			var found bool
			key, found = satisfier.lookupPubKey(key)
			if !found {
				return &satisfactions{
					dsat: unavailable(),
					sat:  unavailable(),
				}, nil
			}
		}
		sig, available := satisfier.sign(key)
		return &satisfactions{
			dsat: zero().and(witness(key)),
			sat: witness(sig).withSig().setAvailable(
				available,
			).and(witness(key)),
		}, nil

	case f_older:
		// BIP112 - OP_CHECKSEQUENCEVERIFY
		var check func(uint32) (bool, error)
		if satisfier != nil {
			check = satisfier.CheckOlder
		}
		return timelock(check)

	case f_after:
		// BIP65 - OP_CHECKLOCKTIMEVERIFY
		var check func(uint32) (bool, error)
		if satisfier != nil {
			check = satisfier.CheckAfter
		}
		return timelock(check)

	case f_ver_eq:
		var check func(uint32) (bool, error)
		if satisfier != nil {
			check = satisfier.CheckVersion
		}
		return timelock(check)

	case f_sha256, f_ripemd160, f_hash256, f_hash160:
		hashValue := node.args[0].value
		if hashValue == nil {
			str := fmt.Sprintf("hash value empty for %s (%s)",
				node.identifier, node.args[0].identifier)
			return nil, scriptError(ErrMissingKey, str)
		}
		preimage, available := satisfier.preimage(
			node.identifier, hashValue,
		)
		if available && len(preimage) != 32 {
			return nil, fmt.Errorf("length of %s preimage of %x "+
				"of expected to be 32, got %d",
				node.identifier, hashValue, len(preimage))
		}
		sat := witness(preimage).setAvailable(available)
		return &satisfactions{
			// Preimage 0x0000... is assumed invalid.
			dsat: witness(make([]byte, 32)).setMalleable(true),
			sat:  sat,
		}, nil

	case f_outputs_pref:
		prefix := node.args[0].value
		dsat := empty()
		for i := 0; i < MaxOutputsPrefElems; i++ {
			dsat = dsat.and(zero())
		}
		var outputs []byte
		available := false
		if satisfier != nil && satisfier.Outputs != nil {
			outputs, available = satisfier.Outputs()
		}
		if !available || !bytes.HasPrefix(outputs, prefix) {
			return &satisfactions{dsat: dsat, sat: unavailable()},
				nil
		}
		suffix, ok := splitOutputsSuffix(outputs[len(prefix):])
		return &satisfactions{
			dsat: dsat,
			sat: (&satisfaction{witness: suffix}).setAvailable(
				ok,
			),
		}, nil

	case f_andor:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[2], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat).or(y.dsat.and(x.sat)),
			sat:  y.sat.and(x.sat).or(z.sat.and(x.dsat)),
		}, nil

	case f_and_v:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: y.dsat.and(x.sat),
			sat:  y.sat.and(x.sat),
		}, nil

	case f_and_b:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		y, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: y.dsat.and(x.dsat).or(
				y.sat.and(x.dsat).setMalleable(true),
			).or(
				y.dsat.and(x.sat).setMalleable(true),
			),
			sat: y.sat.and(x.sat),
		}, nil

	case f_or_b:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat: z.dsat.and(x.sat).or(
				z.sat.and(x.dsat),
			).or(
				z.sat.and(x.sat).setMalleable(true),
			),
		}, nil

	case f_or_c:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case f_or_d:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: z.dsat.and(x.dsat),
			sat:  x.sat.or(z.sat.and(x.dsat)),
		}, nil

	case f_or_i:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		z, err := satisfy(node.args[1], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: x.dsat.and(one()).or(z.dsat.and(zero())),
			sat:  x.sat.and(one()).or(z.sat.and(zero())),
		}, nil

	case f_thresh:
		k := node.args[0].num
		n := len(node.args) - 1
		subSats := make([]*satisfactions, n)
		for i, arg := range node.args[1:] {
			sat, err := satisfy(arg, satisfier)
			if err != nil {
				return nil, err
			}
			subSats[i] = sat
		}

		// best[j] is the best witness for the subs seen so far with j
		// of them satisfied. Earlier subs run first, so their elements
		// go on top.
		best := []*satisfaction{empty()}
		for _, subSat := range subSats {
			next := make([]*satisfaction, len(best)+1)
			for j := range next {
				candidate := unavailable()
				if j < len(best) {
					candidate = subSat.dsat.and(best[j])
				}
				if j > 0 {
					candidate = candidate.or(
						subSat.sat.and(best[j-1]),
					)
				}
				next[j] = candidate
			}
			best = next
		}

		// Any number of satisfied subs other than k dissatisfies.
		// Only the canonical all-dissatisfied witness is not
		// malleable.
		dsat := best[0]
		for j := 1; j <= n; j++ {
			if j == int(k) {
				continue
			}
			dsat = dsat.or(best[j].setMalleable(true))
		}
		return &satisfactions{
			dsat: dsat,
			sat:  best[k],
		}, nil

	case f_multi:
		k := node.args[0].num
		n := len(node.args) - 1
		dsat := zero()
		for i := uint64(0); i < k; i++ {
			dsat = dsat.and(zero())
		}

		// All actual signatures. If a sig is unavailable, it is left
		// empty.
		sigs := make([][]byte, n)
		for i, arg := range node.args[1:] {
			key := arg.value
			if key == nil {
				return nil, missingKey(arg)
			}
			sig, available := satisfier.sign(key)
			if available {
				sigs[i] = sig
			}
		}

		// best[j] is the smallest run of j signatures, in key order,
		// over the keys seen so far.
		best := []*satisfaction{empty()}
		for _, sig := range sigs {
			next := make([]*satisfaction, len(best)+1)
			for j := range next {
				candidate := unavailable()
				if j < len(best) {
					candidate = best[j]
				}
				if j > 0 {
					candidate = candidate.or(best[j-1].and(
						witness(sig).withSig().setAvailable(
							len(sig) > 0,
						),
					))
				}
				next[j] = candidate
			}
			best = next
		}
		sigsSat := best[k]
		return &satisfactions{
			dsat: dsat,
			sat:  zero().and(sigsSat), // 0 sig sig sig ...
		}, nil

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_n:
		return satisfy(node.args[0], satisfier)

	case f_wrap_d:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: zero(),
			sat:  x.sat.and(one()),
		}, nil

	case f_wrap_v:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: unavailable(),
			sat:  x.sat,
		}, nil

	case f_wrap_j:
		x, err := satisfy(node.args[0], satisfier)
		if err != nil {
			return nil, err
		}
		return &satisfactions{
			dsat: zero().setMalleable(
				x.dsat.available && !x.dsat.hasSig,
			),
			sat: x.sat,
		}, nil

	default:
		return nil, fmt.Errorf("unrecognized identifier: %s",
			node.identifier)
	}
}
