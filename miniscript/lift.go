package miniscript

import (
	"fmt"

	"github.com/btcsuite/miniscript/policy"
)

// Lift returns the abstract policy of the miniscript. Scripts that mix
// height and time based timelocks in one satisfaction cannot be lifted, since
// their policy would claim spends that no transaction can make.
func (a *AST) Lift() (*policy.Policy, error) {
	if err := a.checkTimelockMixing(); err != nil {
		return nil, err
	}
	return lift(a)
}

func lift(node *AST) (*policy.Policy, error) {
	switch node.identifier {
	case f_0:
		return policy.NewUnsatisfiable(), nil

	case f_1:
		return policy.NewTrivial(), nil

	case f_pk_k:
		return policy.NewKey(node.args[0].identifier), nil

	case f_pk_h:
		return policy.NewKeyHash(node.args[0].identifier), nil

	case f_after:
		return policy.NewTimelock(
			policy.After, uint32(node.args[0].num),
		), nil

	case f_older:
		return policy.NewTimelock(
			policy.Older, uint32(node.args[0].num),
		), nil

	case f_sha256, f_hash256, f_ripemd160, f_hash160:
		kind := map[string]policy.Kind{
			f_sha256:    policy.Sha256,
			f_hash256:   policy.Hash256,
			f_ripemd160: policy.Ripemd160,
			f_hash160:   policy.Hash160,
		}[node.identifier]
		return policy.NewHashLock(kind, node.args[0].identifier), nil

	case f_ver_eq:
		return policy.NewVersionEq(uint32(node.args[0].num)), nil

	case f_outputs_pref:
		return policy.NewOutputsPref(node.args[0].identifier), nil

	case f_wrap_a, f_wrap_s, f_wrap_c, f_wrap_d, f_wrap_v, f_wrap_j,
		f_wrap_n:

		return lift(node.args[0])

	case f_and_v, f_and_b:
		subs, err := liftAll(node.args)
		if err != nil {
			return nil, err
		}
		return policy.NewAnd(subs...), nil

	case f_or_b, f_or_c, f_or_d, f_or_i:
		subs, err := liftAll(node.args)
		if err != nil {
			return nil, err
		}
		return policy.NewOr(subs...), nil

	case f_andor:
		subs, err := liftAll(node.args)
		if err != nil {
			return nil, err
		}
		return policy.NewOr(policy.NewAnd(subs[0], subs[1]), subs[2]), nil

	case f_thresh:
		subs, err := liftAll(node.args[1:])
		if err != nil {
			return nil, err
		}
		return policy.NewThreshold(int(node.args[0].num), subs...), nil

	case f_multi:
		keys := make([]*policy.Policy, 0, len(node.args)-1)
		for _, arg := range node.args[1:] {
			keys = append(keys, policy.NewKey(arg.identifier))
		}
		return policy.NewThreshold(int(node.args[0].num), keys...), nil
	}
	return nil, fmt.Errorf("cannot lift fragment %s", node.identifier)
}

func liftAll(nodes []*AST) ([]*policy.Policy, error) {
	subs := make([]*policy.Policy, len(nodes))
	for i, node := range nodes {
		sub, err := lift(node)
		if err != nil {
			return nil, err
		}
		subs[i] = sub
	}
	return subs, nil
}
