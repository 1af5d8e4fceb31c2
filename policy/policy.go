// Package policy implements the abstract spending policy of a miniscript:
// which keys, hash preimages and timelocks authorize a spend and how they are
// combined, without any of the script level details.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the type of a Policy node.
type Kind uint8

const (
	// Unsatisfiable can never be satisfied.
	Unsatisfiable Kind = iota

	// Trivial is always satisfied.
	Trivial

	// Key requires a signature for a key.
	Key

	// KeyHash requires a key matching a hash160 and its signature.
	KeyHash

	// After is an absolute timelock.
	After

	// Older is a relative timelock.
	Older

	// Sha256 requires a SHA256 preimage.
	Sha256

	// Hash256 requires a double SHA256 preimage.
	Hash256

	// Ripemd160 requires a RIPEMD160 preimage.
	Ripemd160

	// Hash160 requires a HASH160 preimage.
	Hash160

	// Threshold requires K of its sub policies.
	Threshold

	// VersionEq requires the spending transaction to have a version.
	VersionEq

	// OutputsPref requires the outputs of the spending transaction to
	// start with a prefix.
	OutputsPref
)

var kindStrings = map[Kind]string{
	Unsatisfiable: "UNSATISFIABLE",
	Trivial:       "TRIVIAL",
	Key:           "pk",
	KeyHash:       "pkh",
	After:         "after",
	Older:         "older",
	Sha256:        "sha256",
	Hash256:       "hash256",
	Ripemd160:     "ripemd160",
	Hash160:       "hash160",
	Threshold:     "thresh",
	VersionEq:     "ver_eq",
	OutputsPref:   "outputs_pref",
}

// String returns the name of the kind as used in the policy text.
func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Kind (%d)", uint8(k))
}

// Policy is a node of an abstract policy tree.
type Policy struct {
	Kind Kind

	// Key is the key identifier of Key, or the key or hash identifier of
	// KeyHash.
	Key string

	// Value is the lock time of After and Older and the version of
	// VersionEq.
	Value uint32

	// Hash is the hash of the hash locks or the prefix of OutputsPref, as
	// written in the miniscript.
	Hash string

	// K and Subs are the threshold and the sub policies of Threshold.
	K    int
	Subs []*Policy
}

// NewUnsatisfiable returns a policy that can never be satisfied.
func NewUnsatisfiable() *Policy {
	return &Policy{Kind: Unsatisfiable}
}

// NewTrivial returns a policy that is always satisfied.
func NewTrivial() *Policy {
	return &Policy{Kind: Trivial}
}

// NewKey returns a policy requiring a signature for key.
func NewKey(key string) *Policy {
	return &Policy{Kind: Key, Key: key}
}

// NewKeyHash returns a policy requiring the key that hashes to keyHash and a
// signature for it.
func NewKeyHash(keyHash string) *Policy {
	return &Policy{Kind: KeyHash, Key: keyHash}
}

// NewTimelock returns an After or Older policy.
func NewTimelock(kind Kind, value uint32) *Policy {
	return &Policy{Kind: kind, Value: value}
}

// NewHashLock returns a Sha256, Hash256, Ripemd160 or Hash160 policy.
func NewHashLock(kind Kind, hash string) *Policy {
	return &Policy{Kind: kind, Hash: hash}
}

// NewVersionEq returns a policy requiring the transaction version.
func NewVersionEq(version uint32) *Policy {
	return &Policy{Kind: VersionEq, Value: version}
}

// NewOutputsPref returns a policy requiring the serialized outputs to start
// with prefix.
func NewOutputsPref(prefix string) *Policy {
	return &Policy{Kind: OutputsPref, Hash: prefix}
}

// NewThreshold returns a policy requiring k of subs.
func NewThreshold(k int, subs ...*Policy) *Policy {
	return &Policy{Kind: Threshold, K: k, Subs: subs}
}

// NewAnd returns a policy requiring all of subs.
func NewAnd(subs ...*Policy) *Policy {
	return NewThreshold(len(subs), subs...)
}

// NewOr returns a policy requiring one of subs.
func NewOr(subs ...*Policy) *Policy {
	return NewThreshold(1, subs...)
}

// String returns the policy in the text form thresh(k,...), with and(...)
// and or(...) used for k == n and k == 1.
func (p *Policy) String() string {
	switch p.Kind {
	case Unsatisfiable, Trivial:
		return p.Kind.String()

	case Key, KeyHash:
		return fmt.Sprintf("%s(%s)", p.Kind, p.Key)

	case After, Older, VersionEq:
		return fmt.Sprintf("%s(%d)", p.Kind, p.Value)

	case Sha256, Hash256, Ripemd160, Hash160, OutputsPref:
		return fmt.Sprintf("%s(%s)", p.Kind, p.Hash)

	case Threshold:
		subs := make([]string, len(p.Subs))
		for i, sub := range p.Subs {
			subs[i] = sub.String()
		}
		joined := strings.Join(subs, ",")
		switch {
		case p.K == len(p.Subs) && p.K > 1:
			return fmt.Sprintf("and(%s)", joined)
		case p.K == 1 && len(p.Subs) > 1:
			return fmt.Sprintf("or(%s)", joined)
		}
		return fmt.Sprintf("thresh(%d,%s)", p.K, joined)
	}
	return p.Kind.String()
}

// Normalized returns an equivalent policy where trivial and unsatisfiable
// children are folded into their threshold and nested conjunctions and
// disjunctions are flattened into their parent.
func (p *Policy) Normalized() *Policy {
	if p.Kind != Threshold {
		c := *p
		return &c
	}

	k := p.K
	subs := make([]*Policy, 0, len(p.Subs))
	for _, sub := range p.Subs {
		sub = sub.Normalized()
		switch sub.Kind {
		case Trivial:
			k--
			continue
		case Unsatisfiable:
			continue
		}
		subs = append(subs, sub)
	}

	switch {
	case k <= 0:
		return NewTrivial()
	case k > len(subs):
		return NewUnsatisfiable()
	case len(subs) == 1:
		return subs[0]
	}

	isAnd := k == len(subs)
	isOr := k == 1
	flat := make([]*Policy, 0, len(subs))
	for _, sub := range subs {
		if sub.Kind == Threshold {
			subAnd := sub.K == len(sub.Subs)
			subOr := sub.K == 1
			if (isAnd && subAnd) || (isOr && subOr) {
				if isAnd {
					k += len(sub.Subs) - 1
				}
				flat = append(flat, sub.Subs...)
				continue
			}
		}
		flat = append(flat, sub)
	}
	return NewThreshold(k, flat...)
}

// Keys returns the identifiers of all Key and KeyHash nodes, in order.
func (p *Policy) Keys() []string {
	var keys []string
	p.walk(func(n *Policy) {
		if n.Kind == Key || n.Kind == KeyHash {
			keys = append(keys, n.Key)
		}
	})
	return keys
}

// Satisfiable reports whether there is any way to satisfy the policy.
func (p *Policy) Satisfiable() bool {
	switch p.Kind {
	case Unsatisfiable:
		return false
	case Threshold:
		n := 0
		for _, sub := range p.Subs {
			if sub.Satisfiable() {
				n++
			}
		}
		return n >= p.K
	}
	return true
}

// AbsoluteTimelocks returns the distinct values of all After nodes, sorted.
func (p *Policy) AbsoluteTimelocks() []uint32 {
	return p.timelocks(After)
}

// RelativeTimelocks returns the distinct values of all Older nodes, sorted.
func (p *Policy) RelativeTimelocks() []uint32 {
	return p.timelocks(Older)
}

func (p *Policy) timelocks(kind Kind) []uint32 {
	seen := make(map[uint32]struct{})
	var values []uint32
	p.walk(func(n *Policy) {
		if n.Kind != kind {
			return
		}
		if _, ok := seen[n.Value]; ok {
			return
		}
		seen[n.Value] = struct{}{}
		values = append(values, n.Value)
	})
	sort.Slice(values, func(i, j int) bool {
		return values[i] < values[j]
	})
	return values
}

// walk calls f on every node in pre-order.
func (p *Policy) walk(f func(*Policy)) {
	f(p)
	for _, sub := range p.Subs {
		sub.walk(f)
	}
}
