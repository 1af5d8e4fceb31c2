package descriptor

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/miniscript/miniscript"
	"github.com/btcsuite/miniscript/policy"
)

// SortedMulti is a k-of-n CHECKMULTISIG whose keys are sorted in the script
// as BIP67 specifies, whatever order they are written in.
type SortedMulti struct {
	k    int
	keys []string
	ctx  miniscript.ScriptContext

	// ms is the multi fragment. Until the keys are resolved it holds the
	// identifiers in written order and is only used for sizes.
	ms       *miniscript.AST
	resolved bool
}

// NewSortedMulti returns a k-of-n sortedmulti over keys for a script
// context.
func NewSortedMulti(k int, keys []string,
	ctx miniscript.ScriptContext) (*SortedMulti, error) {

	if k < 1 || k > len(keys) {
		str := fmt.Sprintf("sortedmulti threshold %d is not in 1..%d",
			k, len(keys))
		return nil, descError(ErrBadThreshold, str)
	}
	ms, err := parseMulti(k, keys, ctx)
	if err != nil {
		return nil, err
	}
	return &SortedMulti{
		k:    k,
		keys: append([]string(nil), keys...),
		ctx:  ctx,
		ms:   ms,
	}, nil
}

func parseMulti(k int, keys []string,
	ctx miniscript.ScriptContext) (*miniscript.AST, error) {

	text := fmt.Sprintf("multi(%d,%s)", k, strings.Join(keys, ","))
	ms, err := miniscript.ParseWithContext(text, ctx)
	if err != nil {
		return nil, err
	}
	if err := ms.IsValidTopLevel(); err != nil {
		return nil, err
	}
	return ms, nil
}

// K returns the threshold.
func (s *SortedMulti) K() int {
	return s.k
}

// Keys returns the key identifiers in written order.
func (s *SortedMulti) Keys() []string {
	return append([]string(nil), s.keys...)
}

// ApplyVars resolves the keys and sorts them. The resolved multi is only
// stored once every key is valid.
func (s *SortedMulti) ApplyVars(
	lookupVar func(identifier string) ([]byte, error)) error {

	// Resolve in written order first, so duplicate and invalid keys are
	// reported by their identifiers.
	ms, err := parseMulti(s.k, s.keys, s.ctx)
	if err != nil {
		return err
	}
	if err := ms.ApplyVars(lookupVar); err != nil {
		return err
	}

	pubKeys := ms.PubKeys()
	sort.Slice(pubKeys, func(i, j int) bool {
		return bytes.Compare(pubKeys[i], pubKeys[j]) < 0
	})
	sorted := make([]string, len(pubKeys))
	for i, pubKey := range pubKeys {
		sorted[i] = hex.EncodeToString(pubKey)
	}
	if ms, err = parseMulti(s.k, sorted, s.ctx); err != nil {
		return err
	}
	if err := ms.ApplyVars(nil); err != nil {
		return err
	}
	s.ms, s.resolved = ms, true
	return nil
}

func (s *SortedMulti) checkResolved() error {
	if !s.resolved {
		str := fmt.Sprintf("keys of %v are not resolved", s)
		return descError(ErrUnresolvedKey, str)
	}
	return nil
}

// Script returns the multisig script with sorted keys.
func (s *SortedMulti) Script() ([]byte, error) {
	if err := s.checkResolved(); err != nil {
		return nil, err
	}
	return s.ms.Script()
}

// Miniscript returns the equivalent multi fragment.
func (s *SortedMulti) Miniscript() (*miniscript.AST, error) {
	if err := s.checkResolved(); err != nil {
		return nil, err
	}
	return s.ms, nil
}

// Satisfy returns the satisfaction, bottom first, without the script.
func (s *SortedMulti) Satisfy(
	satisfier *miniscript.Satisfier) (wire.TxWitness, error) {

	if err := s.checkResolved(); err != nil {
		return nil, err
	}
	return s.ms.Satisfy(satisfier)
}

// ScriptSize returns the size of the script.
func (s *SortedMulti) ScriptSize() int {
	return s.ms.ScriptSize()
}

// MaxSatisfactionSize returns the worst case size of a satisfaction, see
// miniscript.AST.MaxSatisfactionSize.
func (s *SortedMulti) MaxSatisfactionSize() (int, bool) {
	return s.ms.MaxSatisfactionSize()
}

// MaxSatisfactionWitnessElements returns the worst case number of witness
// elements of a spend, including the script.
func (s *SortedMulti) MaxSatisfactionWitnessElements() (int, bool) {
	return s.ms.MaxSatisfactionWitnessElements()
}

// Lift returns the threshold of the keys.
func (s *SortedMulti) Lift() *policy.Policy {
	subs := make([]*policy.Policy, len(s.keys))
	for i, key := range s.keys {
		subs[i] = policy.NewKey(key)
	}
	return policy.NewThreshold(s.k, subs...)
}

// TranslateKeys returns a copy with every key identifier replaced by fpk.
func (s *SortedMulti) TranslateKeys(
	fpk miniscript.KeyTranslator) (*SortedMulti, error) {

	keys := make([]string, len(s.keys))
	for i, key := range s.keys {
		var err error
		if keys[i], err = fpk(key); err != nil {
			return nil, err
		}
	}
	return NewSortedMulti(s.k, keys, s.ctx)
}

// String returns sortedmulti(k,keys...) with the keys in written order.
func (s *SortedMulti) String() string {
	return fmt.Sprintf("sortedmulti(%d,%s)", s.k, strings.Join(s.keys, ","))
}
