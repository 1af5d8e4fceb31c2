package interpreter

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
)

// ConstraintKind is the kind of fragment a SatisfiedConstraint records.
type ConstraintKind uint8

// These constants are the kinds of satisfied fragments.
const (
	PublicKey ConstraintKind = iota
	PublicKeyHash
	HashLock
	AbsoluteTimeLock
	RelativeTimeLock
	VerEq
	OutputsPref
)

var constraintKindStrings = map[ConstraintKind]string{
	PublicKey:        "PublicKey",
	PublicKeyHash:    "PublicKeyHash",
	HashLock:         "HashLock",
	AbsoluteTimeLock: "AbsoluteTimeLock",
	RelativeTimeLock: "RelativeTimeLock",
	VerEq:            "VerEq",
	OutputsPref:      "OutputsPref",
}

// String returns the ConstraintKind as a human-readable name.
func (k ConstraintKind) String() string {
	if s := constraintKindStrings[k]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ConstraintKind (%d)", uint8(k))
}

// HashLockType is the hash function of a hash lock.
type HashLockType uint8

// These constants are the four hash lock functions.
const (
	Sha256 HashLockType = iota
	Hash256
	Ripemd160
	Hash160
)

var hashLockTypeStrings = map[HashLockType]string{
	Sha256:    "sha256",
	Hash256:   "hash256",
	Ripemd160: "ripemd160",
	Hash160:   "hash160",
}

// String returns the miniscript name of the hash function.
func (t HashLockType) String() string {
	if s := hashLockTypeStrings[t]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown HashLockType (%d)", uint8(t))
}

// Signature is a DER signature with its sighash type.
type Signature struct {
	Sig      *ecdsa.Signature
	HashType txscript.SigHashType
}

// SatisfiedConstraint records what made one fragment evaluate to true. Only
// the fields of its Kind are set.
type SatisfiedConstraint struct {
	Kind ConstraintKind

	// PubKey and Sig are set for PublicKey and PublicKeyHash.
	PubKey *btcec.PublicKey
	Sig    Signature

	// KeyHash is the committed hash of PublicKeyHash.
	KeyHash []byte

	// HashType, Hash and Preimage are set for HashLock.
	HashType HashLockType
	Hash     []byte
	Preimage []byte

	// Time is the lock value of AbsoluteTimeLock and RelativeTimeLock.
	Time uint32

	// Version is the transaction version of VerEq.
	Version uint32

	// Prefix is the outputs prefix of OutputsPref.
	Prefix []byte
}

// String returns a short human-readable form of the constraint.
func (c *SatisfiedConstraint) String() string {
	switch c.Kind {
	case PublicKey:
		return fmt.Sprintf("PublicKey(%x)",
			c.PubKey.SerializeCompressed())
	case PublicKeyHash:
		return fmt.Sprintf("PublicKeyHash(%x, key %x)", c.KeyHash,
			c.PubKey.SerializeCompressed())
	case HashLock:
		return fmt.Sprintf("HashLock(%v %x, preimage %x)", c.HashType,
			c.Hash, c.Preimage)
	case AbsoluteTimeLock:
		return fmt.Sprintf("AbsoluteTimeLock(%d)", c.Time)
	case RelativeTimeLock:
		return fmt.Sprintf("RelativeTimeLock(%d)", c.Time)
	case VerEq:
		return fmt.Sprintf("VerEq(%d)", c.Version)
	case OutputsPref:
		return fmt.Sprintf("OutputsPref(%x)", c.Prefix)
	}
	return c.Kind.String()
}
