// Package engine defines the key/value store interface the descriptor
// database is written against, so it can run on more than one backend.
package engine

import (
	"errors"
)

var (
	// ErrNotFound is returned by Snapshot.Get for a missing key, whatever
	// the backend.
	ErrNotFound = errors.New("engine: key not found")

	// ErrIterReleased is the error of an iterator used after Release.
	ErrIterReleased = errors.New("engine: iterator released")
)

// Engine is an ordered key/value store.
type Engine interface {
	// Transaction starts a batch of writes, applied atomically by Commit.
	Transaction() (Transaction, error)

	// Snapshot returns a consistent read view of the committed data.
	Snapshot() (Snapshot, error)

	Close() error
}

// Transaction is a batch of writes.
type Transaction interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error

	// Discard abandons the writes. It is safe to call more than once and
	// after Commit.
	Discard()
}

// Snapshot is a read view.
type Snapshot interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	NewIterator(*Range) Iterator
	Releaser
}

// Releaser releases the resources of a snapshot or iterator. Release is
// safe to call more than once.
type Releaser interface {
	Release()
}

// Iterator walks the keys of a range in increasing order. A new iterator is
// positioned before the first key.
type Iterator interface {
	// Next moves the iterator to the next key/value pair.
	// It returns false if the iterator is exhausted.
	Next() bool

	// Error returns any accumulated error. Exhausting all the key/value pairs
	// is not considered to be an error.
	Error() error

	// Key returns the key of the current key/value pair, or nil if done.
	// The caller should not modify the contents of the returned slice, and
	// its contents may change on the next call to Next.
	Key() []byte

	// Value returns the value of the current key/value pair, or nil if done.
	Value() []byte

	Releaser
}

// Range is a key range.
type Range struct {
	// Start of the key range, include in the range.
	Start []byte

	// Limit of the key range, not include in the range.
	Limit []byte
}

// BytesPrefix returns the range of keys starting with prefix.
func BytesPrefix(prefix []byte) *Range {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		c := prefix[i]
		if c < 0xff {
			limit = make([]byte, i+1)
			copy(limit, prefix)
			limit[i] = c + 1
			break
		}
	}
	return &Range{prefix, limit}
}
