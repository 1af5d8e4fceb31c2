// Package descdb stores output descriptors indexed by the scriptPubKey they
// produce, so a wallet can find the descriptor that spends an output.
//
// Entries live under the "spk" key prefix. The value is the descriptor
// string with its checksum. A version entry guards the layout.
package descdb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/miniscript/descdb/engine"
	"github.com/btcsuite/miniscript/descdb/leveldb"
	"github.com/btcsuite/miniscript/descdb/pebbledb"
	"github.com/btcsuite/miniscript/descriptor"
)

// Supported database types.
const (
	LevelDB  = "leveldb"
	PebbleDB = "pebble"
)

// currentVersion is the layout version written to new databases.
const currentVersion = 1

var (
	spkPrefix  = []byte("spk")
	versionKey = []byte("version")
)

// SupportedDbTypes returns the database types Open accepts.
func SupportedDbTypes() []string {
	return []string{LevelDB, PebbleDB}
}

// Store is a descriptor database.
type Store struct {
	db engine.Engine
}

// Open opens or creates the database of type dbType at path.
func Open(dbType, path string) (*Store, error) {
	var (
		db  engine.Engine
		err error
	)
	switch dbType {
	case LevelDB:
		db, err = leveldb.NewDB(path, false)
	case PebbleDB:
		db, err = pebbledb.NewDB(path, false, 0, 0)
	default:
		str := fmt.Sprintf("unknown database type %q", dbType)
		return nil, dbError(ErrUnknownDbType, str)
	}
	if err != nil {
		return nil, err
	}

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debugf("Opened %s descriptor database at %s", dbType, path)
	return s, nil
}

// New returns a store on an opened engine. An empty engine is initialized
// with the current version.
func New(db engine.Engine) (*Store, error) {
	snapshot, err := db.Snapshot()
	if err != nil {
		return nil, err
	}
	ver, err := snapshot.Get(versionKey)
	snapshot.Release()

	switch {
	case errors.Is(err, engine.ErrNotFound):
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], currentVersion)
		if err := update(db, func(tx engine.Transaction) error {
			return tx.Put(versionKey, buf[:])
		}); err != nil {
			return nil, err
		}

	case err != nil:
		return nil, err

	case len(ver) != 4 ||
		binary.LittleEndian.Uint32(ver) != currentVersion:

		str := fmt.Sprintf("unsupported database version %x", ver)
		return nil, dbError(ErrVersionMismatch, str)
	}

	return &Store{db: db}, nil
}

// update runs fn in a transaction and commits it if fn succeeds.
func update(db engine.Engine, fn func(engine.Transaction) error) error {
	tx, err := db.Transaction()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

func spkKey(spk []byte) []byte {
	key := make([]byte, 0, len(spkPrefix)+len(spk))
	key = append(key, spkPrefix...)
	return append(key, spk...)
}

// Put stores a descriptor under its scriptPubKey, replacing any previous
// entry, and returns the scriptPubKey. The descriptor's keys must be
// resolved.
func (s *Store) Put(d descriptor.Descriptor) ([]byte, error) {
	spk, err := d.ScriptPubKey()
	if err != nil {
		return nil, err
	}
	desc, err := descriptor.WithChecksum(d.String())
	if err != nil {
		return nil, err
	}

	err = update(s.db, func(tx engine.Transaction) error {
		return tx.Put(spkKey(spk), []byte(desc))
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("Stored %s for script %x", desc, spk)
	return spk, nil
}

// Lookup returns the descriptor string stored for spk, with its checksum.
func (s *Store) Lookup(spk []byte) (string, error) {
	snapshot, err := s.db.Snapshot()
	if err != nil {
		return "", err
	}
	defer snapshot.Release()

	desc, err := snapshot.Get(spkKey(spk))
	if errors.Is(err, engine.ErrNotFound) {
		str := fmt.Sprintf("no descriptor stored for script %x", spk)
		return "", dbError(ErrNotFound, str)
	}
	if err != nil {
		return "", err
	}
	return string(desc), nil
}

// LookupDescriptor returns the parsed descriptor stored for spk with its
// hex keys resolved.
func (s *Store) LookupDescriptor(spk []byte) (descriptor.Descriptor, error) {
	desc, err := s.Lookup(spk)
	if err != nil {
		return nil, err
	}
	d, err := descriptor.Parse(desc)
	if err != nil {
		return nil, err
	}
	if err := d.ApplyVars(nil); err != nil {
		return nil, err
	}
	return d, nil
}

// ForEach calls fn for every entry in scriptPubKey order. It stops at the
// first error fn returns and returns it.
func (s *Store) ForEach(fn func(spk []byte, desc string) error) error {
	snapshot, err := s.db.Snapshot()
	if err != nil {
		return err
	}
	defer snapshot.Release()

	iter := snapshot.NewIterator(engine.BytesPrefix(spkPrefix))
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		spk := make([]byte, len(key)-len(spkPrefix))
		copy(spk, key[len(spkPrefix):])
		if err := fn(spk, string(iter.Value())); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Delete removes the entry of spk. Deleting a missing entry returns
// ErrNotFound.
func (s *Store) Delete(spk []byte) error {
	if _, err := s.Lookup(spk); err != nil {
		return err
	}
	err := update(s.db, func(tx engine.Transaction) error {
		return tx.Delete(spkKey(spk))
	})
	if err != nil {
		return err
	}
	log.Debugf("Deleted descriptor for script %x", spk)
	return nil
}

// Close closes the underlying engine.
func (s *Store) Close() error {
	return s.db.Close()
}
