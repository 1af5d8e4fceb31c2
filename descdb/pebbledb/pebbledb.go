// Package pebbledb provides the pebble backed descriptor database engine.
package pebbledb

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/btcsuite/miniscript/descdb/engine"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

var (
	ErrDbClosed         = errors.New("pebbledb: closed")
	ErrTxClosed         = errors.New("pebbledb: transaction already closed")
	ErrSnapshotReleased = errors.New("pebbledb: snapshot released")
)

const (
	// DefaultCache is the block cache size in MiB.
	DefaultCache = 16

	DefaultHandles = 16
)

// NewDB opens the database at dbPath. With create set, it fails if the
// database already exists. Non-positive cache and handles use the defaults.
func NewDB(dbPath string, create bool, cache, handles int) (engine.Engine, error) {
	if cache <= 0 {
		cache = DefaultCache
	}
	if handles <= 0 {
		handles = DefaultHandles
	}

	c := pebble.NewCache(int64(cache * 1024 * 1024))
	defer c.Unref()

	// Descriptor databases are small; a couple of levels carry most keys.
	opts := &pebble.Options{
		Cache:                    c,
		ErrorIfExists:            create,
		MaxOpenFiles:             handles,
		MaxConcurrentCompactions: runtime.NumCPU,
		Levels: []pebble.LevelOptions{
			{TargetFileSize: 2 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 4 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
			{TargetFileSize: 8 * 1024 * 1024, FilterPolicy: bloom.FilterPolicy(10)},
		},
	}
	opts.Experimental.ReadSamplingMultiplier = -1
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, err
	}
	return &DB{DB: db}, nil
}

type DB struct {
	*pebble.DB

	closed atomic.Bool
}

// setClosed sets the closed flag and reports whether it was clear.
func (d *DB) setClosed() bool {
	return !d.closed.Swap(true)
}

func (d *DB) isClosed() bool {
	return d.closed.Load()
}

func (d *DB) Transaction() (engine.Transaction, error) {
	if d.isClosed() {
		return nil, ErrDbClosed
	}
	return &Transaction{Batch: d.DB.NewBatch()}, nil
}

func (d *DB) Snapshot() (engine.Snapshot, error) {
	if d.isClosed() {
		return nil, ErrDbClosed
	}
	return &Snapshot{Snapshot: d.DB.NewSnapshot()}, nil
}

func (d *DB) Close() error {
	if !d.setClosed() {
		return ErrDbClosed
	}
	return d.DB.Close()
}
