package pebbledb

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/miniscript/descdb/engine"
	"github.com/stretchr/testify/require"
)

func TestSuitePebbleDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		dbPath := filepath.Join(t.TempDir(), "pebbledb-testsuite")

		pebbledb, err := NewDB(dbPath, true, 0, 0)
		require.NoErrorf(t, err, "failed to create pebbledb")
		return pebbledb
	})
}

func TestReleasedSnapshot(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "pebbledb"), true, 1, 4)
	require.NoError(t, err)
	defer db.Close()

	snapshot, err := db.Snapshot()
	require.NoError(t, err)
	snapshot.Release()

	_, err = snapshot.Has([]byte("k"))
	require.ErrorIs(t, err, ErrSnapshotReleased)

	iter := snapshot.NewIterator(&engine.Range{})
	require.False(t, iter.Next())
	require.ErrorIs(t, iter.Error(), ErrSnapshotReleased)
	iter.Release()

	tx, err := db.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
	require.ErrorIs(t, tx.Put([]byte("k"), nil), ErrTxClosed)
}
