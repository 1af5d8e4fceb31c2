package leveldb

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/miniscript/descdb/engine"
	"github.com/stretchr/testify/require"
)

func TestSuiteLevelDB(t *testing.T) {
	engine.TestSuiteEngine(t, func() engine.Engine {
		dbPath := filepath.Join(t.TempDir(), "leveldb-testsuite")

		leveldb, err := NewDB(dbPath, true)
		require.NoErrorf(t, err, "failed to create leveldb")
		return leveldb
	})
}

func TestReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "leveldb-reopen")

	db, err := NewDB(dbPath, true)
	require.NoError(t, err)
	tx, err := db.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put([]byte("k"), []byte("v")))
	require.NoError(t, tx.Commit())
	require.NoError(t, db.Close())

	// The database exists now.
	_, err = NewDB(dbPath, true)
	require.Error(t, err)

	db, err = NewDB(dbPath, false)
	require.NoError(t, err)
	defer db.Close()
	snapshot, err := db.Snapshot()
	require.NoError(t, err)
	defer snapshot.Release()
	val, err := snapshot.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)
}
