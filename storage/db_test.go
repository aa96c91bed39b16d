package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Database{BackendMemory: NewMemDB()}
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	out[BackendLevelDB] = level
	bolt, err := NewBoltDB(filepath.Join(dir, "state.bolt"))
	require.NoError(t, err)
	out[BackendBolt] = bolt
	peb, err := NewPebbleDB(filepath.Join(dir, "pebble"))
	require.NoError(t, err)
	out[BackendPebble] = peb
	for _, db := range out {
		db := db
		t.Cleanup(func() { _ = db.Close() })
	}
	return out
}

func TestUpdateCommitsAllWrites(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Update(func(tx Tx) error {
				if err := tx.Put([]byte("a"), []byte("1")); err != nil {
					return err
				}
				return tx.Put([]byte("b"), []byte("2"))
			}))
			require.NoError(t, db.View(func(tx Tx) error {
				a, err := tx.Get([]byte("a"))
				require.NoError(t, err)
				require.Equal(t, []byte("1"), a)
				b, err := tx.Get([]byte("b"))
				require.NoError(t, err)
				require.Equal(t, []byte("2"), b)
				return nil
			}))
		})
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	boom := errors.New("boom")
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Update(func(tx Tx) error {
				return tx.Put([]byte("keep"), []byte("v1"))
			}))
			err := db.Update(func(tx Tx) error {
				if err := tx.Put([]byte("keep"), []byte("v2")); err != nil {
					return err
				}
				if err := tx.Put([]byte("new"), []byte("x")); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)
			require.NoError(t, db.View(func(tx Tx) error {
				keep, err := tx.Get([]byte("keep"))
				require.NoError(t, err)
				require.Equal(t, []byte("v1"), keep)
				ok, err := tx.Has([]byte("new"))
				require.NoError(t, err)
				require.False(t, ok)
				return nil
			}))
		})
	}
}

func TestUpdateReadsOwnWrites(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Update(func(tx Tx) error {
				require.NoError(t, tx.Put([]byte("k"), []byte("staged")))
				value, err := tx.Get([]byte("k"))
				require.NoError(t, err)
				require.Equal(t, []byte("staged"), value)
				require.NoError(t, tx.Delete([]byte("k")))
				value, err = tx.Get([]byte("k"))
				require.NoError(t, err)
				require.Nil(t, value)
				return nil
			}))
		})
	}
}

func TestViewRejectsWrites(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := db.View(func(tx Tx) error {
				return tx.Put([]byte("k"), []byte("v"))
			})
			require.ErrorIs(t, err, ErrReadOnly)
		})
	}
}

func TestMissingKeyReturnsNil(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.View(func(tx Tx) error {
				value, err := tx.Get([]byte("absent"))
				require.NoError(t, err)
				require.Nil(t, value)
				return nil
			}))
		})
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("cassandra", t.TempDir())
	require.Error(t, err)
	_, err = Open(BackendBolt, "")
	require.Error(t, err)
	db, err := Open(BackendMemory, "")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Update(func(Tx) error { return nil }), ErrClosed)
}
