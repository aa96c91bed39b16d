package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDB is a persistent Database backed by goleveldb. Update runs inside a
// leveldb transaction, which blocks other writers until it commits or is
// discarded.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) View(fn func(Tx) error) error {
	snap, err := ldb.db.GetSnapshot()
	if err != nil {
		return translateLevelErr(err)
	}
	defer snap.Release()
	return fn(readOnlyTx{get: func(key []byte) ([]byte, error) {
		value, err := snap.Get(key, nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		return value, translateLevelErr(err)
	}})
}

func (ldb *LevelDB) Update(fn func(Tx) error) error {
	tr, err := ldb.db.OpenTransaction()
	if err != nil {
		return translateLevelErr(err)
	}
	if err := fn(&levelTx{tr: tr}); err != nil {
		tr.Discard()
		return err
	}
	return tr.Commit()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

type levelTx struct {
	tr *leveldb.Transaction
}

func (t *levelTx) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	value, err := t.tr.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (t *levelTx) Has(key []byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	return t.tr.Has(key, nil)
}

func (t *levelTx) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return t.tr.Put(key, value, nil)
}

func (t *levelTx) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return t.tr.Delete(key, nil)
}

func translateLevelErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}
