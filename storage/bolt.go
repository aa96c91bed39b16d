package storage

import (
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltStateBucket = []byte("state")

// BoltDB stores state in a single bbolt bucket. bbolt already provides
// serialisable read-write transactions, so Update maps directly onto db.Update.
type BoltDB struct {
	db *bolt.DB
}

func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltStateBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) View(fn func(Tx) error) error {
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltStateBucket)
		return fn(readOnlyTx{get: func(key []byte) ([]byte, error) {
			return cloneBytes(bucket.Get(key)), nil
		}})
	})
	return translateBoltErr(err)
}

func (b *BoltDB) Update(fn func(Tx) error) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(boltStateBucket)})
	})
	return translateBoltErr(err)
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

type boltTx struct {
	bucket *bolt.Bucket
}

// Get copies the value out because bbolt only guarantees it for the lifetime
// of the transaction.
func (t *boltTx) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return cloneBytes(t.bucket.Get(key)), nil
}

func (t *boltTx) Has(key []byte) (bool, error) {
	value, err := t.Get(key)
	return value != nil, err
}

func (t *boltTx) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	return t.bucket.Put(key, value)
}

func (t *boltTx) Delete(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return t.bucket.Delete(key)
}

func translateBoltErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}
