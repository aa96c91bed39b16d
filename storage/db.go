package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrReadOnly is returned when a write is attempted inside a View.
	ErrReadOnly = errors.New("storage: read-only transaction")
	// ErrClosed is returned once the database handle has been closed.
	ErrClosed = errors.New("storage: database closed")
	// ErrEmptyKey rejects zero-length keys, which not every backend accepts.
	ErrEmptyKey = errors.New("storage: key must not be empty")
)

// Tx is the unit of work handed to View and Update callbacks. Get returns a
// nil slice and no error when the key is absent.
type Tx interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Database is a transactional key-value store. Update callbacks either commit
// every write they performed or none of them: returning an error discards the
// transaction. Writers are serialised, so an Update observes no concurrent
// modification between its reads and its commit.
type Database interface {
	View(fn func(Tx) error) error
	Update(fn func(Tx) error) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendPebble  = "pebble"
)

// Open constructs the database implementation registered under backend.
func Open(backend, path string) (Database, error) {
	normalized := strings.ToLower(strings.TrimSpace(backend))
	if normalized != BackendMemory && strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage: %s backend requires a path", normalized)
	}
	switch normalized {
	case BackendMemory, "":
		return NewMemDB(), nil
	case BackendLevelDB:
		return NewLevelDB(path)
	case BackendBolt:
		return NewBoltDB(path)
	case BackendPebble:
		return NewPebbleDB(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// readOnlyTx adapts a getter into a Tx that refuses writes.
type readOnlyTx struct {
	get func([]byte) ([]byte, error)
}

func (r readOnlyTx) Get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	return r.get(key)
}

func (r readOnlyTx) Has(key []byte) (bool, error) {
	value, err := r.Get(key)
	if err != nil {
		return false, err
	}
	return value != nil, nil
}

func (readOnlyTx) Put([]byte, []byte) error { return ErrReadOnly }
func (readOnlyTx) Delete([]byte) error      { return ErrReadOnly }
