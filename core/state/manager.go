package state

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"servicemarket/storage"
)

// Manager reads and writes RLP-encoded records inside a single storage
// transaction. Keys are hashed with keccak256 so every record lands in a
// uniformly distributed keyspace regardless of the caller's naming.
type Manager struct {
	tx storage.Tx
}

// NewManager creates a state manager operating on the provided transaction.
func NewManager(tx storage.Tx) *Manager {
	return &Manager{tx: tx}
}

var balancePrefix = []byte("balance:")

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SetBalance stores an account balance for the provided payment asset.
func (m *Manager) SetBalance(addr []byte, symbol string, amount uint64) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("asset symbol must not be empty")
	}
	key := balanceKey(addr, normalized)
	if amount == 0 {
		return m.tx.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.tx.Put(key, encoded)
}

// Balance retrieves the balance held by addr. Missing balances read as zero.
func (m *Manager) Balance(addr []byte, symbol string) (uint64, error) {
	data, err := m.tx.Get(balanceKey(addr, normalizeSymbol(symbol)))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var amount uint64
	if err := rlp.DecodeBytes(data, &amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.tx.Put(kvKey(key), encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.tx.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVHas reports whether key is present without decoding it.
func (m *Manager) KVHas(key []byte) (bool, error) {
	return m.KVGet(key, nil)
}

// KVDelete removes key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.tx.Delete(kvKey(key))
}

// KVAppend appends value to the byte-slice list stored under key. Duplicate
// values are ignored to keep the index deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList decodes the list stored under key into out, a pointer to a slice.
// Missing lists decode as empty slices.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}
