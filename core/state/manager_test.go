package state

import (
	"bytes"
	"errors"
	"testing"

	"servicemarket/storage"
)

type sample struct {
	Name  string
	Count uint64
	Owner [20]byte
}

func TestKVPutGetInsideUpdate(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	var owner [20]byte
	copy(owner[:], bytes.Repeat([]byte{0x07}, 20))
	err := db.Update(func(tx storage.Tx) error {
		mgr := NewManager(tx)
		return mgr.KVPut([]byte("listing/demo"), &sample{Name: "demo", Count: 3, Owner: owner})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	err = db.View(func(tx storage.Tx) error {
		mgr := NewManager(tx)
		var got sample
		ok, err := mgr.KVGet([]byte("listing/demo"), &got)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("expected record to exist")
		}
		if got.Name != "demo" || got.Count != 3 || got.Owner != owner {
			t.Fatalf("unexpected record: %+v", got)
		}
		missing, err := mgr.KVHas([]byte("listing/other"))
		if err != nil {
			return err
		}
		if missing {
			t.Fatalf("unexpected record for other key")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestKVAppendDeduplicates(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	err := db.Update(func(tx storage.Tx) error {
		mgr := NewManager(tx)
		for _, v := range [][]byte{{1}, {2}, {1}} {
			if err := mgr.KVAppend([]byte("index"), v); err != nil {
				return err
			}
		}
		var list [][]byte
		if err := mgr.KVGetList([]byte("index"), &list); err != nil {
			return err
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(list))
		}
		var empty [][]byte
		if err := mgr.KVGetList([]byte("nothing"), &empty); err != nil {
			return err
		}
		if empty == nil || len(empty) != 0 {
			t.Fatalf("expected empty non-nil list")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestBalanceDefaultsAndRollback(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	addr := bytes.Repeat([]byte{0x01}, 20)
	if err := db.Update(func(tx storage.Tx) error {
		return NewManager(tx).SetBalance(addr, "usdc", 500)
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	abort := errors.New("abort")
	err := db.Update(func(tx storage.Tx) error {
		mgr := NewManager(tx)
		if err := mgr.SetBalance(addr, "USDC", 1); err != nil {
			return err
		}
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort, got %v", err)
	}
	if err := db.View(func(tx storage.Tx) error {
		mgr := NewManager(tx)
		bal, err := mgr.Balance(addr, " USDC ")
		if err != nil {
			return err
		}
		if bal != 500 {
			t.Fatalf("expected rolled back balance 500, got %d", bal)
		}
		zero, err := mgr.Balance(addr, "EURC")
		if err != nil {
			return err
		}
		if zero != 0 {
			t.Fatalf("expected zero balance, got %d", zero)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}
