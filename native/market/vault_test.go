package market

import (
	"errors"
	"testing"

	"servicemarket/storage"
)

func TestVaultReleaseRequiresCapability(t *testing.T) {
	f := newFixture(t)
	listing := f.list(t, "vaulted", 10, false)

	err := f.db.Update(func(tx storage.Tx) error {
		tr := &txn{store: newMarketStore(tx), now: 1}
		reg, err := tr.store.registry()
		if err != nil {
			return err
		}
		forged := Capability{ListingID: listing.ID}
		if _, err := release(tr, reg, forged, listing.AssetID, stranger); !errors.Is(err, ErrInvalidCapability) {
			t.Fatalf("expected ErrInvalidCapability for forged tag, got %v", err)
		}
		other := reg.IssueCapability([32]byte{0x01})
		if _, err := release(tr, reg, other, listing.AssetID, stranger); !errors.Is(err, ErrInvalidCapability) {
			t.Fatalf("expected ErrInvalidCapability for foreign listing, got %v", err)
		}
		if _, err := release(tr, nil, reg.IssueCapability(listing.ID), listing.AssetID, stranger); !errors.Is(err, ErrUninitialized) {
			t.Fatalf("expected ErrUninitialized without registry, got %v", err)
		}
		return errors.New("rollback")
	})
	if err == nil || err.Error() != "rollback" {
		t.Fatalf("unexpected update result: %v", err)
	}

	asset, _ := f.engine.Asset(listing.AssetID)
	if asset.Owner != VaultAddress() {
		t.Fatalf("asset left custody")
	}
}

func TestCapabilityBoundToRegistryKey(t *testing.T) {
	a := &Registry{CapabilityKey: [32]byte{1}}
	b := &Registry{CapabilityKey: [32]byte{2}}
	id := [32]byte{0xAB}
	issued := a.IssueCapability(id)
	if !a.VerifyCapability(issued) {
		t.Fatalf("issuer should accept its own capability")
	}
	if b.VerifyCapability(issued) {
		t.Fatalf("capability minted under another key must be rejected")
	}
	if a.Clone().CapabilityKey != ([32]byte{}) {
		t.Fatalf("clone should scrub the capability key")
	}
}

func TestReleaseWithoutHolding(t *testing.T) {
	f := newFixture(t)
	asset := f.mint(t, vendor, "loose")
	err := f.db.View(func(tx storage.Tx) error {
		tr := &txn{store: newMarketStore(tx)}
		reg, err := tr.store.registry()
		if err != nil {
			return err
		}
		_, err = releasable(tr, reg, reg.IssueCapability([32]byte{}), asset.ID)
		return err
	})
	if !errors.Is(err, ErrNotEscrowed) {
		t.Fatalf("expected ErrNotEscrowed, got %v", err)
	}
}
