package market

import "fmt"

// lockable checks that from may deposit assetID into the vault.
func lockable(t *txn, assetID [32]byte, from [20]byte) (*Asset, error) {
	existing, err := t.store.holding(assetID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyEscrowed
	}
	asset, err := t.store.asset(assetID)
	if err != nil {
		return nil, err
	}
	if asset.Owner != from {
		return nil, ErrNotOwner
	}
	if asset.Frozen {
		return nil, ErrAssetFrozen
	}
	return asset, nil
}

// lock moves assetID from its owner into vault custody on behalf of
// listingID. The caller supplies the registry so the vault never reaches for
// global state.
func lock(t *txn, reg *Registry, assetID, listingID [32]byte, from [20]byte) (*Asset, error) {
	if reg == nil {
		return nil, ErrUninitialized
	}
	asset, err := lockable(t, assetID, from)
	if err != nil {
		return nil, err
	}
	asset.Owner = VaultAddress()
	asset.ListingID = listingID
	if err := t.store.putAsset(asset); err != nil {
		return nil, err
	}
	holding := &Holding{AssetID: assetID, ListingID: listingID, Depositor: from, LockedAt: t.timestamp()}
	if err := t.store.putHolding(holding); err != nil {
		return nil, err
	}
	return asset, nil
}

// releasable checks the holding for assetID against capability.
func releasable(t *txn, reg *Registry, capability Capability, assetID [32]byte) (*Asset, error) {
	if reg == nil {
		return nil, ErrUninitialized
	}
	holding, err := t.store.holding(assetID)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		return nil, ErrNotEscrowed
	}
	if capability.ListingID != holding.ListingID || !reg.VerifyCapability(capability) {
		return nil, ErrInvalidCapability
	}
	asset, err := t.store.asset(assetID)
	if err != nil {
		return nil, err
	}
	if asset.Owner != VaultAddress() {
		return nil, fmt.Errorf("market: escrow holding for %x not custodied by vault", assetID)
	}
	return asset, nil
}

// release hands the escrowed asset to recipient. It only succeeds with a
// capability issued by reg for the listing that owns the holding.
func release(t *txn, reg *Registry, capability Capability, assetID [32]byte, recipient [20]byte) (*Asset, error) {
	asset, err := releasable(t, reg, capability, assetID)
	if err != nil {
		return nil, err
	}
	asset.Owner = recipient
	if err := t.store.putAsset(asset); err != nil {
		return nil, err
	}
	if err := t.store.deleteHolding(assetID); err != nil {
		return nil, err
	}
	return asset, nil
}

// Holding returns the escrow record for assetID, or nil when the asset is not
// in custody.
func (e *Engine) Holding(assetID [32]byte) (*Holding, error) {
	var out *Holding
	err := e.view(func(s *marketStore) error {
		holding, err := s.holding(assetID)
		if err != nil {
			return err
		}
		if holding != nil {
			clone := *holding
			out = &clone
		}
		return nil
	})
	return out, err
}
