package market

import (
	"net/url"
	"strings"
)

// MintAsset creates a unique service asset owned by owner. The asset
// identifier is derived from its name, so a name can only be minted once.
func (e *Engine) MintAsset(owner [20]byte, name, uri string) (*Asset, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	cleanURI, err := validateURI(uri)
	if err != nil {
		return nil, err
	}
	id, err := AssetID(normalized)
	if err != nil {
		return nil, err
	}
	var out *Asset
	err = e.update(func(t *txn) error {
		if _, err := t.store.registry(); err != nil {
			return err
		}
		exists, err := t.store.assetExists(id)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateAsset
		}
		asset := &Asset{
			ID:              id,
			Name:            normalized,
			URI:             cleanURI,
			MetadataHash:    metadataHash(normalized, cleanURI),
			Creator:         owner,
			Owner:           owner,
			FreezeAuthority: owner,
			MintedAt:        t.timestamp(),
		}
		if err := t.store.putAsset(asset); err != nil {
			return err
		}
		t.emit(AssetMinted{Asset: asset.Clone()})
		out = asset.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransferAsset moves an unescrowed asset between principals. When the asset
// belongs to a listing, the listing's owner follows the asset.
func (e *Engine) TransferAsset(assetID [32]byte, from, to [20]byte) (*Asset, error) {
	var out *Asset
	err := e.update(func(t *txn) error {
		if _, err := t.store.registry(); err != nil {
			return err
		}
		asset, err := t.store.asset(assetID)
		if err != nil {
			return err
		}
		if from == VaultAddress() {
			return ErrUnauthorized
		}
		if holding, err := t.store.holding(assetID); err != nil {
			return err
		} else if holding != nil {
			return ErrAlreadyEscrowed
		}
		if asset.Owner != from {
			return ErrNotOwner
		}
		if asset.Frozen {
			return ErrAssetFrozen
		}
		asset.Owner = to
		if err := t.store.putAsset(asset); err != nil {
			return err
		}
		if asset.ListingID != ([32]byte{}) {
			listing, err := t.store.listing(asset.ListingID)
			if err != nil {
				return err
			}
			listing.Owner = to
			listing.UpdatedAt = t.timestamp()
			if err := t.store.putListing(listing); err != nil {
				return err
			}
		}
		t.emit(AssetTransferred{AssetID: assetID, From: from, To: to})
		out = asset.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetAssetFrozen freezes or thaws an asset. Only the freeze authority may do
// so; soulbound assets have none and stay frozen for good.
func (e *Engine) SetAssetFrozen(caller [20]byte, assetID [32]byte, frozen bool) (*Asset, error) {
	var out *Asset
	err := e.update(func(t *txn) error {
		if _, err := t.store.registry(); err != nil {
			return err
		}
		asset, err := t.store.asset(assetID)
		if err != nil {
			return err
		}
		if asset.FreezeAuthority == ([20]byte{}) || caller != asset.FreezeAuthority {
			return ErrUnauthorized
		}
		if holding, err := t.store.holding(assetID); err != nil {
			return err
		} else if holding != nil {
			return ErrAlreadyEscrowed
		}
		asset.Frozen = frozen
		if err := t.store.putAsset(asset); err != nil {
			return err
		}
		t.emit(AssetFreezeChanged{AssetID: assetID, Frozen: frozen})
		out = asset.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Asset looks up an asset by identifier.
func (e *Engine) Asset(id [32]byte) (*Asset, error) {
	var out *Asset
	err := e.view(func(s *marketStore) error {
		asset, err := s.asset(id)
		if err != nil {
			return err
		}
		out = asset.Clone()
		return nil
	})
	return out, err
}

func validateURI(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > MaxURILength {
		return "", ErrInvalidURI
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" {
		return "", ErrInvalidURI
	}
	return trimmed, nil
}
