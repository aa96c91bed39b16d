package market

import (
	"servicemarket/core/state"
	"servicemarket/storage"
)

var (
	registryKey      = []byte("market/registry")
	listingIndexKey  = []byte("market/listings")
	listingKeyPrefix = []byte("market/listing/")
	assetKeyPrefix   = []byte("market/asset/")
	holdingKeyPrefix = []byte("market/escrow/")
)

func prefixedKey(prefix []byte, id [32]byte) []byte {
	key := make([]byte, len(prefix)+len(id))
	copy(key, prefix)
	copy(key[len(prefix):], id[:])
	return key
}

// marketStore layers the marketplace records over a state manager bound to
// one storage transaction.
type marketStore struct {
	mgr *state.Manager
}

func newMarketStore(tx storage.Tx) *marketStore {
	return &marketStore{mgr: state.NewManager(tx)}
}

func (s *marketStore) registry() (*Registry, error) {
	reg := new(Registry)
	ok, err := s.mgr.KVGet(registryKey, reg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUninitialized
	}
	return reg, nil
}

func (s *marketStore) putRegistry(reg *Registry) error {
	return s.mgr.KVPut(registryKey, reg)
}

func (s *marketStore) listing(id [32]byte) (*Listing, error) {
	listing := new(Listing)
	ok, err := s.mgr.KVGet(prefixedKey(listingKeyPrefix, id), listing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

func (s *marketStore) listingExists(id [32]byte) (bool, error) {
	return s.mgr.KVHas(prefixedKey(listingKeyPrefix, id))
}

func (s *marketStore) putListing(listing *Listing) error {
	return s.mgr.KVPut(prefixedKey(listingKeyPrefix, listing.ID), listing)
}

func (s *marketStore) indexListing(id [32]byte) error {
	return s.mgr.KVAppend(listingIndexKey, id[:])
}

func (s *marketStore) listingIDs() ([][32]byte, error) {
	var raw [][]byte
	if err := s.mgr.KVGetList(listingIndexKey, &raw); err != nil {
		return nil, err
	}
	ids := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		var id [32]byte
		copy(id[:], entry)
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *marketStore) asset(id [32]byte) (*Asset, error) {
	asset := new(Asset)
	ok, err := s.mgr.KVGet(prefixedKey(assetKeyPrefix, id), asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetNotFound
	}
	return asset, nil
}

func (s *marketStore) assetExists(id [32]byte) (bool, error) {
	return s.mgr.KVHas(prefixedKey(assetKeyPrefix, id))
}

func (s *marketStore) putAsset(asset *Asset) error {
	return s.mgr.KVPut(prefixedKey(assetKeyPrefix, asset.ID), asset)
}

// holding returns the escrow record for assetID, or nil when the asset is not
// in custody.
func (s *marketStore) holding(assetID [32]byte) (*Holding, error) {
	holding := new(Holding)
	ok, err := s.mgr.KVGet(prefixedKey(holdingKeyPrefix, assetID), holding)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return holding, nil
}

func (s *marketStore) putHolding(holding *Holding) error {
	return s.mgr.KVPut(prefixedKey(holdingKeyPrefix, holding.AssetID), holding)
}

func (s *marketStore) deleteHolding(assetID [32]byte) error {
	return s.mgr.KVDelete(prefixedKey(holdingKeyPrefix, assetID))
}

func (s *marketStore) balance(addr [20]byte, asset string) (uint64, error) {
	return s.mgr.Balance(addr[:], asset)
}

func (s *marketStore) setBalance(addr [20]byte, asset string, amount uint64) error {
	return s.mgr.SetBalance(addr[:], asset, amount)
}
