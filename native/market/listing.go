package market

// CreateListing registers a service for sale and escrows its asset. The
// duplicate check, escrow deposit, listing write and registry counter bump
// commit together or not at all.
func (e *Engine) CreateListing(params CreateListingParams) (*Listing, error) {
	name, err := NormalizeName(params.Name)
	if err != nil {
		return nil, err
	}
	if len(params.Description) > MaxDescriptionLength {
		return nil, ErrInvalidDescription
	}
	symbol, err := e.paymentAsset(params.PaymentAsset)
	if err != nil {
		return nil, err
	}
	id, err := ListingID(name)
	if err != nil {
		return nil, err
	}
	var out *Listing
	err = e.update(func(t *txn) error {
		reg, err := t.activeRegistry()
		if err != nil {
			return err
		}
		exists, err := t.store.listingExists(id)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateListing
		}
		if _, err := lock(t, reg, params.AssetID, id, params.Vendor); err != nil {
			return err
		}
		listing := &Listing{
			ID:           id,
			Name:         name,
			Description:  params.Description,
			Creator:      params.Vendor,
			Owner:        params.Vendor,
			Price:        params.Price,
			PaymentAsset: symbol,
			AssetID:      params.AssetID,
			Soulbound:    params.Soulbound,
			Status:       ListingEscrowed,
			CreatedAt:    t.timestamp(),
			UpdatedAt:    t.timestamp(),
		}
		if err := t.store.putListing(listing); err != nil {
			return err
		}
		if err := t.store.indexListing(id); err != nil {
			return err
		}
		if err := incrementServiceCount(t, reg); err != nil {
			return err
		}
		t.emit(ListingCreated{Listing: listing.Clone()})
		out = listing.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WithdrawListing delists an escrowed listing and returns the asset to its
// current owner. The listing name stays reserved.
func (e *Engine) WithdrawListing(id [32]byte, caller [20]byte) (*Listing, error) {
	var out *Listing
	err := e.update(func(t *txn) error {
		reg, err := t.activeRegistry()
		if err != nil {
			return err
		}
		listing, err := t.store.listing(id)
		if err != nil {
			return err
		}
		if listing.Status != ListingEscrowed {
			return ErrListingUnavailable
		}
		if listing.Owner != caller {
			return ErrNotOwner
		}
		if _, err := release(t, reg, reg.IssueCapability(id), listing.AssetID, listing.Owner); err != nil {
			return err
		}
		listing.Status = ListingWithdrawn
		listing.UpdatedAt = t.timestamp()
		if err := t.store.putListing(listing); err != nil {
			return err
		}
		t.emit(ListingWithdrawnEvent{Listing: listing.Clone()})
		out = listing.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Listing looks up a listing by identifier.
func (e *Engine) Listing(id [32]byte) (*Listing, error) {
	var out *Listing
	err := e.view(func(s *marketStore) error {
		listing, err := s.listing(id)
		if err != nil {
			return err
		}
		out = listing.Clone()
		return nil
	})
	return out, err
}

// ListingByName looks up a listing by its registered name.
func (e *Engine) ListingByName(name string) (*Listing, error) {
	id, err := ListingID(name)
	if err != nil {
		return nil, err
	}
	return e.Listing(id)
}

// Listings returns every listing in creation order.
func (e *Engine) Listings() ([]*Listing, error) {
	var out []*Listing
	err := e.view(func(s *marketStore) error {
		ids, err := s.listingIDs()
		if err != nil {
			return err
		}
		out = make([]*Listing, 0, len(ids))
		for _, id := range ids {
			listing, err := s.listing(id)
			if err != nil {
				return err
			}
			out = append(out, listing)
		}
		return nil
	})
	return out, err
}
