package market

// Settlement runs in two phases inside a single transaction: prepare reads
// state and performs every check, apply only writes. A plan that prepared
// successfully cannot fail for business reasons while applying.

type purchasePlan struct {
	reg        *Registry
	listing    *Listing
	buyer      [20]byte
	seller     [20]byte
	payment    *transferPlan
	capability Capability
}

func preparePurchase(t *txn, id [32]byte, buyer [20]byte) (*purchasePlan, error) {
	reg, err := t.activeRegistry()
	if err != nil {
		return nil, err
	}
	listing, err := t.store.listing(id)
	if err != nil {
		return nil, err
	}
	if listing.Status != ListingEscrowed {
		return nil, ErrListingUnavailable
	}
	capability := reg.IssueCapability(id)
	if _, err := releasable(t, reg, capability, listing.AssetID); err != nil {
		return nil, err
	}
	payment, err := planTransfer(t, buyer, listing.Owner, listing.PaymentAsset, listing.Price)
	if err != nil {
		return nil, err
	}
	if _, err := checkedAdd(listing.Sales, 1); err != nil {
		return nil, err
	}
	return &purchasePlan{
		reg:        reg,
		listing:    listing,
		buyer:      buyer,
		seller:     listing.Owner,
		payment:    payment,
		capability: capability,
	}, nil
}

func (p *purchasePlan) apply(t *txn) (*Receipt, error) {
	if err := p.payment.apply(t); err != nil {
		return nil, err
	}
	asset, err := release(t, p.reg, p.capability, p.listing.AssetID, p.buyer)
	if err != nil {
		return nil, err
	}
	if p.listing.Soulbound {
		asset.Frozen = true
		asset.FreezeAuthority = [20]byte{}
		if err := t.store.putAsset(asset); err != nil {
			return nil, err
		}
	}
	p.listing.Owner = p.buyer
	p.listing.Status = ListingSold
	p.listing.Sales++
	p.listing.UpdatedAt = t.timestamp()
	if err := t.store.putListing(p.listing); err != nil {
		return nil, err
	}
	return &Receipt{
		Kind:         ReceiptPurchase,
		ListingID:    p.listing.ID,
		Name:         p.listing.Name,
		AssetID:      p.listing.AssetID,
		From:         p.seller,
		To:           p.buyer,
		PaymentAsset: p.listing.PaymentAsset,
		Gross:        p.listing.Price,
		SellerAmount: p.listing.Price,
		Timestamp:    t.now,
	}, nil
}

// Purchase settles an escrowed listing: the buyer pays the listed price to
// the current owner and receives the asset from escrow. Payment and asset
// transfer commit together.
func (e *Engine) Purchase(id [32]byte, buyer [20]byte) (*Receipt, error) {
	var receipt *Receipt
	err := e.update(func(t *txn) error {
		plan, err := preparePurchase(t, id, buyer)
		if err != nil {
			return err
		}
		receipt, err = plan.apply(t)
		if err != nil {
			return err
		}
		t.emit(ListingPurchased{Receipt: *receipt})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

type resalePlan struct {
	reg          *Registry
	listing      *Listing
	seller       [20]byte
	newPrice     uint64
	royalty      uint64
	sellerAmount uint64
	treasury     [20]byte
	payment      *transferPlan
}

func prepareResale(t *txn, id [32]byte, seller [20]byte, newPrice uint64) (*resalePlan, error) {
	reg, err := t.activeRegistry()
	if err != nil {
		return nil, err
	}
	listing, err := t.store.listing(id)
	if err != nil {
		return nil, err
	}
	if listing.Soulbound {
		return nil, ErrSoulboundNotResellable
	}
	if listing.Status != ListingSold && listing.Status != ListingWithdrawn {
		return nil, ErrListingUnavailable
	}
	if listing.Owner != seller {
		return nil, ErrNotOwner
	}
	asset, err := t.store.asset(listing.AssetID)
	if err != nil {
		return nil, err
	}
	if asset.Soulbound() {
		return nil, ErrSoulboundNotResellable
	}
	if _, err := lockable(t, listing.AssetID, seller); err != nil {
		return nil, err
	}
	royalty, sellerAmount, err := SplitRoyalty(newPrice, reg.RoyaltyPercent)
	if err != nil {
		return nil, err
	}
	treasury := TreasuryAddress(listing.PaymentAsset)
	payment, err := planTransfer(t, seller, treasury, listing.PaymentAsset, royalty)
	if err != nil {
		return nil, err
	}
	return &resalePlan{
		reg:          reg,
		listing:      listing,
		seller:       seller,
		newPrice:     newPrice,
		royalty:      royalty,
		sellerAmount: sellerAmount,
		treasury:     treasury,
		payment:      payment,
	}, nil
}

func (p *resalePlan) apply(t *txn) (*Receipt, error) {
	if err := p.payment.apply(t); err != nil {
		return nil, err
	}
	if _, err := lock(t, p.reg, p.listing.AssetID, p.listing.ID, p.seller); err != nil {
		return nil, err
	}
	p.listing.Price = p.sellerAmount
	p.listing.Status = ListingEscrowed
	p.listing.UpdatedAt = t.timestamp()
	if err := t.store.putListing(p.listing); err != nil {
		return nil, err
	}
	return &Receipt{
		Kind:         ReceiptResale,
		ListingID:    p.listing.ID,
		Name:         p.listing.Name,
		AssetID:      p.listing.AssetID,
		From:         p.seller,
		To:           VaultAddress(),
		PaymentAsset: p.listing.PaymentAsset,
		Gross:        p.newPrice,
		Royalty:      p.royalty,
		SellerAmount: p.sellerAmount,
		Treasury:     p.treasury,
		Timestamp:    t.now,
	}, nil
}

// Resell relists a previously purchased service. The seller pays the
// marketplace royalty on newPrice into the treasury, the asset returns to
// escrow and the listing price becomes newPrice minus the royalty.
func (e *Engine) Resell(id [32]byte, seller [20]byte, newPrice uint64) (*Receipt, error) {
	var receipt *Receipt
	err := e.update(func(t *txn) error {
		plan, err := prepareResale(t, id, seller, newPrice)
		if err != nil {
			return err
		}
		receipt, err = plan.apply(t)
		if err != nil {
			return err
		}
		t.emit(ListingResold{Receipt: *receipt})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
