package api

import (
	"strconv"

	"servicemarket/crypto"
	"servicemarket/native/market"
)

// RegistryView is the wire form of the registry.
type RegistryView struct {
	Authority      string `json:"authority"`
	TotalServices  string `json:"totalServices"`
	RoyaltyPercent uint8  `json:"royaltyPercent"`
	Paused         bool   `json:"paused"`
	Vault          string `json:"vault"`
	CreatedAt      uint64 `json:"createdAt"`
	UpdatedAt      uint64 `json:"updatedAt"`
}

func NewRegistryView(reg *market.Registry) RegistryView {
	return RegistryView{
		Authority:      crypto.FormatPrincipal(reg.Authority),
		TotalServices:  strconv.FormatUint(reg.TotalServices, 10),
		RoyaltyPercent: reg.RoyaltyPercent,
		Paused:         reg.Paused,
		Vault:          crypto.FormatPrincipal(market.VaultAddress()),
		CreatedAt:      reg.CreatedAt,
		UpdatedAt:      reg.UpdatedAt,
	}
}

// ListingView is the wire form of a listing.
type ListingView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Creator      string `json:"creator"`
	Owner        string `json:"owner"`
	Price        string `json:"price"`
	PaymentAsset string `json:"paymentAsset"`
	AssetID      string `json:"assetId"`
	Soulbound    bool   `json:"soulbound"`
	Status       string `json:"status"`
	Sales        string `json:"sales"`
	CreatedAt    uint64 `json:"createdAt"`
	UpdatedAt    uint64 `json:"updatedAt"`
}

func NewListingView(l *market.Listing) ListingView {
	return ListingView{
		ID:           market.FormatID(l.ID),
		Name:         l.Name,
		Description:  l.Description,
		Creator:      crypto.FormatPrincipal(l.Creator),
		Owner:        crypto.FormatPrincipal(l.Owner),
		Price:        strconv.FormatUint(l.Price, 10),
		PaymentAsset: l.PaymentAsset,
		AssetID:      market.FormatID(l.AssetID),
		Soulbound:    l.Soulbound,
		Status:       l.Status.String(),
		Sales:        strconv.FormatUint(l.Sales, 10),
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}

// AssetView is the wire form of a service asset.
type AssetView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	URI             string `json:"uri"`
	MetadataHash    string `json:"metadataHash"`
	Creator         string `json:"creator"`
	Owner           string `json:"owner"`
	ListingID       string `json:"listingId,omitempty"`
	Frozen          bool   `json:"frozen"`
	Soulbound       bool   `json:"soulbound"`
	FreezeAuthority string `json:"freezeAuthority,omitempty"`
	MintedAt        uint64 `json:"mintedAt"`
}

func NewAssetView(a *market.Asset) AssetView {
	view := AssetView{
		ID:           market.FormatID(a.ID),
		Name:         a.Name,
		URI:          a.URI,
		MetadataHash: market.FormatID(a.MetadataHash),
		Creator:      crypto.FormatPrincipal(a.Creator),
		Owner:        crypto.FormatPrincipal(a.Owner),
		Frozen:       a.Frozen,
		Soulbound:    a.Soulbound(),
		MintedAt:     a.MintedAt,
	}
	if a.ListingID != ([32]byte{}) {
		view.ListingID = market.FormatID(a.ListingID)
	}
	if a.FreezeAuthority != ([20]byte{}) {
		view.FreezeAuthority = crypto.FormatPrincipal(a.FreezeAuthority)
	}
	return view
}

// HoldingView is the wire form of an escrow holding.
type HoldingView struct {
	AssetID   string `json:"assetId"`
	ListingID string `json:"listingId"`
	Depositor string `json:"depositor"`
	LockedAt  uint64 `json:"lockedAt"`
}

func NewHoldingView(h *market.Holding) HoldingView {
	return HoldingView{
		AssetID:   market.FormatID(h.AssetID),
		ListingID: market.FormatID(h.ListingID),
		Depositor: crypto.FormatPrincipal(h.Depositor),
		LockedAt:  h.LockedAt,
	}
}

// ReceiptView is the wire form of a settlement receipt.
type ReceiptView struct {
	Kind         string `json:"kind"`
	ListingID    string `json:"listingId"`
	Name         string `json:"name"`
	AssetID      string `json:"assetId"`
	From         string `json:"from"`
	To           string `json:"to"`
	PaymentAsset string `json:"paymentAsset"`
	Gross        string `json:"gross"`
	Royalty      string `json:"royalty"`
	SellerAmount string `json:"sellerAmount"`
	Treasury     string `json:"treasury,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

func NewReceiptView(r *market.Receipt) ReceiptView {
	view := ReceiptView{
		Kind:         string(r.Kind),
		ListingID:    market.FormatID(r.ListingID),
		Name:         r.Name,
		AssetID:      market.FormatID(r.AssetID),
		From:         crypto.FormatPrincipal(r.From),
		To:           crypto.FormatPrincipal(r.To),
		PaymentAsset: r.PaymentAsset,
		Gross:        strconv.FormatUint(r.Gross, 10),
		Royalty:      strconv.FormatUint(r.Royalty, 10),
		SellerAmount: strconv.FormatUint(r.SellerAmount, 10),
		Timestamp:    r.Timestamp,
	}
	if r.Treasury != ([20]byte{}) {
		view.Treasury = crypto.FormatPrincipal(r.Treasury)
	}
	return view
}

// BalanceView reports one account balance.
type BalanceView struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}
