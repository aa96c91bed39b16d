package market

import (
	"encoding/hex"
	"strconv"

	"servicemarket/core/events"
	"servicemarket/crypto"
)

const (
	EventTypeRegistryInitialized = "market.registry.initialized"
	EventTypeRegistryUpdated     = "market.registry.updated"
	EventTypeAssetMinted         = "market.asset.minted"
	EventTypeAssetTransferred    = "market.asset.transferred"
	EventTypeAssetFreezeChanged  = "market.asset.freeze_changed"
	EventTypeListingCreated      = "market.listing.created"
	EventTypeListingPurchased    = "market.listing.purchased"
	EventTypeListingResold       = "market.listing.resold"
	EventTypeListingWithdrawn    = "market.listing.withdrawn"
	EventTypeFundsDeposited      = "market.ledger.deposited"
	EventTypeTreasuryWithdrawn   = "market.treasury.withdrawn"
)

type RegistryInitialized struct {
	Authority      [20]byte
	RoyaltyPercent uint8
}

func (RegistryInitialized) EventType() string { return EventTypeRegistryInitialized }

func (e RegistryInitialized) Record() events.Record {
	return events.Record{Type: EventTypeRegistryInitialized, Attributes: map[string]string{
		"authority":      crypto.FormatPrincipal(e.Authority),
		"royaltyPercent": strconv.Itoa(int(e.RoyaltyPercent)),
	}}
}

type RegistryUpdated struct {
	Authority      [20]byte
	RoyaltyPercent uint8
	Paused         bool
}

func (RegistryUpdated) EventType() string { return EventTypeRegistryUpdated }

func (e RegistryUpdated) Record() events.Record {
	return events.Record{Type: EventTypeRegistryUpdated, Attributes: map[string]string{
		"authority":      crypto.FormatPrincipal(e.Authority),
		"royaltyPercent": strconv.Itoa(int(e.RoyaltyPercent)),
		"paused":         strconv.FormatBool(e.Paused),
	}}
}

type AssetMinted struct {
	Asset *Asset
}

func (AssetMinted) EventType() string { return EventTypeAssetMinted }

func (e AssetMinted) Record() events.Record {
	attrs := map[string]string{}
	if e.Asset != nil {
		attrs["assetId"] = hexID(e.Asset.ID)
		attrs["name"] = e.Asset.Name
		attrs["uri"] = e.Asset.URI
		attrs["owner"] = crypto.FormatPrincipal(e.Asset.Owner)
		attrs["metadataHash"] = hexID(e.Asset.MetadataHash)
	}
	return events.Record{Type: EventTypeAssetMinted, Attributes: attrs}
}

type AssetTransferred struct {
	AssetID  [32]byte
	From, To [20]byte
}

func (AssetTransferred) EventType() string { return EventTypeAssetTransferred }

func (e AssetTransferred) Record() events.Record {
	return events.Record{Type: EventTypeAssetTransferred, Attributes: map[string]string{
		"assetId": hexID(e.AssetID),
		"from":    crypto.FormatPrincipal(e.From),
		"to":      crypto.FormatPrincipal(e.To),
	}}
}

type AssetFreezeChanged struct {
	AssetID [32]byte
	Frozen  bool
}

func (AssetFreezeChanged) EventType() string { return EventTypeAssetFreezeChanged }

func (e AssetFreezeChanged) Record() events.Record {
	return events.Record{Type: EventTypeAssetFreezeChanged, Attributes: map[string]string{
		"assetId": hexID(e.AssetID),
		"frozen":  strconv.FormatBool(e.Frozen),
	}}
}

type ListingCreated struct {
	Listing *Listing
}

func (ListingCreated) EventType() string { return EventTypeListingCreated }

func (e ListingCreated) Record() events.Record {
	return events.Record{Type: EventTypeListingCreated, Attributes: listingAttributes(e.Listing)}
}

type ListingWithdrawnEvent struct {
	Listing *Listing
}

func (ListingWithdrawnEvent) EventType() string { return EventTypeListingWithdrawn }

func (e ListingWithdrawnEvent) Record() events.Record {
	return events.Record{Type: EventTypeListingWithdrawn, Attributes: listingAttributes(e.Listing)}
}

type ListingPurchased struct {
	Receipt Receipt
}

func (ListingPurchased) EventType() string { return EventTypeListingPurchased }

func (e ListingPurchased) Record() events.Record {
	return events.Record{Type: EventTypeListingPurchased, Attributes: receiptAttributes(e.Receipt)}
}

type ListingResold struct {
	Receipt Receipt
}

func (ListingResold) EventType() string { return EventTypeListingResold }

func (e ListingResold) Record() events.Record {
	return events.Record{Type: EventTypeListingResold, Attributes: receiptAttributes(e.Receipt)}
}

type FundsDeposited struct {
	Account [20]byte
	Asset   string
	Amount  uint64
	Balance uint64
}

func (FundsDeposited) EventType() string { return EventTypeFundsDeposited }

func (e FundsDeposited) Record() events.Record {
	return events.Record{Type: EventTypeFundsDeposited, Attributes: map[string]string{
		"account": crypto.FormatPrincipal(e.Account),
		"asset":   e.Asset,
		"amount":  strconv.FormatUint(e.Amount, 10),
		"balance": strconv.FormatUint(e.Balance, 10),
	}}
}

type TreasuryWithdrawn struct {
	Asset     string
	Recipient [20]byte
	Amount    uint64
}

func (TreasuryWithdrawn) EventType() string { return EventTypeTreasuryWithdrawn }

func (e TreasuryWithdrawn) Record() events.Record {
	return events.Record{Type: EventTypeTreasuryWithdrawn, Attributes: map[string]string{
		"asset":     e.Asset,
		"recipient": crypto.FormatPrincipal(e.Recipient),
		"amount":    strconv.FormatUint(e.Amount, 10),
	}}
}

func listingAttributes(l *Listing) map[string]string {
	attrs := map[string]string{}
	if l == nil {
		return attrs
	}
	attrs["listingId"] = hexID(l.ID)
	attrs["name"] = l.Name
	attrs["creator"] = crypto.FormatPrincipal(l.Creator)
	attrs["owner"] = crypto.FormatPrincipal(l.Owner)
	attrs["price"] = strconv.FormatUint(l.Price, 10)
	attrs["paymentAsset"] = l.PaymentAsset
	attrs["assetId"] = hexID(l.AssetID)
	attrs["soulbound"] = strconv.FormatBool(l.Soulbound)
	attrs["status"] = l.Status.String()
	return attrs
}

func receiptAttributes(r Receipt) map[string]string {
	attrs := map[string]string{
		"kind":         string(r.Kind),
		"listingId":    hexID(r.ListingID),
		"name":         r.Name,
		"assetId":      hexID(r.AssetID),
		"from":         crypto.FormatPrincipal(r.From),
		"to":           crypto.FormatPrincipal(r.To),
		"paymentAsset": r.PaymentAsset,
		"gross":        strconv.FormatUint(r.Gross, 10),
		"royalty":      strconv.FormatUint(r.Royalty, 10),
		"sellerAmount": strconv.FormatUint(r.SellerAmount, 10),
		"timestamp":    strconv.FormatInt(r.Timestamp, 10),
	}
	if r.Treasury != ([20]byte{}) {
		attrs["treasury"] = crypto.FormatPrincipal(r.Treasury)
	}
	return attrs
}

func hexID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

// ParseID decodes a hex listing or asset identifier, with or without a 0x
// prefix.
func ParseID(value string) ([32]byte, error) {
	var out [32]byte
	raw := value
	if len(raw) >= 2 && (raw[:2] == "0x" || raw[:2] == "0X") {
		raw = raw[2:]
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != len(out) {
		return out, ErrInvalidID
	}
	copy(out[:], decoded)
	return out, nil
}

// FormatID renders an identifier as lowercase hex.
func FormatID(id [32]byte) string { return hexID(id) }
