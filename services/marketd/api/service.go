package api

import (
	"fmt"
	"strconv"
	"strings"

	"servicemarket/crypto"
	"servicemarket/native/market"
)

// Amount is a uint64 carried as a decimal string on the wire so clients
// never round it through a float.
type Amount uint64

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(a), 10))), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: amount %s", ErrInvalidRequest, string(data))
	}
	*a = Amount(value)
	return nil
}

type InitRegistryRequest struct {
	RoyaltyPercent *uint8 `json:"royaltyPercent,omitempty"`
}

type UpdateRoyaltyRequest struct {
	RoyaltyPercent uint8 `json:"royaltyPercent"`
}

type SetPausedRequest struct {
	Paused bool `json:"paused"`
}

type MintAssetRequest struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type TransferAssetRequest struct {
	AssetID string `json:"assetId"`
	To      string `json:"to"`
}

type FreezeAssetRequest struct {
	AssetID string `json:"assetId"`
	Frozen  bool   `json:"frozen"`
}

type CreateListingRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Price        Amount `json:"price"`
	PaymentAsset string `json:"paymentAsset"`
	AssetID      string `json:"assetId"`
	Soulbound    bool   `json:"soulbound,omitempty"`
}

type ResellRequest struct {
	Price Amount `json:"price"`
}

type DepositRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  Amount `json:"amount"`
}

type TreasuryWithdrawRequest struct {
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    Amount `json:"amount"`
}

// Service adapts engine calls to wire requests and views. The HTTP and gRPC
// surfaces share it.
type Service struct {
	engine *market.Engine
}

func NewService(engine *market.Engine) *Service {
	return &Service{engine: engine}
}

func (s *Service) Engine() *market.Engine { return s.engine }

func parsePrincipal(field, value string) ([20]byte, error) {
	principal, err := crypto.ParsePrincipal(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, field, err)
	}
	return principal, nil
}

func (s *Service) Registry() (RegistryView, error) {
	reg, err := s.engine.Registry()
	if err != nil {
		return RegistryView{}, err
	}
	return NewRegistryView(reg), nil
}

// InitRegistry makes the caller the registry authority.
func (s *Service) InitRegistry(caller [20]byte, req InitRegistryRequest) (RegistryView, error) {
	reg, err := s.engine.InitRegistry(caller, req.RoyaltyPercent)
	if err != nil {
		return RegistryView{}, err
	}
	return NewRegistryView(reg), nil
}

func (s *Service) UpdateRoyalty(caller [20]byte, req UpdateRoyaltyRequest) (RegistryView, error) {
	reg, err := s.engine.UpdateRoyalty(caller, req.RoyaltyPercent)
	if err != nil {
		return RegistryView{}, err
	}
	return NewRegistryView(reg), nil
}

func (s *Service) SetPaused(caller [20]byte, req SetPausedRequest) (RegistryView, error) {
	reg, err := s.engine.SetPaused(caller, req.Paused)
	if err != nil {
		return RegistryView{}, err
	}
	return NewRegistryView(reg), nil
}

func (s *Service) MintAsset(caller [20]byte, req MintAssetRequest) (AssetView, error) {
	asset, err := s.engine.MintAsset(caller, req.Name, req.URI)
	if err != nil {
		return AssetView{}, err
	}
	return NewAssetView(asset), nil
}

func (s *Service) Asset(id string) (AssetView, error) {
	assetID, err := market.ParseID(id)
	if err != nil {
		return AssetView{}, err
	}
	asset, err := s.engine.Asset(assetID)
	if err != nil {
		return AssetView{}, err
	}
	return NewAssetView(asset), nil
}

func (s *Service) TransferAsset(caller [20]byte, req TransferAssetRequest) (AssetView, error) {
	assetID, err := market.ParseID(req.AssetID)
	if err != nil {
		return AssetView{}, err
	}
	to, err := parsePrincipal("to", req.To)
	if err != nil {
		return AssetView{}, err
	}
	asset, err := s.engine.TransferAsset(assetID, caller, to)
	if err != nil {
		return AssetView{}, err
	}
	return NewAssetView(asset), nil
}

func (s *Service) FreezeAsset(caller [20]byte, req FreezeAssetRequest) (AssetView, error) {
	assetID, err := market.ParseID(req.AssetID)
	if err != nil {
		return AssetView{}, err
	}
	asset, err := s.engine.SetAssetFrozen(caller, assetID, req.Frozen)
	if err != nil {
		return AssetView{}, err
	}
	return NewAssetView(asset), nil
}

// Holding returns the escrow record for an asset; ok is false when the asset
// is not in custody.
func (s *Service) Holding(assetID string) (HoldingView, bool, error) {
	id, err := market.ParseID(assetID)
	if err != nil {
		return HoldingView{}, false, err
	}
	holding, err := s.engine.Holding(id)
	if err != nil || holding == nil {
		return HoldingView{}, false, err
	}
	return NewHoldingView(holding), true, nil
}

func (s *Service) CreateListing(caller [20]byte, req CreateListingRequest) (ListingView, error) {
	assetID, err := market.ParseID(req.AssetID)
	if err != nil {
		return ListingView{}, err
	}
	listing, err := s.engine.CreateListing(market.CreateListingParams{
		Vendor:       caller,
		Name:         req.Name,
		Description:  req.Description,
		Price:        uint64(req.Price),
		PaymentAsset: req.PaymentAsset,
		AssetID:      assetID,
		Soulbound:    req.Soulbound,
	})
	if err != nil {
		return ListingView{}, err
	}
	return NewListingView(listing), nil
}

// resolveListing accepts a hex identifier or a listing name.
func (s *Service) resolveListing(ref string) ([32]byte, error) {
	if id, err := market.ParseID(ref); err == nil {
		return id, nil
	}
	return market.ListingID(ref)
}

func (s *Service) Listing(ref string) (ListingView, error) {
	id, err := s.resolveListing(ref)
	if err != nil {
		return ListingView{}, err
	}
	listing, err := s.engine.Listing(id)
	if err != nil {
		return ListingView{}, err
	}
	return NewListingView(listing), nil
}

// Listings returns listings in creation order, optionally filtered by status.
func (s *Service) Listings(status string) ([]ListingView, error) {
	listings, err := s.engine.Listings()
	if err != nil {
		return nil, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	out := make([]ListingView, 0, len(listings))
	for _, listing := range listings {
		if status != "" && listing.Status.String() != status {
			continue
		}
		out = append(out, NewListingView(listing))
	}
	return out, nil
}

func (s *Service) Purchase(caller [20]byte, ref string) (ReceiptView, error) {
	id, err := s.resolveListing(ref)
	if err != nil {
		return ReceiptView{}, err
	}
	receipt, err := s.engine.Purchase(id, caller)
	if err != nil {
		return ReceiptView{}, err
	}
	return NewReceiptView(receipt), nil
}

func (s *Service) Resell(caller [20]byte, ref string, req ResellRequest) (ReceiptView, error) {
	id, err := s.resolveListing(ref)
	if err != nil {
		return ReceiptView{}, err
	}
	receipt, err := s.engine.Resell(id, caller, uint64(req.Price))
	if err != nil {
		return ReceiptView{}, err
	}
	return NewReceiptView(receipt), nil
}

func (s *Service) Withdraw(caller [20]byte, ref string) (ListingView, error) {
	id, err := s.resolveListing(ref)
	if err != nil {
		return ListingView{}, err
	}
	listing, err := s.engine.WithdrawListing(id, caller)
	if err != nil {
		return ListingView{}, err
	}
	return NewListingView(listing), nil
}

func (s *Service) Deposit(caller [20]byte, req DepositRequest) (BalanceView, error) {
	account, err := parsePrincipal("account", req.Account)
	if err != nil {
		return BalanceView{}, err
	}
	balance, err := s.engine.Deposit(caller, account, req.Asset, uint64(req.Amount))
	if err != nil {
		return BalanceView{}, err
	}
	symbol, _ := market.NormalizePaymentAsset(req.Asset)
	return BalanceView{Account: crypto.FormatPrincipal(account), Asset: symbol, Amount: strconv.FormatUint(balance, 10)}, nil
}

func (s *Service) Balance(account, asset string) (BalanceView, error) {
	principal, err := parsePrincipal("account", account)
	if err != nil {
		return BalanceView{}, err
	}
	symbol, err := market.NormalizePaymentAsset(asset)
	if err != nil {
		return BalanceView{}, err
	}
	balance, err := s.engine.Balance(principal, symbol)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{Account: crypto.FormatPrincipal(principal), Asset: symbol, Amount: strconv.FormatUint(balance, 10)}, nil
}

// Treasury reports the royalties collected for asset.
func (s *Service) Treasury(asset string) (BalanceView, error) {
	symbol, err := market.NormalizePaymentAsset(asset)
	if err != nil {
		return BalanceView{}, err
	}
	return s.Balance(crypto.FormatPrincipal(market.TreasuryAddress(symbol)), symbol)
}

func (s *Service) WithdrawTreasury(caller [20]byte, req TreasuryWithdrawRequest) (BalanceView, error) {
	recipient, err := parsePrincipal("recipient", req.Recipient)
	if err != nil {
		return BalanceView{}, err
	}
	if err := s.engine.WithdrawTreasury(caller, req.Asset, recipient, uint64(req.Amount)); err != nil {
		return BalanceView{}, err
	}
	return s.Treasury(req.Asset)
}
