package market

import (
	"crypto/subtle"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/text/unicode/norm"
	"lukechampine.com/blake3"

	"servicemarket/crypto"
)

const (
	// DefaultRoyaltyPercent is applied when the registry is initialised
	// without an explicit rate.
	DefaultRoyaltyPercent uint8 = 5

	MaxNameLength        = 32
	MaxDescriptionLength = 256
	MaxURILength         = 200
)

var paymentAssetPattern = regexp.MustCompile(`^[A-Z0-9]{2,12}$`)

// Registry is the singleton marketplace configuration. It is loaded inside
// every operation and handed explicitly to the vault and settlement code.
type Registry struct {
	Authority      [20]byte
	TotalServices  uint64
	RoyaltyPercent uint8
	Paused         bool
	CapabilityKey  [32]byte
	CreatedAt      uint64
	UpdatedAt      uint64
}

// Clone returns a copy safe for callers to mutate. The capability key is
// scrubbed because it never leaves the engine.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	clone := *r
	clone.CapabilityKey = [32]byte{}
	return &clone
}

// Capability authorises the escrow vault to release the asset held for one
// listing. Only the registry can mint a tag that verifies.
type Capability struct {
	ListingID [32]byte
	Tag       [32]byte
}

// IssueCapability mints a release capability bound to listingID.
func (r *Registry) IssueCapability(listingID [32]byte) Capability {
	hasher := blake3.New(32, r.CapabilityKey[:])
	_, _ = hasher.Write([]byte("escrow-release"))
	_, _ = hasher.Write(listingID[:])
	issued := Capability{ListingID: listingID}
	copy(issued.Tag[:], hasher.Sum(nil))
	return issued
}

// VerifyCapability reports whether c was issued by this registry.
func (r *Registry) VerifyCapability(c Capability) bool {
	expected := r.IssueCapability(c.ListingID)
	return subtle.ConstantTimeCompare(expected.Tag[:], c.Tag[:]) == 1
}

// ListingStatus tracks where a listing sits in its lifecycle.
type ListingStatus uint8

const (
	ListingEscrowed ListingStatus = iota + 1
	ListingSold
	ListingWithdrawn
)

func (s ListingStatus) String() string {
	switch s {
	case ListingEscrowed:
		return "escrowed"
	case ListingSold:
		return "sold"
	case ListingWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Listing is a service offered for sale. Creator never changes; Owner follows
// the asset through purchases.
type Listing struct {
	ID           [32]byte
	Name         string
	Description  string
	Creator      [20]byte
	Owner        [20]byte
	Price        uint64
	PaymentAsset string
	AssetID      [32]byte
	Soulbound    bool
	Status       ListingStatus
	Sales        uint64
	CreatedAt    uint64
	UpdatedAt    uint64
}

func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	return &clone
}

// Asset is a unique, non-fungible service token.
type Asset struct {
	ID              [32]byte
	Name            string
	URI             string
	MetadataHash    [32]byte
	Creator         [20]byte
	Owner           [20]byte
	ListingID       [32]byte
	Frozen          bool
	FreezeAuthority [20]byte
	MintedAt        uint64
}

func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}

// Soulbound reports whether the asset is frozen with nobody able to thaw it.
func (a *Asset) Soulbound() bool {
	return a != nil && a.Frozen && a.FreezeAuthority == ([20]byte{})
}

// Holding records custody of an asset by the escrow vault.
type Holding struct {
	AssetID   [32]byte
	ListingID [32]byte
	Depositor [20]byte
	LockedAt  uint64
}

// ReceiptKind distinguishes purchase and resale settlements.
type ReceiptKind string

const (
	ReceiptPurchase ReceiptKind = "purchase"
	ReceiptResale   ReceiptKind = "resale"
)

// Receipt summarises one settled purchase or resale.
type Receipt struct {
	Kind         ReceiptKind
	ListingID    [32]byte
	Name         string
	AssetID      [32]byte
	From         [20]byte
	To           [20]byte
	PaymentAsset string
	Gross        uint64
	Royalty      uint64
	SellerAmount uint64
	Treasury     [20]byte
	Timestamp    int64
}

// CreateListingParams describes a new listing.
type CreateListingParams struct {
	Vendor       [20]byte
	Name         string
	Description  string
	Price        uint64
	PaymentAsset string
	AssetID      [32]byte
	Soulbound    bool
}

// ListingID derives the identifier of the listing registered under name.
func ListingID(name string) ([32]byte, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return [32]byte{}, err
	}
	return ethcrypto.Keccak256Hash([]byte("service"), []byte(normalized)), nil
}

// AssetID derives the identifier of the asset minted under name.
func AssetID(name string) ([32]byte, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return [32]byte{}, err
	}
	return ethcrypto.Keccak256Hash([]byte("nft_mint"), []byte(normalized)), nil
}

// VaultAddress is the principal that custodies escrowed assets.
func VaultAddress() [20]byte {
	return crypto.DerivePrincipal([]byte("escrow_vault"))
}

// TreasuryAddress is the principal collecting royalties paid in asset.
func TreasuryAddress(asset string) [20]byte {
	return crypto.DerivePrincipal([]byte("marketplace_vault"), []byte(strings.ToUpper(strings.TrimSpace(asset))))
}

// NormalizeName trims and NFC-normalises a listing or asset name so visually
// identical names map to the same identifier.
func NormalizeName(name string) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(name))
	if normalized == "" || len(normalized) > MaxNameLength {
		return "", ErrInvalidName
	}
	for _, r := range normalized {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return "", ErrInvalidName
		}
	}
	return normalized, nil
}

// NormalizePaymentAsset upper-cases a payment asset symbol and checks its
// shape.
func NormalizePaymentAsset(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if !paymentAssetPattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAsset, symbol)
	}
	return normalized, nil
}

func metadataHash(name, uri string) [32]byte {
	return blake3.Sum256([]byte(name + "\x00" + uri))
}
