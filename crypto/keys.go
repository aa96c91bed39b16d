package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the bech32 human-readable part of a principal.
type AddressPrefix string

// MarketPrefix tags every principal known to the marketplace.
const MarketPrefix AddressPrefix = "svc"

// Address is a 20-byte principal paired with its display prefix.
type Address struct {
	prefix AddressPrefix
	bytes  [20]byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes, got %d", len(b))
	}
	var out Address
	out.prefix = prefix
	copy(out.bytes[:], b)
	return out, nil
}

// PrincipalAddress wraps a raw principal with the marketplace prefix.
func PrincipalAddress(raw [20]byte) Address {
	return Address{prefix: MarketPrefix, bytes: raw}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		return "0x" + hex.EncodeToString(a.bytes[:])
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		return "0x" + hex.EncodeToString(a.bytes[:])
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, 20)
	copy(out, a.bytes[:])
	return out
}

// Raw returns the fixed-size principal.
func (a Address) Raw() [20]byte { return a.bytes }

func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ParsePrincipal accepts either the bech32 form (svc1...) or a 0x-prefixed
// hex encoding of the 20 principal bytes.
func ParsePrincipal(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("principal required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return [20]byte{}, fmt.Errorf("invalid hex principal: %w", err)
		}
		addr, err := NewAddress(MarketPrefix, raw)
		if err != nil {
			return [20]byte{}, err
		}
		return addr.Raw(), nil
	}
	addr, err := DecodeAddress(strings.ToLower(trimmed))
	if err != nil {
		return [20]byte{}, err
	}
	if addr.Prefix() != MarketPrefix {
		return [20]byte{}, fmt.Errorf("unexpected principal prefix %q", addr.Prefix())
	}
	return addr.Raw(), nil
}

// FormatPrincipal renders a principal in its bech32 form.
func FormatPrincipal(raw [20]byte) string {
	return PrincipalAddress(raw).String()
}

// DerivePrincipal hashes the seeds into a deterministic principal that no key
// controls. Used for module accounts such as the escrow vault.
func DerivePrincipal(seeds ...[]byte) [20]byte {
	digest := crypto.Keccak256(seeds...)
	var out [20]byte
	copy(out[:], digest[12:])
	return out
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the principal controlled by the key.
func (k *PublicKey) Address() Address {
	return PrincipalAddress(crypto.PubkeyToAddress(*k.PublicKey))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
