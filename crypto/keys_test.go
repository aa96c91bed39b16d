package crypto

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestPrincipalRoundTrip(t *testing.T) {
	var raw [20]byte
	copy(raw[:], bytes.Repeat([]byte{0x42}, 20))
	encoded := FormatPrincipal(raw)
	if !strings.HasPrefix(encoded, "svc1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	decoded, err := ParsePrincipal(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decoded != raw {
		t.Fatalf("round trip mismatch")
	}
	fromHex, err := ParsePrincipal("0x4242424242424242424242424242424242424242")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != raw {
		t.Fatalf("hex mismatch")
	}
}

func TestParsePrincipalRejectsForeignPrefix(t *testing.T) {
	var raw [20]byte
	addr, err := NewAddress("nhb", raw[:])
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	if _, err := ParsePrincipal(addr.String()); err == nil {
		t.Fatalf("expected prefix rejection")
	}
	if _, err := ParsePrincipal("0x1234"); err == nil {
		t.Fatalf("expected short hex rejection")
	}
}

func TestDerivePrincipalDeterministic(t *testing.T) {
	a := DerivePrincipal([]byte("marketplace_vault"), []byte("USDC"))
	b := DerivePrincipal([]byte("marketplace_vault"), []byte("USDC"))
	c := DerivePrincipal([]byte("marketplace_vault"), []byte("EURC"))
	if a != b {
		t.Fatalf("derivation not deterministic")
	}
	if a == c {
		t.Fatalf("distinct seeds collided")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	SetKeystoreWork(true)
	t.Cleanup(func() { SetKeystoreWork(false) })
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "vendor.json")
	if err := SaveToKeystore(path, key, "correct horse"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address().String() != key.PubKey().Address().String() {
		t.Fatalf("keystore returned a different key")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
