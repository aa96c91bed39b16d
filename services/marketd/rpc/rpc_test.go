package rpc

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"servicemarket/crypto"
	"servicemarket/gateway/middleware"
	"servicemarket/native/market"
	"servicemarket/services/marketd/api"
	"servicemarket/storage"
)

func startServer(t *testing.T, auth *middleware.Authenticator) func(principal [20]byte, token string) *Client {
	t.Helper()
	engine := market.NewEngine(storage.NewMemDB())
	engine.SetEntropy(bytes.NewReader(bytes.Repeat([]byte{3}, 32)))

	lis := bufconn.Listen(1024 * 1024)
	srv := NewGRPCServer(NewServer(api.NewService(engine), auth, []string{"market:write"}, nil))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	return func(principal [20]byte, token string) *Client {
		client, err := Dial("bufnet", DialOptions{Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)}})
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { _ = client.Close() })
		client.Principal = principal
		client.Token = token
		client.Timeout = 2 * time.Second
		return client
	}
}

func TestGRPCSettlementRoundTrip(t *testing.T) {
	connect := startServer(t, nil)
	authority := connect([20]byte{0xA0}, "")
	vendor := connect([20]byte{0x01}, "")
	buyerID := [20]byte{0x02}
	buyer := connect(buyerID, "")
	ctx := context.Background()

	var reg api.RegistryView
	if err := authority.Call(ctx, MethodInitRegistry, map[string]any{"royaltyPercent": 10}, &reg); err != nil {
		t.Fatalf("init: %v", err)
	}
	if reg.RoyaltyPercent != 10 {
		t.Fatalf("royalty = %d", reg.RoyaltyPercent)
	}
	var asset api.AssetView
	if err := vendor.Call(ctx, MethodMintAsset, api.MintAssetRequest{Name: "design", URI: "ipfs://design"}, &asset); err != nil {
		t.Fatalf("mint: %v", err)
	}
	var listing api.ListingView
	if err := vendor.Call(ctx, MethodCreateListing, map[string]any{"name": "design", "price": "500", "paymentAsset": "usdc", "assetId": asset.ID}, &listing); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := authority.Call(ctx, MethodDeposit, map[string]any{"account": crypto.FormatPrincipal(buyerID), "asset": "usdc", "amount": "599"}, nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := buyer.Call(ctx, MethodPurchase, map[string]any{"listing": "design"}, nil); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	var receipt api.ReceiptView
	if err := buyer.Call(ctx, MethodResell, map[string]any{"listing": listing.ID, "price": "999"}, &receipt); err != nil {
		t.Fatalf("resell: %v", err)
	}
	if receipt.Royalty != "99" || receipt.SellerAmount != "900" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	var list struct {
		Listings []api.ListingView `json:"listings"`
	}
	if err := buyer.Call(ctx, MethodListListings, map[string]any{"status": "escrowed"}, &list); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Listings) != 1 || list.Listings[0].Price != "900" {
		t.Fatalf("unexpected listings: %+v", list.Listings)
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	connect := startServer(t, nil)
	ctx := context.Background()

	anonymous := connect([20]byte{}, "")
	err := anonymous.Call(ctx, MethodInitRegistry, map[string]any{}, nil)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	caller := connect([20]byte{0x05}, "")
	err = caller.Call(ctx, MethodGetRegistry, nil, nil)
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}
	err = caller.Call(ctx, MethodInitRegistry, map[string]any{"bogus": true}, nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGRPCBearerAuth(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: "grpc-secret"}, nil)
	connect := startServer(t, auth)
	ctx := context.Background()
	principal := [20]byte{0x0B}

	token, err := middleware.IssueToken("grpc-secret", middleware.TokenRequest{Principal: principal, Scopes: []string{"market:write"}})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	var reg api.RegistryView
	if err := connect([20]byte{}, token).Call(ctx, MethodInitRegistry, map[string]any{}, &reg); err != nil {
		t.Fatalf("init: %v", err)
	}
	if reg.Authority != crypto.FormatPrincipal(principal) {
		t.Fatalf("authority = %s", reg.Authority)
	}

	noScope, _ := middleware.IssueToken("grpc-secret", middleware.TokenRequest{Principal: principal})
	err = connect([20]byte{}, noScope).Call(ctx, MethodMintAsset, map[string]any{}, nil)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}

	err = connect(principal, "").Call(ctx, MethodMintAsset, api.MintAssetRequest{Name: "x", URI: "ipfs://x"}, nil)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("metadata principal must be ignored with auth enabled, got %v", err)
	}
}
