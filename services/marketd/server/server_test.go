package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"servicemarket/core/events"
	"servicemarket/crypto"
	"servicemarket/gateway/middleware"
	"servicemarket/native/market"
	"servicemarket/services/marketd/api"
	"servicemarket/services/marketd/journal"
	"servicemarket/storage"
)

var (
	authority = [20]byte{0xA0}
	vendor    = [20]byte{0x01}
	buyer     = [20]byte{0x02}
)

type harness struct {
	handler http.Handler
	broker  *events.Broker
	journal *journal.Journal
}

func newHarness(t *testing.T, withJournal bool) *harness {
	t.Helper()
	engine := market.NewEngine(storage.NewMemDB())
	engine.SetEntropy(bytes.NewReader(bytes.Repeat([]byte{9}, 64)))
	broker := events.NewBroker(64)
	var j *journal.Journal
	emitters := events.Fanout{broker}
	if withJournal {
		var err error
		j, err = journal.Open(journal.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = j.Close() })
		emitters = append(emitters, j)
	}
	engine.SetEmitter(emitters)

	limit := middleware.RateLimit{RatePerSecond: 1000, Burst: 1000}
	srv, err := New(Config{ReadLimit: limit, WriteLimit: limit}, api.NewService(engine), broker, j, nil)
	require.NoError(t, err)
	return &harness{handler: srv.Handler(), broker: broker, journal: j}
}

func (h *harness) do(t *testing.T, method, path string, caller *[20]byte, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(middleware.DevPrincipalHeader, crypto.FormatPrincipal(*caller))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (h *harness) bootstrap(t *testing.T) api.ListingView {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/v1/registry", &authority, map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/v1/assets", &vendor, api.MintAssetRequest{Name: "audit", URI: "ipfs://audit"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	asset := decode[api.AssetView](t, rec)

	rec = h.do(t, http.MethodPost, "/v1/listings", &vendor, map[string]any{
		"name": "audit", "price": "1000", "paymentAsset": "usdc", "assetId": asset.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[api.ListingView](t, rec)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPurchaseAndResellOverHTTP(t *testing.T) {
	h := newHarness(t, false)
	listing := h.bootstrap(t)
	require.Equal(t, "escrowed", listing.Status)

	rec := h.do(t, http.MethodGet, "/v1/escrow/"+listing.AssetID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	holding := decode[api.HoldingView](t, rec)
	require.Equal(t, listing.ID, holding.ListingID)

	rec = h.do(t, http.MethodPost, "/v1/ledger/deposit", &authority, map[string]any{
		"account": crypto.FormatPrincipal(buyer), "asset": "usdc", "amount": 1100,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodPost, "/v1/listings/audit/purchase", &buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decode[api.ReceiptView](t, rec)
	require.Equal(t, "1000", receipt.Gross)

	rec = h.do(t, http.MethodPost, "/v1/listings/"+listing.ID+"/resell", &buyer, map[string]any{"price": "2000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resale := decode[api.ReceiptView](t, rec)
	require.Equal(t, "100", resale.Royalty)
	require.Equal(t, "1900", resale.SellerAmount)

	rec = h.do(t, http.MethodGet, "/v1/listings/"+listing.ID, nil, nil)
	updated := decode[api.ListingView](t, rec)
	require.Equal(t, "1900", updated.Price)
	require.Equal(t, crypto.FormatPrincipal(buyer), updated.Owner)

	rec = h.do(t, http.MethodGet, "/v1/treasury/usdc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "100", decode[api.BalanceView](t, rec).Amount)
}

func TestWriteRequiresPrincipal(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodPost, "/v1/registry", nil, map[string]any{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode[api.ErrorBody](t, rec)
	require.Equal(t, "unauthenticated", body.Error.Code)
}

func TestDuplicateListingConflict(t *testing.T) {
	h := newHarness(t, false)
	listing := h.bootstrap(t)

	rec := h.do(t, http.MethodPost, "/v1/assets", &vendor, api.MintAssetRequest{Name: "audit-2", URI: "ipfs://audit-2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	asset := decode[api.AssetView](t, rec)

	rec = h.do(t, http.MethodPost, "/v1/listings", &vendor, map[string]any{
		"name": " audit ", "price": 5, "paymentAsset": "usdc", "assetId": asset.ID,
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	require.Equal(t, "duplicate_listing", decode[api.ErrorBody](t, rec).Error.Code)

	rec = h.do(t, http.MethodGet, "/v1/registry", nil, nil)
	require.Equal(t, "1", decode[api.RegistryView](t, rec).TotalServices)

	rec = h.do(t, http.MethodGet, "/v1/listings", nil, nil)
	list := decode[map[string][]api.ListingView](t, rec)
	require.Len(t, list["listings"], 1)
	require.Equal(t, listing.ID, list["listings"][0].ID)
}

func TestUnknownFieldsRejected(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodPost, "/v1/registry", &authority, map[string]any{"royalty": 7})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decode[api.ErrorBody](t, rec).Error.Code)
}

func TestIdempotentDepositReplays(t *testing.T) {
	h := newHarness(t, true)
	h.bootstrap(t)
	body := map[string]any{"account": crypto.FormatPrincipal(buyer), "asset": "usdc", "amount": 300}

	first := h.do(t, http.MethodPost, "/v1/ledger/deposit", &authority, body, journal.IdempotencyHeader, "dep-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := h.do(t, http.MethodPost, "/v1/ledger/deposit", &authority, body, journal.IdempotencyHeader, "dep-1")
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	require.JSONEq(t, first.Body.String(), second.Body.String())

	rec := h.do(t, http.MethodGet, "/v1/ledger/balances/"+crypto.FormatPrincipal(buyer)+"?asset=usdc", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "300", decode[api.BalanceView](t, rec).Amount)
}

func TestEventQuery(t *testing.T) {
	h := newHarness(t, true)
	listing := h.bootstrap(t)

	rec := h.do(t, http.MethodGet, "/v1/events?type="+market.EventTypeListingCreated, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string][]eventView](t, rec)
	require.Len(t, out["events"], 1)
	require.Equal(t, listing.ID, out["events"][0].Attributes["listingId"])

	rec = h.do(t, http.MethodGet, "/v1/events?after=x", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventQueryWithoutJournal(t *testing.T) {
	h := newHarness(t, false)
	rec := h.do(t, http.MethodGet, "/v1/events", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventStreamReplaysBacklog(t *testing.T) {
	h := newHarness(t, false)
	h.bootstrap(t)
	ts := httptest.NewServer(h.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws?type=market.listing"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env events.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, market.EventTypeListingCreated, env.Type)
	require.NotEmpty(t, env.Cursor)
}
