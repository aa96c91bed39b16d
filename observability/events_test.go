package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"servicemarket/native/market"
)

func TestMarketEventsCountsSettlements(t *testing.T) {
	m := MarketEvents()
	beforeRoyalty := testutil.ToFloat64(m.royalties.WithLabelValues("USDC"))
	beforeResale := testutil.ToFloat64(m.volume.WithLabelValues("USDC", "resale"))
	beforeEvents := testutil.ToFloat64(m.events.WithLabelValues(market.EventTypeListingResold))

	m.Emit(market.ListingResold{Receipt: market.Receipt{
		Kind:         market.ReceiptResale,
		PaymentAsset: "usdc",
		Gross:        1000,
		Royalty:      50,
		SellerAmount: 950,
	}})

	if got := testutil.ToFloat64(m.royalties.WithLabelValues("USDC")) - beforeRoyalty; got != 50 {
		t.Fatalf("royalty delta = %v, want 50", got)
	}
	if got := testutil.ToFloat64(m.volume.WithLabelValues("USDC", "resale")) - beforeResale; got != 1000 {
		t.Fatalf("volume delta = %v, want 1000", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues(market.EventTypeListingResold)) - beforeEvents; got != 1 {
		t.Fatalf("event delta = %v, want 1", got)
	}
}

func TestModuleMetricsObserve(t *testing.T) {
	m := ModuleMetrics()
	before := testutil.ToFloat64(m.errors.WithLabelValues("http", "purchase", "409"))
	m.Observe("http", "purchase", 409, 5*time.Millisecond)
	m.Observe("http", "purchase", 200, time.Millisecond)
	if got := testutil.ToFloat64(m.errors.WithLabelValues("http", "purchase", "409")) - before; got != 1 {
		t.Fatalf("error delta = %v, want 1", got)
	}
	var nilMetrics *moduleMetrics
	nilMetrics.Observe("http", "noop", 500, 0)
	nilMetrics.RecordThrottle("http", "rate_limit")
}
