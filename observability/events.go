package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"servicemarket/core/events"
	"servicemarket/native/market"
)

type marketMetrics struct {
	events    *prometheus.CounterVec
	volume    *prometheus.CounterVec
	royalties *prometheus.CounterVec
	listings  prometheus.Gauge
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *marketMetrics
)

// MarketEvents returns the metrics registry fed by committed marketplace
// events. It satisfies events.Emitter so it can sit in an events.Fanout.
func MarketEvents() *marketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &marketMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed marketplace events segmented by type.",
			}, []string{"type"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "settlement",
				Name:      "volume_total",
				Help:      "Gross settled amount segmented by payment asset and settlement kind.",
			}, []string{"asset", "kind"}),
			royalties: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "market",
				Subsystem: "settlement",
				Name:      "royalties_total",
				Help:      "Royalties paid into the treasury segmented by payment asset.",
			}, []string{"asset"}),
			listings: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "market",
				Subsystem: "registry",
				Name:      "listings_created",
				Help:      "Listings created since process start.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.events,
			marketRegistry.volume,
			marketRegistry.royalties,
			marketRegistry.listings,
		)
	})
	return marketRegistry
}

// Emit implements events.Emitter.
func (m *marketMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(evt.EventType()).Inc()
	switch e := evt.(type) {
	case market.ListingCreated:
		m.listings.Inc()
	case market.ListingPurchased:
		m.volume.WithLabelValues(assetLabel(e.Receipt.PaymentAsset), string(e.Receipt.Kind)).Add(float64(e.Receipt.Gross))
	case market.ListingResold:
		m.volume.WithLabelValues(assetLabel(e.Receipt.PaymentAsset), string(e.Receipt.Kind)).Add(float64(e.Receipt.Gross))
		m.royalties.WithLabelValues(assetLabel(e.Receipt.PaymentAsset)).Add(float64(e.Receipt.Royalty))
	}
}

func assetLabel(asset string) string {
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}
