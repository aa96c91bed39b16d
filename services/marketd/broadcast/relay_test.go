package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"servicemarket/services/marketd/journal"
)

type fakeSource struct {
	mu        sync.Mutex
	rows      []journal.EventRecord
	published []uint64
}

func (f *fakeSource) Pending(_ context.Context, limit int) ([]journal.EventRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []journal.EventRecord
	for _, row := range f.rows {
		if row.Published {
			continue
		}
		out = append(out, row)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) MarkPublished(_ context.Context, ids []uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ids...)
	for _, id := range ids {
		for i := range f.rows {
			if f.rows[i].ID == id {
				f.rows[i].Published = true
			}
		}
	}
	return nil
}

func (f *fakeSource) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleRows() []journal.EventRecord {
	now := time.Unix(1_700_000_000, 0).UTC()
	return []journal.EventRecord{
		{ID: 1, Type: "market.listing.created", ListingID: "aa", Attributes: `{"listingId":"aa"}`, CreatedAt: now},
		{ID: 2, Type: "market.asset.minted", AssetID: "bb", Attributes: `{"assetId":"bb"}`, CreatedAt: now},
		{ID: 3, Type: "market.listing.purchased", ListingID: "aa", Attributes: `{"listingId":"aa","gross":"10"}`, CreatedAt: now},
	}
}

func TestRelayPublishesAndMarks(t *testing.T) {
	src := &fakeSource{rows: sampleRows()}
	w := &fakeWriter{}
	producer := NewProducerWithWriter(w)
	relay, err := NewRelay(src, producer, time.Millisecond, 2, nil)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}

	n, err := relay.RelayOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	n, err = relay.RelayOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("second batch: n=%d err=%v", n, err)
	}
	if len(w.msgs) != 3 || len(src.published) != 3 {
		t.Fatalf("published %d msgs, marked %d", len(w.msgs), len(src.published))
	}
	if string(w.msgs[0].Key) != "aa" || string(w.msgs[1].Key) != "bb" {
		t.Fatalf("unexpected keys: %q %q", w.msgs[0].Key, w.msgs[1].Key)
	}
	var payload wireEvent
	if err := json.Unmarshal(w.msgs[2].Value, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ID != 3 || payload.Attributes["gross"] != "10" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if err := producer.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestRelayKeepsEventsOnPublishFailure(t *testing.T) {
	src := &fakeSource{rows: sampleRows()}
	w := &fakeWriter{err: errors.New("broker down")}
	relay, _ := NewRelay(src, NewProducerWithWriter(w), time.Millisecond, 10, nil)
	if _, err := relay.RelayOnce(context.Background()); err == nil {
		t.Fatalf("expected publish error")
	}
	if len(src.published) != 0 {
		t.Fatalf("events marked despite failure")
	}
}

func TestRelayRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{rows: sampleRows()}
	w := &fakeWriter{}
	relay, _ := NewRelay(src, NewProducerWithWriter(w), time.Millisecond, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if src.publishedCount() == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("relay did not drain outbox")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
