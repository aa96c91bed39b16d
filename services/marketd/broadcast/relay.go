package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"servicemarket/observability"
	"servicemarket/services/marketd/journal"
)

// Source yields journaled events that have not been relayed yet.
type Source interface {
	Pending(ctx context.Context, limit int) ([]journal.EventRecord, error)
	MarkPublished(ctx context.Context, ids []uint64) error
}

// Sender publishes a batch of messages.
type Sender interface {
	Send(ctx context.Context, msgs ...kafka.Message) error
}

// Relay drains the journal outbox into Kafka. Events are marked published
// only after the broker acknowledged the whole batch, so delivery is
// at-least-once.
type Relay struct {
	source   Source
	sender   Sender
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewRelay(source Source, sender Sender, interval time.Duration, batch int, logger *slog.Logger) (*Relay, error) {
	if source == nil || sender == nil {
		return nil, errors.New("broadcast: source and sender required")
	}
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		source:   source,
		sender:   sender,
		interval: interval,
		batch:    batch,
		logger:   logger.With(slog.String("component", "broadcast")),
	}, nil
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("relay batch failed", slog.Any("error", err))
				break
			}
			if n < r.batch {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type wireEvent struct {
	ID         uint64            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// RelayOnce publishes one batch and returns how many events were sent.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	metrics := observability.RelayMetrics()
	pending, err := r.source.Pending(ctx, r.batch)
	if err != nil {
		metrics.Failed("load")
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	msgs := make([]kafka.Message, 0, len(pending))
	ids := make([]uint64, 0, len(pending))
	for _, row := range pending {
		rec, err := row.Decode()
		if err != nil {
			metrics.Failed("encode")
			return 0, fmt.Errorf("broadcast: event %d: %w", row.ID, err)
		}
		value, err := json.Marshal(wireEvent{ID: row.ID, Type: rec.Type, Attributes: rec.Attributes, CreatedAt: row.CreatedAt})
		if err != nil {
			metrics.Failed("encode")
			return 0, fmt.Errorf("broadcast: encode event %d: %w", row.ID, err)
		}
		key := row.ListingID
		if key == "" {
			key = row.AssetID
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(key),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte(rec.Type)},
				{Key: "event-id", Value: []byte(strconv.FormatUint(row.ID, 10))},
			},
			Time: row.CreatedAt,
		})
		ids = append(ids, row.ID)
	}
	if err := r.sender.Send(ctx, msgs...); err != nil {
		metrics.Failed("publish")
		return 0, fmt.Errorf("broadcast: publish: %w", err)
	}
	if err := r.source.MarkPublished(ctx, ids); err != nil {
		metrics.Failed("ack")
		return 0, err
	}
	now := time.Now()
	for _, msg := range msgs {
		metrics.Published(string(msg.Headers[0].Value), msg.Time, now)
	}
	return len(msgs), nil
}
