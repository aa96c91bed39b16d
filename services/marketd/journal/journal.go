package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"servicemarket/core/events"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

var ErrDSNRequired = errors.New("journal: dsn required")

// Journal persists committed events so they can be queried, exported and
// relayed to the broadcaster.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the journal database and applies migrations.
func Open(driver, dsn string, log *slog.Logger) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(trimmed)
	case DriverPostgres:
		dialector = postgres.Open(trimmed)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, logger: log.With(slog.String("component", "journal")), now: time.Now}, nil
}

// DB exposes the underlying handle for middleware sharing the same database.
func (j *Journal) DB() *gorm.DB { return j.db }

// Close releases the connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Failures are logged; the state transition
// that produced the event has already committed.
func (j *Journal) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), events.Flatten(evt)); err != nil {
		j.logger.Error("append event", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores a flattened event and returns the persisted row.
func (j *Journal) Append(ctx context.Context, rec events.Record) (*EventRecord, error) {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	row := &EventRecord{
		Type:       rec.Type,
		ListingID:  rec.Attributes["listingId"],
		AssetID:    rec.Attributes["assetId"],
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("journal: insert event: %w", err)
	}
	return row, nil
}

// Query filters journal reads. Zero values match everything.
type Query struct {
	Type      string
	ListingID string
	AfterID   uint64
	Limit     int
}

// List returns events in insertion order.
func (j *Journal) List(ctx context.Context, q Query) ([]EventRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tx := j.db.WithContext(ctx).Model(&EventRecord{}).Where("id > ?", q.AfterID)
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.ListingID != "" {
		tx = tx.Where("listing_id = ?", strings.ToLower(strings.TrimPrefix(q.ListingID, "0x")))
	}
	var rows []EventRecord
	if err := tx.Order("id asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("journal: list events: %w", err)
	}
	return rows, nil
}

// Pending returns unpublished events, oldest first.
func (j *Journal) Pending(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []EventRecord
	err := j.db.WithContext(ctx).
		Where("published = ?", false).
		Order("id asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("journal: pending events: %w", err)
	}
	return rows, nil
}

// MarkPublished flags the given events as relayed.
func (j *Journal) MarkPublished(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	now := j.now().UTC()
	err := j.db.WithContext(ctx).Model(&EventRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"published": true, "published_at": &now}).Error
	if err != nil {
		return fmt.Errorf("journal: mark published: %w", err)
	}
	return nil
}

// Decode returns the flattened record stored in row.
func (row EventRecord) Decode() (events.Record, error) {
	rec := events.Record{Type: row.Type, Attributes: map[string]string{}}
	if row.Attributes == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(row.Attributes), &rec.Attributes); err != nil {
		return rec, fmt.Errorf("journal: decode attributes: %w", err)
	}
	return rec, nil
}
