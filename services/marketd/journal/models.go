package journal

import (
	"time"

	"gorm.io/gorm"
)

// EventRecord is a committed marketplace event in the outbox.
type EventRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Type        string    `gorm:"size:64;index"`
	ListingID   string    `gorm:"size:64;index"`
	AssetID     string    `gorm:"size:64;index"`
	Attributes  string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"index"`
	Published   bool      `gorm:"index"`
	PublishedAt *time.Time
}

// IdempotencyKey stores the first response produced for a client-supplied key.
// A zero Status marks a request still in flight.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	Principal string `gorm:"primaryKey;size:64"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventRecord{},
		&IdempotencyKey{},
	)
}
