package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type counterRow struct {
	ID                string      `gorm:"column:id;primaryKey;size:190;not null"`
	Count             int64       `gorm:"column:count;not null;default:0"`
	ProcessedEventIDs EventLedger `gorm:"column:processed_event_ids;type:text;not null"`
}

func (counterRow) TableName() string {
	return "engine_test_counters"
}

func (r *counterRow) Ledger() *EventLedger {
	return &r.ProcessedEventIDs
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:engine_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&counterRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func lookupCounter(id string) LookupFunc[*counterRow] {
	return func(tx *gorm.DB) (*counterRow, error) {
		var row counterRow
		if err := LockForUpdate(tx).Where("id = ?", id).Take(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}
}

func TestRunIdempotentAppliesOnce(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&counterRow{ID: "row-1", ProcessedEventIDs: EventLedger{}}).Error; err != nil {
		t.Fatalf("failed to seed row: %v", err)
	}

	increment := func(tx *gorm.DB, row *counterRow) (bool, error) {
		row.Count++
		return true, nil
	}
	noReplay := func(tx *gorm.DB, row *counterRow) error { return nil }

	for call := 0; call < 3; call++ {
		alreadyProcessed, err := RunIdempotent(context.Background(), db, "evt-1", lookupCounter("row-1"), noReplay, increment)
		if err != nil {
			t.Fatalf("unexpected error on call %d: %v", call, err)
		}
		if call == 0 && alreadyProcessed {
			t.Fatalf("first call should not be marked already processed")
		}
		if call > 0 && !alreadyProcessed {
			t.Fatalf("call %d should be marked already processed", call)
		}
	}

	var stored counterRow
	if err := db.Where("id = ?", "row-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if stored.Count != 1 {
		t.Fatalf("expected count 1 after replays, got %d", stored.Count)
	}
	if !stored.ProcessedEventIDs.Contains("evt-1") {
		t.Fatalf("ledger should record evt-1")
	}
}

func TestRunIdempotentRejectionDoesNotConsumeEventID(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&counterRow{ID: "row-2", ProcessedEventIDs: EventLedger{}}).Error; err != nil {
		t.Fatalf("failed to seed row: %v", err)
	}

	reject := func(tx *gorm.DB, row *counterRow) (bool, error) {
		return false, nil
	}
	noReplay := func(tx *gorm.DB, row *counterRow) error { return nil }

	alreadyProcessed, err := RunIdempotent(context.Background(), db, "evt-2", lookupCounter("row-2"), noReplay, reject)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alreadyProcessed {
		t.Fatalf("rejected apply should not be marked already processed")
	}

	var stored counterRow
	if err := db.Where("id = ?", "row-2").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if stored.Count != 0 {
		t.Fatalf("rejected apply should not mutate, got count %d", stored.Count)
	}
	if stored.ProcessedEventIDs.Contains("evt-2") {
		t.Fatalf("rejected apply should not consume the event id")
	}
}

func TestRunIdempotentPropagatesNotFound(t *testing.T) {
	db := newTestDB(t)

	noReplay := func(tx *gorm.DB, row *counterRow) error { return nil }
	apply := func(tx *gorm.DB, row *counterRow) (bool, error) { return true, nil }

	_, err := RunIdempotent(context.Background(), db, "evt-3", lookupCounter("missing"), noReplay, apply)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record-not-found error, got %v", err)
	}
}

func TestRunIdempotentRequiresEventID(t *testing.T) {
	db := newTestDB(t)

	noReplay := func(tx *gorm.DB, row *counterRow) error { return nil }
	apply := func(tx *gorm.DB, row *counterRow) (bool, error) { return true, nil }

	_, err := RunIdempotent(context.Background(), db, "", lookupCounter("row"), noReplay, apply)
	if !errors.Is(err, ErrEventIDRequired) {
		t.Fatalf("expected ErrEventIDRequired, got %v", err)
	}
}
