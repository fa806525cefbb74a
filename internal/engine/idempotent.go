// Package engine provides the transactional idempotent-operation runner shared
// by the trick/turn engine and the battle voting state machine. Every
// state-mutating operation follows the same discipline: lock the row, consult
// the event ledger, branch between replay and apply, persist, commit.
package engine

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrEventIDRequired rejects operations submitted without an idempotency key.
var ErrEventIDRequired = errors.New("engine: event id is required")

// Row is a lockable persisted record carrying an idempotency ledger.
type Row interface {
	Ledger() *EventLedger
}

// LookupFunc fetches the target row inside the open transaction. The
// implementation must lock the row (see LockForUpdate) so the
// read-validate-mutate-write sequence is serialized against concurrent
// writers.
type LookupFunc[R Row] func(tx *gorm.DB) (R, error)

// ReplayFunc re-derives the previously produced outcome from the current row
// state when the ledger already holds the event id. It may read related rows
// through the transaction but must not mutate.
type ReplayFunc[R Row] func(tx *gorm.DB, row R) error

// ApplyFunc performs the operation's state transition. Returning
// mutated=false signals a validation rejection: nothing is persisted and the
// event id is not consumed, so the caller's rejection envelope is the entire
// outcome.
type ApplyFunc[R Row] func(tx *gorm.DB, row R) (mutated bool, err error)

// LockForUpdate decorates the transaction with a SELECT ... FOR UPDATE
// clause. On sqlite the clause is a no-op and the connection-level write lock
// provides the same serialization.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// RunIdempotent executes one idempotent transition against a locked row.
// It reports whether the event id had already been processed. Lookup errors
// (including gorm.ErrRecordNotFound) abort the transaction untouched and are
// returned to the caller.
func RunIdempotent[R Row](ctx context.Context, db *gorm.DB, eventID string, lookup LookupFunc[R], replay ReplayFunc[R], apply ApplyFunc[R]) (bool, error) {
	if eventID == "" {
		return false, ErrEventIDRequired
	}

	alreadyProcessed := false
	txErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := lookup(tx)
		if err != nil {
			return err
		}

		if row.Ledger().Contains(eventID) {
			alreadyProcessed = true
			return replay(tx, row)
		}

		mutated, err := apply(tx, row)
		if err != nil {
			return err
		}
		if !mutated {
			return nil
		}

		row.Ledger().Record(eventID)
		return tx.Save(row).Error
	})

	return alreadyProcessed, txErr
}
