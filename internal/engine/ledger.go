package engine

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// LedgerCapacity bounds the number of event ids retained per row. Once the
// cap is reached the oldest entry is evicted on append.
const LedgerCapacity = 100

// EventLedger is the per-row list of already-applied event identifiers. It is
// stored as a JSON array in a text column so that the ledger travels inside
// the same locked row as the state it protects.
type EventLedger []string

// Contains reports whether the ledger has already recorded the event id.
func (l EventLedger) Contains(eventID string) bool {
	for _, recorded := range l {
		if recorded == eventID {
			return true
		}
	}
	return false
}

// Record appends the event id, evicting the oldest entries beyond capacity.
func (l *EventLedger) Record(eventID string) {
	entries := append(*l, eventID)
	if overflow := len(entries) - LedgerCapacity; overflow > 0 {
		entries = entries[overflow:]
	}
	*l = entries
}

// Value implements driver.Valuer, serializing the ledger as a JSON array.
func (l EventLedger) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner. NULL and empty values decode to an empty ledger.
func (l *EventLedger) Scan(value interface{}) error {
	if value == nil {
		*l = EventLedger{}
		return nil
	}
	var raw []byte
	switch typed := value.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return fmt.Errorf("engine: cannot scan %T into EventLedger", value)
	}
	if len(raw) == 0 {
		*l = EventLedger{}
		return nil
	}
	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	*l = entries
	return nil
}

// GormDataType keeps the column portable across sqlite and postgres.
func (EventLedger) GormDataType() string {
	return "text"
}
