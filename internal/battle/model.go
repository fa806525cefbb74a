package battle

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skatehubba/backend/internal/engine"
)

// ErrUnknownVote indicates a vote value outside the closed set.
var ErrUnknownVote = errors.New("battle: unknown vote value")

// Status enumerates the voting lifecycle. The machine only moves forward:
// voting -> completed.
type Status string

const (
	StatusVoting    Status = "voting"
	StatusCompleted Status = "completed"
)

// VoteValue is a participant's judgment of the other participant's trick.
type VoteValue string

const (
	VoteClean  VoteValue = "clean"
	VoteSketch VoteValue = "sketch"
)

// ParseVoteValue validates raw input against the closed vote set.
func ParseVoteValue(value string) (VoteValue, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(VoteClean):
		return VoteClean, nil
	case string(VoteSketch):
		return VoteSketch, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVote, value)
	}
}

// Vote is one recorded judgment. A later vote by the same participant
// overwrites the earlier one.
type Vote struct {
	Value         VoteValue `json:"value"`
	CastAtSeconds int64     `json:"cast_at_s"`
}

// VoteMap stores votes keyed by the voter's odv as a JSON text column.
type VoteMap map[string]Vote

// Value implements driver.Valuer.
func (m VoteMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(map[string]Vote(m))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (m *VoteMap) Scan(value interface{}) error {
	if value == nil {
		*m = VoteMap{}
		return nil
	}
	var raw []byte
	switch typed := value.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return fmt.Errorf("battle: cannot scan %T into VoteMap", value)
	}
	if len(raw) == 0 {
		*m = VoteMap{}
		return nil
	}
	var votes map[string]Vote
	if err := json.Unmarshal(raw, &votes); err != nil {
		return err
	}
	*m = votes
	return nil
}

// GormDataType keeps the column portable across sqlite and postgres.
func (VoteMap) GormDataType() string {
	return "text"
}

// VoteSession models one battle's voting phase. Like the game session row it
// carries its own idempotency ledger so a single FOR UPDATE lock covers both
// state and dedup check.
type VoteSession struct {
	BattleID          string             `gorm:"column:battle_id;primaryKey;size:190;not null"`
	CreatorODV        string             `gorm:"column:creator_odv;size:190;not null"`
	OpponentODV       string             `gorm:"column:opponent_odv;size:190;not null"`
	Status            Status             `gorm:"column:status;size:32;not null;index"`
	Votes             VoteMap            `gorm:"column:votes;type:text;not null"`
	VotingStartedAt   time.Time          `gorm:"column:voting_started_at;not null"`
	VoteDeadlineAt    time.Time          `gorm:"column:vote_deadline_at;not null;index"`
	WinnerODV         string             `gorm:"column:winner_odv;size:190;not null;default:''"`
	ProcessedEventIDs engine.EventLedger `gorm:"column:processed_event_ids;type:text;not null"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (VoteSession) TableName() string {
	return "battle_vote_sessions"
}

// Ledger exposes the idempotency ledger to the engine runner.
func (s *VoteSession) Ledger() *engine.EventLedger {
	return &s.ProcessedEventIDs
}

// View is the outward-facing snapshot of a voting session. Values that a
// transport might serialize away use empty-string fallbacks.
type View struct {
	BattleID         string            `json:"battle_id"`
	CreatorODV       string            `json:"creator_odv"`
	OpponentODV      string            `json:"opponent_odv"`
	Status           string            `json:"status"`
	Votes            map[string]string `json:"votes"`
	VotingStartedAtS int64             `json:"voting_started_at_s"`
	VoteDeadlineAtS  int64             `json:"vote_deadline_at_s"`
	WinnerODV        string            `json:"winner_odv"`
}

// View renders the session snapshot returned inside result envelopes.
func (s *VoteSession) View() *View {
	votes := make(map[string]string, len(s.Votes))
	for odv, vote := range s.Votes {
		votes[odv] = string(vote.Value)
	}
	return &View{
		BattleID:         s.BattleID,
		CreatorODV:       s.CreatorODV,
		OpponentODV:      s.OpponentODV,
		Status:           string(s.Status),
		Votes:            votes,
		VotingStartedAtS: s.VotingStartedAt.Unix(),
		VoteDeadlineAtS:  s.VoteDeadlineAt.Unix(),
		WinnerODV:        s.WinnerODV,
	}
}
