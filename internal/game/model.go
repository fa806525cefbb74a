package game

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skatehubba/backend/internal/engine"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidGameID indicates that a game identifier is empty or exceeds storage bounds.
	ErrInvalidGameID = errors.New("game: invalid game id")
	// ErrInvalidPlayerODV indicates that a player identifier is empty or exceeds storage bounds.
	ErrInvalidPlayerODV = errors.New("game: invalid player odv")
	// ErrUnknownAction indicates an action kind outside the closed set.
	ErrUnknownAction = errors.New("game: unknown action kind")
)

// Status enumerates the lifecycle states of a S.K.A.T.E. session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// ActionKind is the closed set of per-turn phases: the turn holder is either
// setting a new trick or attempting to match the one on the table.
type ActionKind string

const (
	ActionSet     ActionKind = "set"
	ActionAttempt ActionKind = "attempt"
)

// ParseActionKind validates raw input against the closed action set.
func ParseActionKind(value string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ActionSet):
		return ActionSet, nil
	case string(ActionAttempt):
		return ActionAttempt, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, value)
	}
}

// GameID represents a validated game session identifier.
type GameID string

// NewGameID validates raw input and returns a GameID.
func NewGameID(rawInput string) (GameID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidGameID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidGameID, maxIdentifierLength)
	}
	return GameID(trimmed), nil
}

// String returns the underlying string identifier.
func (id GameID) String() string {
	return string(id)
}

// PlayerODV represents a validated opaque player identifier.
type PlayerODV string

// NewPlayerODV validates raw input and returns a PlayerODV.
func NewPlayerODV(rawInput string) (PlayerODV, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPlayerODV)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPlayerODV, maxIdentifierLength)
	}
	return PlayerODV(trimmed), nil
}

// String returns the underlying string identifier.
func (odv PlayerODV) String() string {
	return string(odv)
}

// Player is one participant inside a session's ordered player list.
type Player struct {
	ODV       string `json:"odv"`
	Letters   string `json:"letters"`
	Connected bool   `json:"connected"`
}

// Eliminated reports whether the player has spelled the full progression word.
func (p Player) Eliminated() bool {
	return p.Letters == ProgressionWord
}

// PlayerList is the ordered participant list, stored as a JSON text column so
// it lives inside the same locked row as the rest of the session state.
type PlayerList []Player

// Value implements driver.Valuer.
func (l PlayerList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal([]Player(l))
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (l *PlayerList) Scan(value interface{}) error {
	if value == nil {
		*l = PlayerList{}
		return nil
	}
	var raw []byte
	switch typed := value.(type) {
	case []byte:
		raw = typed
	case string:
		raw = []byte(typed)
	default:
		return fmt.Errorf("game: cannot scan %T into PlayerList", value)
	}
	if len(raw) == 0 {
		*l = PlayerList{}
		return nil
	}
	var players []Player
	if err := json.Unmarshal(raw, &players); err != nil {
		return err
	}
	*l = players
	return nil
}

// GormDataType keeps the column portable across sqlite and postgres.
func (PlayerList) GormDataType() string {
	return "text"
}

// indexOf returns the position of the player with the given odv, or -1.
func (l PlayerList) indexOf(odv string) int {
	for index, player := range l {
		if player.ODV == odv {
			return index
		}
	}
	return -1
}

// Session models one persisted S.K.A.T.E. match. The row is the only shared
// mutable resource: every mutation happens under a FOR UPDATE lock inside one
// transaction, and the processed-event ledger is part of the row so the same
// lock covers it.
type Session struct {
	ID                string             `gorm:"column:id;primaryKey;size:190;not null"`
	SpotID            string             `gorm:"column:spot_id;size:190;not null;default:''"`
	Players           PlayerList         `gorm:"column:players;type:text;not null"`
	Status            Status             `gorm:"column:status;size:32;not null;index"`
	CurrentTurnIndex  int                `gorm:"column:current_turn_index;not null;default:0"`
	CurrentAction     ActionKind         `gorm:"column:current_action;size:16;not null"`
	CurrentTrick      string             `gorm:"column:current_trick;size:190;not null;default:''"`
	SetterODV         string             `gorm:"column:setter_odv;size:190;not null;default:''"`
	WinnerODV         string             `gorm:"column:winner_odv;size:190;not null;default:''"`
	MaxPlayers        int                `gorm:"column:max_players;not null;default:2"`
	TurnDeadlineAt    time.Time          `gorm:"column:turn_deadline_at;index"`
	PausedAt          *time.Time         `gorm:"column:paused_at"`
	ProcessedEventIDs engine.EventLedger `gorm:"column:processed_event_ids;type:text;not null"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "game_sessions"
}

// Ledger exposes the idempotency ledger to the engine runner.
func (s *Session) Ledger() *engine.EventLedger {
	return &s.ProcessedEventIDs
}

// PlayerView is the outward-facing snapshot of one participant.
type PlayerView struct {
	ODV        string `json:"odv"`
	Letters    string `json:"letters"`
	Connected  bool   `json:"connected"`
	Eliminated bool   `json:"eliminated"`
}

// SessionView is the outward-facing snapshot of a session. Every field that a
// transport might serialize away carries an empty-string fallback instead of
// being absent.
type SessionView struct {
	ID              string       `json:"id"`
	SpotID          string       `json:"spot_id"`
	Status          string       `json:"status"`
	Players         []PlayerView `json:"players"`
	CurrentTurnODV  string       `json:"current_turn_odv"`
	CurrentAction   string       `json:"current_action"`
	CurrentTrick    string       `json:"current_trick"`
	SetterODV       string       `json:"setter_odv"`
	WinnerODV       string       `json:"winner_odv"`
	TurnDeadlineAtS int64        `json:"turn_deadline_at_s"`
	PausedAtS       int64        `json:"paused_at_s"`
}

// View renders the session snapshot returned inside result envelopes.
func (s *Session) View() *SessionView {
	players := make([]PlayerView, 0, len(s.Players))
	for _, player := range s.Players {
		players = append(players, PlayerView{
			ODV:        player.ODV,
			Letters:    player.Letters,
			Connected:  player.Connected,
			Eliminated: player.Eliminated(),
		})
	}

	currentTurnODV := ""
	if s.CurrentTurnIndex >= 0 && s.CurrentTurnIndex < len(s.Players) {
		currentTurnODV = s.Players[s.CurrentTurnIndex].ODV
	}

	pausedAt := int64(0)
	if s.PausedAt != nil {
		pausedAt = s.PausedAt.Unix()
	}
	deadline := int64(0)
	if !s.TurnDeadlineAt.IsZero() {
		deadline = s.TurnDeadlineAt.Unix()
	}

	return &SessionView{
		ID:              s.ID,
		SpotID:          s.SpotID,
		Status:          string(s.Status),
		Players:         players,
		CurrentTurnODV:  currentTurnODV,
		CurrentAction:   string(s.CurrentAction),
		CurrentTrick:    s.CurrentTrick,
		SetterODV:       s.SetterODV,
		WinnerODV:       s.WinnerODV,
		TurnDeadlineAtS: deadline,
		PausedAtS:       pausedAt,
	}
}
