package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skatehubba/backend/internal/engine"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errNoPlayers         = errors.New("at least two players are required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps an infrastructure failure with a dotted operation code.
// Validation outcomes never surface as ServiceError; they are recovered into
// result envelopes.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "game.service.new"
	opCreateSession = "game.create_session"
	opSubmitTrick   = "game.submit_trick"
	opPassTrick     = "game.pass_trick"
	opForfeitGame   = "game.forfeit_game"
	opDisconnect    = "game.handle_disconnect"
	opReconnect     = "game.handle_reconnect"
	opExpireTurns   = "game.expire_overdue_turns"
	opGetSession    = "game.get_session"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for sessions, rounds and disputes.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires the trick/turn engine's dependencies.
type ServiceConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	IDProvider      IDProvider
	Logger          *zap.Logger
	TurnTimeout     time.Duration
	DisconnectGrace time.Duration
}

const (
	defaultTurnTimeout     = 120 * time.Second
	defaultDisconnectGrace = 120 * time.Second
)

// Service is the trick/turn engine: it applies player actions to a session
// under the row lock, enforcing the turn state machine and the idempotency
// ledger.
type Service struct {
	db              *gorm.DB
	clock           func() time.Time
	idProvider      IDProvider
	logger          *zap.Logger
	turnTimeout     time.Duration
	disconnectGrace time.Duration
}

// NewService constructs the trick/turn engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	turnTimeout := cfg.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = defaultTurnTimeout
	}
	disconnectGrace := cfg.DisconnectGrace
	if disconnectGrace <= 0 {
		disconnectGrace = defaultDisconnectGrace
	}

	return &Service{
		db:              cfg.Database,
		clock:           clock,
		idProvider:      cfg.IDProvider,
		logger:          logger,
		turnTimeout:     turnTimeout,
		disconnectGrace: disconnectGrace,
	}, nil
}

// Result is the envelope every engine operation returns. LetterGained uses an
// empty string, never an absent value, when no letter was earned.
type Result struct {
	Success          bool         `json:"success"`
	AlreadyProcessed bool         `json:"already_processed,omitempty"`
	Error            string       `json:"error,omitempty"`
	LetterGained     string       `json:"letter_gained"`
	Game             *SessionView `json:"game,omitempty"`
}

func rejection(message string) Result {
	return Result{Success: false, Error: message, LetterGained: ""}
}

func (s *Service) lookupSession(gameID GameID) engine.LookupFunc[*Session] {
	return func(tx *gorm.DB) (*Session, error) {
		var session Session
		if err := engine.LockForUpdate(tx).Where("id = ?", gameID.String()).Take(&session).Error; err != nil {
			return nil, err
		}
		return &session, nil
	}
}

// runKeyed executes one idempotent transition. Lookup misses become the
// "Game not found" envelope; a replayed event id re-derives its outcome from
// the current row state. The apply closure fills the envelope.
func (s *Service) runKeyed(ctx context.Context, operation, eventID string, gameID GameID, envelope *Result, apply engine.ApplyFunc[*Session]) (Result, error) {
	replay := func(tx *gorm.DB, session *Session) error {
		*envelope = Result{Success: true, LetterGained: "", Game: session.View()}
		return nil
	}

	alreadyProcessed, err := engine.RunIdempotent(ctx, s.db, eventID, s.lookupSession(gameID), replay, apply)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rejection(RejectionGameNotFound), nil
	}
	if err != nil {
		s.logError(operation, "transaction_failed", err, zap.String("game_id", gameID.String()))
		return Result{}, newServiceError(operation, "transaction_failed", err)
	}
	envelope.AlreadyProcessed = alreadyProcessed
	return *envelope, nil
}

// CreateSession persists a fresh session for the accepted challenge and
// returns its view. Creation happens before any concurrent actor knows the
// id, so it does not take an idempotency key.
func (s *Service) CreateSession(ctx context.Context, spotID string, maxPlayers int, odvs []PlayerODV) (Result, error) {
	if len(odvs) < 2 {
		s.logError(opCreateSession, "too_few_players", errNoPlayers)
		return Result{}, newServiceError(opCreateSession, "too_few_players", errNoPlayers)
	}
	if maxPlayers < len(odvs) {
		maxPlayers = len(odvs)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateSession, "id_generation_failed", err)
		return Result{}, newServiceError(opCreateSession, "id_generation_failed", err)
	}

	players := make(PlayerList, 0, len(odvs))
	for _, odv := range odvs {
		players = append(players, Player{ODV: odv.String(), Letters: "", Connected: true})
	}

	now := s.clock().UTC()
	session := Session{
		ID:                id,
		SpotID:            spotID,
		Players:           players,
		Status:            StatusActive,
		CurrentTurnIndex:  0,
		CurrentAction:     ActionSet,
		MaxPlayers:        maxPlayers,
		TurnDeadlineAt:    now.Add(s.turnTimeout),
		ProcessedEventIDs: engine.EventLedger{},
	}

	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		s.logError(opCreateSession, "session_insert_failed", err)
		return Result{}, newServiceError(opCreateSession, "session_insert_failed", err)
	}

	return Result{Success: true, LetterGained: "", Game: session.View()}, nil
}

// SubmitTrick handles both halves of the turn loop: in the set phase the turn
// holder names the trick and offense passes to the first attempter; in the
// attempt phase the turn holder's submission advances the rotation against
// the same trick.
func (s *Service) SubmitTrick(ctx context.Context, eventID string, gameID GameID, odv PlayerODV, trickName string) (Result, error) {
	var envelope Result

	apply := func(tx *gorm.DB, session *Session) (bool, error) {
		actorIndex, rejected := validateTurnActor(session, odv.String())
		if rejected != "" {
			envelope = rejection(rejected)
			return false, nil
		}

		switch session.CurrentAction {
		case ActionSet:
			if trickName == "" {
				envelope = rejection(RejectionEmptyTrick)
				return false, nil
			}
			applySetTrick(session, actorIndex, trickName)
		default:
			advanceRotation(session)
		}

		session.TurnDeadlineAt = s.clock().UTC().Add(s.turnTimeout)
		envelope = Result{Success: true, LetterGained: "", Game: session.View()}
		return true, nil
	}

	return s.runKeyed(ctx, opSubmitTrick, eventID, gameID, &envelope, apply)
}

// PassTrick records a forfeited attempt: the passing player gains the next
// progression letter, elimination and completion are evaluated, and the
// rotation advances.
func (s *Service) PassTrick(ctx context.Context, eventID string, gameID GameID, odv PlayerODV) (Result, error) {
	var envelope Result

	apply := func(tx *gorm.DB, session *Session) (bool, error) {
		actorIndex, rejected := validateTurnActor(session, odv.String())
		if rejected != "" {
			envelope = rejection(rejected)
			return false, nil
		}
		if session.CurrentAction != ActionAttempt {
			envelope = rejection(RejectionNoTrickSet)
			return false, nil
		}

		letter := NextLetter(session.Players[actorIndex].Letters)
		session.Players[actorIndex].Letters += letter

		if !completeIfDecided(session) {
			advanceRotation(session)
			session.TurnDeadlineAt = s.clock().UTC().Add(s.turnTimeout)
		}

		envelope = Result{Success: true, LetterGained: letter, Game: session.View()}
		return true, nil
	}

	return s.runKeyed(ctx, opPassTrick, eventID, gameID, &envelope, apply)
}

// ForfeitGame unconditionally ends the session. In a two-player game the
// other player wins; with more players the least-lettered remaining player
// takes it.
func (s *Service) ForfeitGame(ctx context.Context, eventID string, gameID GameID, odv PlayerODV) (Result, error) {
	var envelope Result

	apply := func(tx *gorm.DB, session *Session) (bool, error) {
		if session.Status != StatusActive && session.Status != StatusPaused {
			envelope = rejection(RejectionGameNotActive)
			return false, nil
		}
		actorIndex := session.Players.indexOf(odv.String())
		if actorIndex < 0 {
			envelope = rejection(RejectionNotParticipant)
			return false, nil
		}

		winnerIndex := forcedWinnerIndex(session.Players, actorIndex)
		winnerODV := ""
		if winnerIndex >= 0 {
			winnerODV = session.Players[winnerIndex].ODV
		}
		finishSession(session, winnerODV)

		envelope = Result{Success: true, LetterGained: "", Game: session.View()}
		return true, nil
	}

	return s.runKeyed(ctx, opForfeitGame, eventID, gameID, &envelope, apply)
}

// HandleDisconnect marks the player disconnected. It is a transport-side
// effect, not a user action, so it carries no idempotency key: applying it
// twice is naturally a no-op. When the turn holder drops, the session pauses
// until reconnect or the disconnect grace expires.
func (s *Service) HandleDisconnect(ctx context.Context, gameID GameID, odv PlayerODV) (Result, error) {
	var envelope Result

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session Session
		if err := engine.LockForUpdate(tx).Where("id = ?", gameID.String()).Take(&session).Error; err != nil {
			return err
		}

		index := session.Players.indexOf(odv.String())
		if index < 0 {
			envelope = rejection(RejectionNotParticipant)
			return nil
		}
		if session.Status == StatusCompleted || session.Status == StatusCanceled {
			envelope = Result{Success: true, LetterGained: "", Game: session.View()}
			return nil
		}

		session.Players[index].Connected = false
		if session.Status == StatusActive && index == session.CurrentTurnIndex {
			session.Status = StatusPaused
			pausedAt := s.clock().UTC()
			session.PausedAt = &pausedAt
		}

		if err := tx.Save(&session).Error; err != nil {
			return err
		}
		envelope = Result{Success: true, LetterGained: "", Game: session.View()}
		return nil
	})

	if errors.Is(txErr, gorm.ErrRecordNotFound) {
		return rejection(RejectionGameNotFound), nil
	}
	if txErr != nil {
		s.logError(opDisconnect, "transaction_failed", txErr, zap.String("game_id", gameID.String()))
		return Result{}, newServiceError(opDisconnect, "transaction_failed", txErr)
	}
	return envelope, nil
}

// HandleReconnect marks the player connected again and resumes a session
// paused on their account, restarting the turn clock.
func (s *Service) HandleReconnect(ctx context.Context, gameID GameID, odv PlayerODV) (Result, error) {
	var envelope Result

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session Session
		if err := engine.LockForUpdate(tx).Where("id = ?", gameID.String()).Take(&session).Error; err != nil {
			return err
		}

		index := session.Players.indexOf(odv.String())
		if index < 0 {
			envelope = rejection(RejectionNotParticipant)
			return nil
		}

		session.Players[index].Connected = true
		if session.Status == StatusPaused && index == session.CurrentTurnIndex {
			session.Status = StatusActive
			session.PausedAt = nil
			session.TurnDeadlineAt = s.clock().UTC().Add(s.turnTimeout)
		}

		if err := tx.Save(&session).Error; err != nil {
			return err
		}
		envelope = Result{Success: true, LetterGained: "", Game: session.View()}
		return nil
	})

	if errors.Is(txErr, gorm.ErrRecordNotFound) {
		return rejection(RejectionGameNotFound), nil
	}
	if txErr != nil {
		s.logError(opReconnect, "transaction_failed", txErr, zap.String("game_id", gameID.String()))
		return Result{}, newServiceError(opReconnect, "transaction_failed", txErr)
	}
	return envelope, nil
}

// GetSession returns the current view of a session, or nil when it does not
// exist.
func (s *Service) GetSession(ctx context.Context, gameID GameID) (*SessionView, error) {
	var session Session
	err := s.db.WithContext(ctx).Where("id = ?", gameID.String()).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(opGetSession, "session_select_failed", err)
	}
	return session.View(), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil {
		return
	}
	logFields := append([]zap.Field{zap.String("operation", operation), zap.String("reason", reason), zap.Error(err)}, fields...)
	s.logger.Error("game engine operation failed", logFields...)
}
