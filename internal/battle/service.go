package battle

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
	errMissingDatabase = errors.New("database handle is required")
	errMissingIDs      = errors.New("battle and participant ids are required")
	noOpLogger         = zap.NewNop()
)

// Rejection messages returned inside result envelopes.
const (
	RejectionBattleNotFound = "Battle not found"
	RejectionNotParticipant = "Not a participant in this battle"
	RejectionVotingInactive = "Voting is not active"
)

const (
	opServiceNew        = "battle.service.new"
	opInitializeVoting  = "battle.initialize_voting"
	opCastVote          = "battle.cast_vote"
	opCompleteExpired   = "battle.complete_expired"
	opGetBattle         = "battle.get_battle"
	defaultVotingWindow = 60 * time.Second
)

// ServiceError wraps an infrastructure failure with a dotted operation code.
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

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires the voting state machine's dependencies.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	Logger       *zap.Logger
	VotingWindow time.Duration
}

// Service is the battle voting state machine: one vote per participant
// inside a deadline, deterministic scoring, creator-favoring tie-break.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	logger       *zap.Logger
	votingWindow time.Duration
}

// NewService constructs the voting service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	window := cfg.VotingWindow
	if window <= 0 {
		window = defaultVotingWindow
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger, votingWindow: window}, nil
}

// Result is the envelope returned by voting operations.
type Result struct {
	Success          bool           `json:"success"`
	AlreadyProcessed bool           `json:"already_processed,omitempty"`
	Error            string         `json:"error,omitempty"`
	BattleComplete   bool           `json:"battle_complete"`
	WinnerODV        string         `json:"winner_odv"`
	FinalScore       map[string]int `json:"final_score,omitempty"`
	Battle           *View          `json:"battle,omitempty"`
}

func rejection(message string) Result {
	return Result{Success: false, Error: message, WinnerODV: ""}
}

// finalScore counts the clean votes cast about each participant: the
// creator's point comes from the opponent's vote and vice versa.
func finalScore(s *VoteSession) map[string]int {
	scores := map[string]int{s.CreatorODV: 0, s.OpponentODV: 0}
	if vote, ok := s.Votes[s.OpponentODV]; ok && vote.Value == VoteClean {
		scores[s.CreatorODV]++
	}
	if vote, ok := s.Votes[s.CreatorODV]; ok && vote.Value == VoteClean {
		scores[s.OpponentODV]++
	}
	return scores
}

// pickWinner applies the fixed tie-break: equal scores go to the creator.
func pickWinner(s *VoteSession, scores map[string]int) string {
	if scores[s.OpponentODV] > scores[s.CreatorODV] {
		return s.OpponentODV
	}
	return s.CreatorODV
}

func (s *Service) lookupSession(battleID string) engine.LookupFunc[*VoteSession] {
	return func(tx *gorm.DB) (*VoteSession, error) {
		var session VoteSession
		if err := engine.LockForUpdate(tx).Where("battle_id = ?", battleID).Take(&session).Error; err != nil {
			return nil, err
		}
		return &session, nil
	}
}

// completionResult derives the outcome of a completed session from row state,
// used both when completing and when replaying an event that completed it.
func completionResult(session *VoteSession) Result {
	scores := finalScore(session)
	return Result{
		Success:        true,
		BattleComplete: true,
		WinnerODV:      session.WinnerODV,
		FinalScore:     scores,
		Battle:         session.View(),
	}
}

// InitializeVoting opens the voting window for a battle. Replays (same
// battle already initialized) return the existing session unchanged.
func (s *Service) InitializeVoting(ctx context.Context, eventID, battleID, creatorODV, opponentODV string) (Result, error) {
	if battleID == "" || creatorODV == "" || opponentODV == "" {
		s.logError(opInitializeVoting, "missing_ids", errMissingIDs, zap.String("battle_id", battleID))
		return Result{}, newServiceError(opInitializeVoting, "missing_ids", errMissingIDs)
	}

	var envelope Result
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing VoteSession
		err := engine.LockForUpdate(tx).Where("battle_id = ?", battleID).Take(&existing).Error
		if err == nil {
			envelope = Result{Success: true, AlreadyProcessed: true, WinnerODV: existing.WinnerODV, Battle: existing.View()}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := s.clock().UTC()
		session := VoteSession{
			BattleID:          battleID,
			CreatorODV:        creatorODV,
			OpponentODV:       opponentODV,
			Status:            StatusVoting,
			Votes:             VoteMap{},
			VotingStartedAt:   now,
			VoteDeadlineAt:    now.Add(s.votingWindow),
			ProcessedEventIDs: engine.EventLedger{eventID},
		}
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		envelope = Result{Success: true, WinnerODV: "", Battle: session.View()}
		return nil
	})

	if txErr != nil {
		s.logError(opInitializeVoting, "transaction_failed", txErr, zap.String("battle_id", battleID))
		return Result{}, newServiceError(opInitializeVoting, "transaction_failed", txErr)
	}
	return envelope, nil
}

// CastVote records one participant's judgment. A repeat vote by the same
// participant overwrites the earlier one; once both votes are present the
// battle completes synchronously in the same transaction.
func (s *Service) CastVote(ctx context.Context, eventID, battleID, odv string, vote VoteValue) (Result, error) {
	var envelope Result

	replay := func(tx *gorm.DB, session *VoteSession) error {
		if session.Status == StatusCompleted {
			envelope = completionResult(session)
		} else {
			envelope = Result{Success: true, WinnerODV: "", Battle: session.View()}
		}
		return nil
	}

	apply := func(tx *gorm.DB, session *VoteSession) (bool, error) {
		if odv != session.CreatorODV && odv != session.OpponentODV {
			envelope = rejection(RejectionNotParticipant)
			return false, nil
		}
		if session.Status != StatusVoting {
			envelope = rejection(RejectionVotingInactive)
			return false, nil
		}

		now := s.clock().UTC()
		if session.Votes == nil {
			session.Votes = VoteMap{}
		}
		session.Votes[odv] = Vote{Value: vote, CastAtSeconds: now.Unix()}

		_, creatorVoted := session.Votes[session.CreatorODV]
		_, opponentVoted := session.Votes[session.OpponentODV]
		if creatorVoted && opponentVoted {
			scores := finalScore(session)
			session.Status = StatusCompleted
			session.WinnerODV = pickWinner(session, scores)
			envelope = completionResult(session)
		} else {
			envelope = Result{Success: true, WinnerODV: "", Battle: session.View()}
		}
		return true, nil
	}

	alreadyProcessed, err := engine.RunIdempotent(ctx, s.db, eventID, s.lookupSession(battleID), replay, apply)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rejection(RejectionBattleNotFound), nil
	}
	if err != nil {
		s.logError(opCastVote, "transaction_failed", err, zap.String("battle_id", battleID))
		return Result{}, newServiceError(opCastVote, "transaction_failed", err)
	}
	envelope.AlreadyProcessed = alreadyProcessed
	return envelope, nil
}

// timeoutEventID builds the deterministic idempotency key for a
// deadline-driven completion, so concurrent sweeps collapse to one effect.
func timeoutEventID(battleID string, deadline time.Time) string {
	return fmt.Sprintf("votetimeout:%s:%d", battleID, deadline.Unix())
}

// CompleteExpired force-completes voting sessions whose deadline passed with
// fewer than two votes, under the same locking and idempotency discipline as
// CastVote. It returns the number of sessions it completed.
func (s *Service) CompleteExpired(ctx context.Context, now time.Time) (int, error) {
	type candidate struct {
		BattleID       string
		VoteDeadlineAt time.Time
	}

	var overdue []candidate
	err := s.db.WithContext(ctx).Model(&VoteSession{}).
		Where("status = ? AND vote_deadline_at <= ?", StatusVoting, now).
		Find(&overdue).Error
	if err != nil {
		s.logError(opCompleteExpired, "candidate_select_failed", err)
		return 0, newServiceError(opCompleteExpired, "candidate_select_failed", err)
	}

	completed := 0
	for _, row := range overdue {
		expired, err := s.completeSession(ctx, row.BattleID, timeoutEventID(row.BattleID, row.VoteDeadlineAt), now)
		if err != nil {
			s.logError(opCompleteExpired, "complete_failed", err, zap.String("battle_id", row.BattleID))
			continue
		}
		if expired {
			completed++
		}
	}
	return completed, nil
}

func (s *Service) completeSession(ctx context.Context, battleID, eventID string, now time.Time) (bool, error) {
	expired := false

	replay := func(tx *gorm.DB, session *VoteSession) error {
		return nil
	}

	apply := func(tx *gorm.DB, session *VoteSession) (bool, error) {
		if session.Status != StatusVoting || session.VoteDeadlineAt.After(now) {
			return false, nil
		}
		scores := finalScore(session)
		session.Status = StatusCompleted
		session.WinnerODV = pickWinner(session, scores)
		expired = true
		return true, nil
	}

	_, err := engine.RunIdempotent(ctx, s.db, eventID, s.lookupSession(battleID), replay, apply)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return expired, err
}

// GetBattle returns the current view of a voting session, or nil when it
// does not exist.
func (s *Service) GetBattle(ctx context.Context, battleID string) (*View, error) {
	var session VoteSession
	err := s.db.WithContext(ctx).Where("battle_id = ?", battleID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newServiceError(opGetBattle, "session_select_failed", err)
	}
	return session.View(), nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil {
		return
	}
	logFields := append([]zap.Field{zap.String("operation", operation), zap.String("reason", reason), zap.Error(err)}, fields...)
	s.logger.Error("battle voting operation failed", logFields...)
}
