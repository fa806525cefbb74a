package game

import (
	"context"
	"errors"

	"github.com/skatehubba/backend/internal/engine"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Rejection messages for the judging flow.
const (
	RejectionRoundNotFound     = "Round not found"
	RejectionOnlyDefense       = "Only defense can confirm"
	RejectionRoundNotJudgeable = "Round is not awaiting confirmation"
	RejectionDisputeNotFound   = "Dispute not found"
	RejectionDisputeResolved   = "Dispute already resolved"
)

const (
	opConfirmRound   = "game.confirm_round"
	opFileDispute    = "game.file_dispute"
	opResolveDispute = "game.resolve_dispute"
	opCreateRound    = "game.create_round"
)

// JudgmentOutcome is the envelope for confirm/dispute operations.
type JudgmentOutcome struct {
	Success          bool   `json:"success"`
	AlreadyProcessed bool   `json:"already_processed,omitempty"`
	Error            string `json:"error,omitempty"`
	Disputed         bool   `json:"disputed"`
	Result           string `json:"result"`
	DisputeID        string `json:"dispute_id"`
	OpponentODV      string `json:"opponent_odv"`
}

func judgmentRejection(message string) JudgmentOutcome {
	return JudgmentOutcome{Success: false, Error: message}
}

// ConfirmRound records the defending player's agreement with a judged
// outcome. Only defense may confirm; the offense set the trick and does not
// get to judge it.
func (s *Service) ConfirmRound(ctx context.Context, gameID GameID, roundID string, odv PlayerODV, result RoundResult) (JudgmentOutcome, error) {
	var outcome JudgmentOutcome

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var round Round
		err := engine.LockForUpdate(tx).
			Where("id = ? AND game_id = ?", roundID, gameID.String()).
			Take(&round).Error
		if err != nil {
			return err
		}

		if round.OffenseODV == odv.String() {
			outcome = judgmentRejection(RejectionOnlyDefense)
			return nil
		}
		if round.Status != RoundAwaitingResponse {
			outcome = judgmentRejection(RejectionRoundNotJudgeable)
			return nil
		}

		round.Status = RoundResolved
		round.Result = string(result)
		if err := tx.Save(&round).Error; err != nil {
			return err
		}

		outcome = JudgmentOutcome{Success: true, Disputed: false, Result: string(result)}
		return nil
	})

	if errors.Is(txErr, gorm.ErrRecordNotFound) {
		return judgmentRejection(RejectionRoundNotFound), nil
	}
	if txErr != nil {
		s.logError(opConfirmRound, "transaction_failed", txErr, zap.String("game_id", gameID.String()), zap.String("round_id", roundID))
		return JudgmentOutcome{}, newServiceError(opConfirmRound, "transaction_failed", txErr)
	}
	return outcome, nil
}

// FileDispute escalates a round to formal review. The session row holds the
// idempotency ledger, so the dispute filing shares the same lock and replay
// discipline as turn actions. OpponentODV is empty, not an error, when no
// opponent can be resolved; the caller simply skips notification.
func (s *Service) FileDispute(ctx context.Context, eventID string, gameID GameID, roundID string, odv PlayerODV, reason string) (JudgmentOutcome, error) {
	var outcome JudgmentOutcome

	replay := func(tx *gorm.DB, session *Session) error {
		var dispute Dispute
		err := tx.
			Where("game_id = ? AND round_id = ?", gameID.String(), roundID).
			Order("created_at").
			First(&dispute).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		outcome = JudgmentOutcome{
			Success:     true,
			Disputed:    true,
			DisputeID:   dispute.ID,
			OpponentODV: opponentODV(session.Players, odv.String()),
		}
		return nil
	}

	apply := func(tx *gorm.DB, session *Session) (bool, error) {
		if session.Players.indexOf(odv.String()) < 0 {
			outcome = judgmentRejection(RejectionNotParticipant)
			return false, nil
		}

		var round Round
		err := engine.LockForUpdate(tx).
			Where("id = ? AND game_id = ?", roundID, gameID.String()).
			Take(&round).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = judgmentRejection(RejectionRoundNotFound)
			return false, nil
		}
		if err != nil {
			return false, err
		}

		disputeID, err := s.idProvider.NewID()
		if err != nil {
			return false, err
		}

		round.Status = RoundDisputed
		round.Disputed = true
		if err := tx.Save(&round).Error; err != nil {
			return false, err
		}

		dispute := Dispute{
			ID:      disputeID,
			GameID:  gameID.String(),
			RoundID: roundID,
			FiledBy: odv.String(),
			Reason:  reason,
			Status:  DisputeOpen,
		}
		if err := tx.Create(&dispute).Error; err != nil {
			return false, err
		}

		outcome = JudgmentOutcome{
			Success:     true,
			Disputed:    true,
			DisputeID:   disputeID,
			OpponentODV: opponentODV(session.Players, odv.String()),
		}
		return true, nil
	}

	alreadyProcessed, err := engine.RunIdempotent(ctx, s.db, eventID, s.lookupSession(gameID), replay, apply)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return judgmentRejection(RejectionGameNotFound), nil
	}
	if err != nil {
		s.logError(opFileDispute, "transaction_failed", err, zap.String("game_id", gameID.String()), zap.String("round_id", roundID))
		return JudgmentOutcome{}, newServiceError(opFileDispute, "transaction_failed", err)
	}
	outcome.AlreadyProcessed = alreadyProcessed
	return outcome, nil
}

// ResolveDispute applies the terminal administrative ruling. Replays of the
// same event id are no-ops; a fresh event id against an already-resolved
// dispute is rejected rather than reapplied.
func (s *Service) ResolveDispute(ctx context.Context, eventID string, gameID GameID, disputeID string, ruling RoundResult) (JudgmentOutcome, error) {
	var outcome JudgmentOutcome

	replay := func(tx *gorm.DB, session *Session) error {
		var dispute Dispute
		err := tx.
			Where("id = ? AND game_id = ?", disputeID, gameID.String()).
			Take(&dispute).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		outcome = JudgmentOutcome{Success: true, Disputed: false, Result: dispute.Ruling, DisputeID: dispute.ID}
		return nil
	}

	apply := func(tx *gorm.DB, session *Session) (bool, error) {
		var dispute Dispute
		err := engine.LockForUpdate(tx).
			Where("id = ? AND game_id = ?", disputeID, gameID.String()).
			Take(&dispute).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = judgmentRejection(RejectionDisputeNotFound)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if dispute.Status == DisputeResolved {
			outcome = judgmentRejection(RejectionDisputeResolved)
			return false, nil
		}

		dispute.Status = DisputeResolved
		dispute.Ruling = string(ruling)
		if err := tx.Save(&dispute).Error; err != nil {
			return false, err
		}

		var round Round
		err = engine.LockForUpdate(tx).
			Where("id = ? AND game_id = ?", dispute.RoundID, gameID.String()).
			Take(&round).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return false, err
		}
		if err == nil {
			round.Status = RoundResolved
			round.Result = string(ruling)
			if err := tx.Save(&round).Error; err != nil {
				return false, err
			}
		}

		outcome = JudgmentOutcome{Success: true, Disputed: false, Result: string(ruling), DisputeID: dispute.ID}
		return true, nil
	}

	alreadyProcessed, err := engine.RunIdempotent(ctx, s.db, eventID, s.lookupSession(gameID), replay, apply)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return judgmentRejection(RejectionGameNotFound), nil
	}
	if err != nil {
		s.logError(opResolveDispute, "transaction_failed", err, zap.String("game_id", gameID.String()), zap.String("dispute_id", disputeID))
		return JudgmentOutcome{}, newServiceError(opResolveDispute, "transaction_failed", err)
	}
	outcome.AlreadyProcessed = alreadyProcessed
	return outcome, nil
}

// opponentODV resolves the other participant in a two-player session, or
// empty when the opponent cannot be determined.
func opponentODV(players PlayerList, odv string) string {
	if len(players) != 2 {
		return ""
	}
	for _, player := range players {
		if player.ODV != odv {
			return player.ODV
		}
	}
	return ""
}

// CreateRound opens a judging record for the current trick exchange.
func (s *Service) CreateRound(ctx context.Context, gameID GameID, offense PlayerODV, trick, videoRef string) (*Round, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, newServiceError(opCreateRound, "id_generation_failed", err)
	}
	round := Round{
		ID:         id,
		GameID:     gameID.String(),
		OffenseODV: offense.String(),
		Status:     RoundAwaitingResponse,
		Trick:      trick,
		VideoRef:   videoRef,
	}
	if err := s.db.WithContext(ctx).Create(&round).Error; err != nil {
		return nil, newServiceError(opCreateRound, "round_insert_failed", err)
	}
	return &round, nil
}
