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

// timeoutEventID builds the deterministic idempotency key for a
// deadline-driven forfeit. Two sweeper instances racing on the same expired
// deadline produce the same key, so only one forfeit applies.
func timeoutEventID(gameID string, deadline time.Time) string {
	return fmt.Sprintf("timeout:%s:%d", gameID, deadline.Unix())
}

// ExpireOverdueTurns forfeits sessions whose turn deadline passed and paused
// sessions whose disconnect grace ran out. The expiry is re-checked under the
// row lock, so a legitimate action that won the lock first leaves nothing for
// the sweep to do. It returns the number of sessions it completed.
func (s *Service) ExpireOverdueTurns(ctx context.Context, now time.Time) (int, error) {
	type candidate struct {
		ID             string
		TurnDeadlineAt time.Time
		PausedAt       *time.Time
	}

	var overdue []candidate
	err := s.db.WithContext(ctx).Model(&Session{}).
		Where("(status = ? AND turn_deadline_at <= ?) OR (status = ? AND paused_at <= ?)",
			StatusActive, now, StatusPaused, now.Add(-s.disconnectGrace)).
		Find(&overdue).Error
	if err != nil {
		s.logError(opExpireTurns, "candidate_select_failed", err)
		return 0, newServiceError(opExpireTurns, "candidate_select_failed", err)
	}

	completed := 0
	for _, row := range overdue {
		deadline := row.TurnDeadlineAt
		if row.PausedAt != nil {
			deadline = row.PausedAt.Add(s.disconnectGrace)
		}

		gameID := GameID(row.ID)
		expired, err := s.expireSession(ctx, gameID, timeoutEventID(row.ID, deadline), now)
		if err != nil {
			s.logError(opExpireTurns, "expire_failed", err, zap.String("game_id", row.ID))
			continue
		}
		if expired {
			completed++
		}
	}
	return completed, nil
}

// expireSession applies a single timeout forfeit: the turn holder loses.
func (s *Service) expireSession(ctx context.Context, gameID GameID, eventID string, now time.Time) (bool, error) {
	expired := false

	replay := func(tx *gorm.DB, session *Session) error {
		return nil
	}

	apply := func(tx *gorm.DB, session *Session) (bool, error) {
		switch session.Status {
		case StatusActive:
			if session.TurnDeadlineAt.After(now) {
				return false, nil
			}
		case StatusPaused:
			if session.PausedAt == nil || session.PausedAt.Add(s.disconnectGrace).After(now) {
				return false, nil
			}
		default:
			// A racing action already finished the game; benign.
			return false, nil
		}

		loser := session.CurrentTurnIndex
		winnerIndex := forcedWinnerIndex(session.Players, loser)
		winnerODV := ""
		if winnerIndex >= 0 {
			winnerODV = session.Players[winnerIndex].ODV
		}
		finishSession(session, winnerODV)
		expired = true
		return true, nil
	}

	_, err := engine.RunIdempotent(ctx, s.db, eventID, s.lookupSession(gameID), replay, apply)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return expired, err
}
