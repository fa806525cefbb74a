package game

import (
	"context"
	"errors"
	"testing"
)

type failingIDProvider struct{}

func (failingIDProvider) NewID() (string, error) {
	return "", errors.New("generator offline")
}

func createTestRound(t *testing.T, service *Service, gameID GameID) *Round {
	t.Helper()
	round, err := service.CreateRound(context.Background(), gameID, mustPlayerODV(t, "odv-a"), "kickflip", "clip-001")
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}
	return round
}

func TestConfirmRoundByDefense(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	round := createTestRound(t, service, gameID)

	outcome, err := service.ConfirmRound(context.Background(), gameID, round.ID, mustPlayerODV(t, "odv-b"), RoundResultLanded)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if !outcome.Success || outcome.Disputed || outcome.Result != string(RoundResultLanded) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	var stored Round
	if err := service.db.Where("id = ?", round.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload round: %v", err)
	}
	if stored.Status != RoundResolved || stored.Result != string(RoundResultLanded) {
		t.Fatalf("unexpected stored round: %+v", stored)
	}
}

func TestConfirmRoundRejectsOffense(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	round := createTestRound(t, service, gameID)

	outcome, err := service.ConfirmRound(context.Background(), gameID, round.ID, mustPlayerODV(t, "odv-a"), RoundResultLanded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Success || outcome.Error != RejectionOnlyDefense {
		t.Fatalf("expected only-defense rejection, got %+v", outcome)
	}
}

func TestConfirmRoundUnknownRound(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)

	outcome, err := service.ConfirmRound(context.Background(), gameID, "ghost", mustPlayerODV(t, "odv-b"), RoundResultMissed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Success || outcome.Error != RejectionRoundNotFound {
		t.Fatalf("expected round-not-found rejection, got %+v", outcome)
	}
}

func TestConfirmRoundTwiceRejected(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	round := createTestRound(t, service, gameID)
	ctx := context.Background()
	defense := mustPlayerODV(t, "odv-b")

	if _, err := service.ConfirmRound(ctx, gameID, round.ID, defense, RoundResultLanded); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	outcome, err := service.ConfirmRound(ctx, gameID, round.ID, defense, RoundResultMissed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Success || outcome.Error != RejectionRoundNotJudgeable {
		t.Fatalf("expected not-judgeable rejection, got %+v", outcome)
	}
}

func TestFileDisputeCreatesDisputeAndFlagsRound(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	round := createTestRound(t, service, gameID)

	outcome, err := service.FileDispute(context.Background(), "evt-dispute", gameID, round.ID, mustPlayerODV(t, "odv-b"), "looked sketchy")
	if err != nil {
		t.Fatalf("dispute failed: %v", err)
	}
	if !outcome.Success || !outcome.Disputed || outcome.DisputeID == "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.OpponentODV != "odv-a" {
		t.Fatalf("expected opponent odv-a, got %q", outcome.OpponentODV)
	}

	var stored Round
	if err := service.db.Where("id = ?", round.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload round: %v", err)
	}
	if stored.Status != RoundDisputed || !stored.Disputed {
		t.Fatalf("round must be flagged disputed, got %+v", stored)
	}

	var dispute Dispute
	if err := service.db.Where("id = ?", outcome.DisputeID).Take(&dispute).Error; err != nil {
		t.Fatalf("failed to load dispute: %v", err)
	}
	if dispute.Status != DisputeOpen || dispute.FiledBy != "odv-b" || dispute.Reason != "looked sketchy" {
		t.Fatalf("unexpected dispute record: %+v", dispute)
	}
}

func TestFileDisputeReplayReturnsSameDispute(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	round := createTestRound(t, service, gameID)
	ctx := context.Background()
	filer := mustPlayerODV(t, "odv-b")

	first, err := service.FileDispute(ctx, "evt-dup", gameID, round.ID, filer, "sketchy")
	if err != nil {
		t.Fatalf("first filing failed: %v", err)
	}
	second, err := service.FileDispute(ctx, "evt-dup", gameID, round.ID, filer, "sketchy")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.AlreadyProcessed || second.DisputeID != first.DisputeID {
		t.Fatalf("replay must return the original dispute, got %+v vs %+v", second, first)
	}

	var count int64
	if err := service.db.Model(&Dispute{}).Where("round_id = ?", round.ID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count disputes: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single dispute record, got %d", count)
	}
}

func TestFileDisputeByOutsiderRejected(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	round := createTestRound(t, service, gameID)

	outcome, err := service.FileDispute(context.Background(), "evt-out", gameID, round.ID, mustPlayerODV(t, "odv-z"), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Success || outcome.Error != RejectionNotParticipant {
		t.Fatalf("expected not-participant rejection, got %+v", outcome)
	}
}

func TestResolveDisputeAppliesRuling(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	round := createTestRound(t, service, gameID)
	ctx := context.Background()

	filed, err := service.FileDispute(ctx, "evt-file", gameID, round.ID, mustPlayerODV(t, "odv-b"), "sketchy")
	if err != nil {
		t.Fatalf("filing failed: %v", err)
	}

	outcome, err := service.ResolveDispute(ctx, "evt-resolve", gameID, filed.DisputeID, RoundResultMissed)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !outcome.Success || outcome.Result != string(RoundResultMissed) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	var dispute Dispute
	if err := service.db.Where("id = ?", filed.DisputeID).Take(&dispute).Error; err != nil {
		t.Fatalf("failed to reload dispute: %v", err)
	}
	if dispute.Status != DisputeResolved || dispute.Ruling != string(RoundResultMissed) {
		t.Fatalf("unexpected dispute state: %+v", dispute)
	}

	var stored Round
	if err := service.db.Where("id = ?", round.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload round: %v", err)
	}
	if stored.Status != RoundResolved || stored.Result != string(RoundResultMissed) {
		t.Fatalf("ruling must propagate to the round, got %+v", stored)
	}
}

func TestResolveDisputeFreshEventOnResolvedDisputeRejected(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	round := createTestRound(t, service, gameID)
	ctx := context.Background()

	filed, err := service.FileDispute(ctx, "evt-file", gameID, round.ID, mustPlayerODV(t, "odv-b"), "sketchy")
	if err != nil {
		t.Fatalf("filing failed: %v", err)
	}
	if _, err := service.ResolveDispute(ctx, "evt-resolve", gameID, filed.DisputeID, RoundResultLanded); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	outcome, err := service.ResolveDispute(ctx, "evt-resolve-again", gameID, filed.DisputeID, RoundResultMissed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Success || outcome.Error != RejectionDisputeResolved {
		t.Fatalf("expected already-resolved rejection, got %+v", outcome)
	}

	replay, err := service.ResolveDispute(ctx, "evt-resolve", gameID, filed.DisputeID, RoundResultLanded)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !replay.AlreadyProcessed || replay.Result != string(RoundResultLanded) {
		t.Fatalf("replay must return the original ruling, got %+v", replay)
	}
}

func TestCreateRoundIDFailureCarriesOperationCode(t *testing.T) {
	service, _ := newTestService(t)
	gameID := createTestGame(t, service)
	service.idProvider = failingIDProvider{}

	_, err := service.CreateRound(context.Background(), gameID, mustPlayerODV(t, "odv-a"), "kickflip", "clip-001")
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if serviceErr.Code() != "game.create_round.id_generation_failed" {
		t.Fatalf("unexpected code %q", serviceErr.Code())
	}
}

func TestReviewWindowStretchesClipAtQuarterSpeed(t *testing.T) {
	if ReviewWindowSeconds != 60 {
		t.Fatalf("expected 60 second review window, got %d", ReviewWindowSeconds)
	}
	if float64(ReviewClipSeconds)/ReviewPlaybackRate != float64(ReviewWindowSeconds) {
		t.Fatalf("playback rate and window disagree")
	}
}
