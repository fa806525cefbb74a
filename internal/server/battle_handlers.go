package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skatehubba/backend/internal/battle"
	"github.com/skatehubba/backend/internal/dispatch"
)

type initializeVotingPayload struct {
	OpponentODV string `json:"opponent_odv"`
}

func (h *httpHandler) handleInitializeVoting(c *gin.Context) {
	battleID := strings.TrimSpace(c.Param("battleID"))
	creatorODV := c.GetString(odvContextKey)

	var request initializeVotingPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.OpponentODV) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.battles.InitializeVoting(c.Request.Context(), h.eventID(c), battleID, creatorODV, strings.TrimSpace(request.OpponentODV))
	if err != nil {
		h.logger.Error("failed to initialize battle voting", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type castVotePayload struct {
	Vote string `json:"vote"`
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	battleID := strings.TrimSpace(c.Param("battleID"))
	odv := c.GetString(odvContextKey)

	var request castVotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	vote, err := battle.ParseVoteValue(request.Vote)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vote"})
		return
	}

	result, svcErr := h.battles.CastVote(c.Request.Context(), h.eventID(c), battleID, odv, vote)
	if svcErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
		return
	}
	if !result.Success {
		c.JSON(statusForRejection(result.Error), result)
		return
	}
	h.dispatchBattleResult(c.Request.Context(), battleID, result)
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleGetBattle(c *gin.Context) {
	battleID := strings.TrimSpace(c.Param("battleID"))
	view, err := h.battles.GetBattle(c.Request.Context(), battleID)
	if err != nil {
		h.logger.Error("failed to load battle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": battle.RejectionBattleNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "battle": view})
}

func (h *httpHandler) dispatchBattleResult(ctx context.Context, battleID string, result battle.Result) {
	if !result.Success || result.AlreadyProcessed {
		return
	}

	payload := map[string]string{
		"battle_id":  battleID,
		"winner_odv": result.WinnerODV,
	}
	eventType := dispatch.EventBattleVote
	if result.BattleComplete {
		eventType = dispatch.EventBattleComplete
	}

	h.broadcaster.Publish(dispatch.Message{
		RoomID:    battleID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})

	if result.BattleComplete {
		h.notifier.Notify(ctx, result.WinnerODV, eventType, payload)
	}
}
