package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skatehubba/backend/internal/dispatch"
	"github.com/skatehubba/backend/internal/game"
)

type createGamePayload struct {
	SpotID     string   `json:"spot_id"`
	MaxPlayers int      `json:"max_players"`
	Players    []string `json:"players"`
}

func (h *httpHandler) handleCreateGame(c *gin.Context) {
	var request createGamePayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Players) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	odvs := make([]game.PlayerODV, 0, len(request.Players))
	for _, raw := range request.Players {
		odv, err := game.NewPlayerODV(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_player_odv"})
			return
		}
		odvs = append(odvs, odv)
	}

	result, err := h.games.CreateSession(c.Request.Context(), request.SpotID, request.MaxPlayers, odvs)
	if err != nil {
		h.logger.Error("failed to create game session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleGetGame(c *gin.Context) {
	gameID, ok := h.parseGameID(c)
	if !ok {
		return
	}
	view, err := h.games.GetSession(c.Request.Context(), gameID)
	if err != nil {
		h.logger.Error("failed to load game session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": game.RejectionGameNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "game": view})
}

type submitTrickPayload struct {
	TrickName string `json:"trick_name"`
}

func (h *httpHandler) handleSubmitTrick(c *gin.Context) {
	gameID, odv, ok := h.gameActor(c)
	if !ok {
		return
	}
	var request submitTrickPayload
	_ = c.ShouldBindJSON(&request)

	result, err := h.games.SubmitTrick(c.Request.Context(), h.eventID(c), gameID, odv, request.TrickName)
	h.respondGameResult(c, result, err, "")
}

func (h *httpHandler) handlePassTrick(c *gin.Context) {
	gameID, odv, ok := h.gameActor(c)
	if !ok {
		return
	}
	result, err := h.games.PassTrick(c.Request.Context(), h.eventID(c), gameID, odv)
	h.respondGameResult(c, result, err, "")
}

func (h *httpHandler) handleForfeit(c *gin.Context) {
	gameID, odv, ok := h.gameActor(c)
	if !ok {
		return
	}
	result, err := h.games.ForfeitGame(c.Request.Context(), h.eventID(c), gameID, odv)
	h.respondGameResult(c, result, err, "")
}

func (h *httpHandler) handleDisconnect(c *gin.Context) {
	gameID, odv, ok := h.gameActor(c)
	if !ok {
		return
	}
	result, err := h.games.HandleDisconnect(c.Request.Context(), gameID, odv)
	h.respondGameResult(c, result, err, "")
}

func (h *httpHandler) handleReconnect(c *gin.Context) {
	gameID, odv, ok := h.gameActor(c)
	if !ok {
		return
	}
	result, err := h.games.HandleReconnect(c.Request.Context(), gameID, odv)
	h.respondGameResult(c, result, err, dispatch.EventGameResumed)
}

type createRoundPayload struct {
	Trick    string `json:"trick"`
	VideoRef string `json:"video_ref"`
}

func (h *httpHandler) handleCreateRound(c *gin.Context) {
	gameID, odv, ok := h.gameActor(c)
	if !ok {
		return
	}
	var request createRoundPayload
	_ = c.ShouldBindJSON(&request)

	round, err := h.games.CreateRound(c.Request.Context(), gameID, odv, request.Trick, request.VideoRef)
	if err != nil {
		h.logger.Error("failed to create round", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "round_create_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "round_id": round.ID, "status": round.Status})
}

type confirmRoundPayload struct {
	Result string `json:"result"`
}

func (h *httpHandler) handleConfirmRound(c *gin.Context) {
	gameID, odv, ok := h.gameActor(c)
	if !ok {
		return
	}
	var request confirmRoundPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result, err := game.ParseRoundResult(request.Result)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_result"})
		return
	}

	outcome, svcErr := h.games.ConfirmRound(c.Request.Context(), gameID, c.Param("roundID"), odv, result)
	h.respondJudgment(c, gameID.String(), outcome, svcErr)
}

type fileDisputePayload struct {
	Reason string `json:"reason"`
}

func (h *httpHandler) handleFileDispute(c *gin.Context) {
	gameID, odv, ok := h.gameActor(c)
	if !ok {
		return
	}
	var request fileDisputePayload
	_ = c.ShouldBindJSON(&request)

	outcome, err := h.games.FileDispute(c.Request.Context(), h.eventID(c), gameID, c.Param("roundID"), odv, request.Reason)
	if err == nil && outcome.Success && !outcome.AlreadyProcessed {
		h.broadcaster.Publish(dispatch.Message{
			RoomID:    gameID.String(),
			EventType: dispatch.EventRoundDisputed,
			Payload: map[string]string{
				"game_id":    gameID.String(),
				"round_id":   c.Param("roundID"),
				"dispute_id": outcome.DisputeID,
				"filed_by":   odv.String(),
			},
			Timestamp: time.Now().UTC(),
		})
		h.notifier.Notify(c.Request.Context(), outcome.OpponentODV, dispatch.EventRoundDisputed, map[string]string{
			"game_id":    gameID.String(),
			"dispute_id": outcome.DisputeID,
		})
	}
	h.respondJudgment(c, gameID.String(), outcome, err)
}

type resolveDisputePayload struct {
	Ruling string `json:"ruling"`
}

func (h *httpHandler) handleResolveDispute(c *gin.Context) {
	gameID, _, ok := h.gameActor(c)
	if !ok {
		return
	}
	var request resolveDisputePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	ruling, err := game.ParseRoundResult(request.Ruling)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ruling"})
		return
	}

	outcome, svcErr := h.games.ResolveDispute(c.Request.Context(), h.eventID(c), gameID, c.Param("disputeID"), ruling)
	h.respondJudgment(c, gameID.String(), outcome, svcErr)
}

// gameActor resolves the path game id and the authenticated player odv.
func (h *httpHandler) gameActor(c *gin.Context) (game.GameID, game.PlayerODV, bool) {
	gameID, ok := h.parseGameID(c)
	if !ok {
		return "", "", false
	}
	odv, err := game.NewPlayerODV(c.GetString(odvContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", "", false
	}
	return gameID, odv, true
}

func (h *httpHandler) parseGameID(c *gin.Context) (game.GameID, bool) {
	gameID, err := game.NewGameID(c.Param("gameID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_game_id"})
		return "", false
	}
	return gameID, true
}

func (h *httpHandler) respondGameResult(c *gin.Context, result game.Result, err error, eventOverride string) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
		return
	}
	if !result.Success {
		c.JSON(statusForRejection(result.Error), result)
		return
	}
	h.dispatchGameResult(c.Request.Context(), result, eventOverride)
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) respondJudgment(c *gin.Context, gameID string, outcome game.JudgmentOutcome, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation_failed"})
		return
	}
	if !outcome.Success {
		c.JSON(statusForRejection(outcome.Error), outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// dispatchGameResult fans a committed transition out to the game room and, for
// terminal transitions, notifies the winner. Replayed events dispatch nothing:
// the original application already did.
func (h *httpHandler) dispatchGameResult(ctx context.Context, result game.Result, eventOverride string) {
	if !result.Success || result.AlreadyProcessed || result.Game == nil {
		return
	}
	view := result.Game

	eventType := eventOverride
	if eventType == "" {
		switch {
		case view.Status == string(game.StatusCompleted):
			eventType = dispatch.EventGameEnded
		case view.Status == string(game.StatusPaused):
			eventType = dispatch.EventGamePaused
		case result.LetterGained != "":
			eventType = dispatch.EventGameLetter
		default:
			eventType = dispatch.EventGameTurn
		}
	}

	payload := map[string]string{
		"game_id":          view.ID,
		"status":           view.Status,
		"current_turn_odv": view.CurrentTurnODV,
		"current_action":   view.CurrentAction,
		"current_trick":    view.CurrentTrick,
		"letter_gained":    result.LetterGained,
		"winner_odv":       view.WinnerODV,
	}

	h.broadcaster.Publish(dispatch.Message{
		RoomID:    view.ID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})

	if eventType == dispatch.EventGameEnded {
		h.notifier.Notify(ctx, view.WinnerODV, eventType, payload)
	}
}
