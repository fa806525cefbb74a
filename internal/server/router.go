package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skatehubba/backend/internal/auth"
	"github.com/skatehubba/backend/internal/battle"
	"github.com/skatehubba/backend/internal/dispatch"
	"github.com/skatehubba/backend/internal/game"
	"github.com/skatehubba/backend/internal/players"
)

const (
	odvContextKey = "skatehubba_player_odv"
	eventIDHeader = "X-Event-ID"

	defaultSessionCookieName = "skate_session"
	sessionCookieTTL         = 12 * time.Hour
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingGameService   = errors.New("game service dependency required")
	errMissingBattleService = errors.New("battle service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// PlayerTokenManager issues and validates the bearer tokens carried on
// state-changing requests.
type PlayerTokenManager interface {
	IssuePlayerToken(ctx context.Context, odv string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// SessionAuthenticator validates the session cookie the stream endpoint uses,
// since EventSource clients cannot set an Authorization header.
type SessionAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the HTTP surface to the engine services.
type Dependencies struct {
	TokenManager      PlayerTokenManager
	Sessions          SessionAuthenticator
	Games             *game.Service
	Battles           *battle.Service
	Players           *players.Service
	Broadcaster       *dispatch.Broadcaster
	Notifier          dispatch.Notifier
	SigningSecret     []byte
	SessionCookieName string
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router serving the game API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Games == nil {
		return nil, errMissingGameService
	}
	if deps.Battles == nil {
		return nil, errMissingBattleService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	broadcaster := deps.Broadcaster
	if broadcaster == nil {
		broadcaster = dispatch.NewBroadcaster()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = dispatch.NewLogNotifier(logger)
	}
	cookieName := strings.TrimSpace(deps.SessionCookieName)
	if cookieName == "" {
		cookieName = defaultSessionCookieName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		sessions:      deps.Sessions,
		games:         deps.Games,
		battles:       deps.Battles,
		players:       deps.Players,
		broadcaster:   broadcaster,
		notifier:      notifier,
		signingSecret: deps.SigningSecret,
		cookieName:    cookieName,
		logger:        logger,
	}

	router.POST("/auth/token", handler.handleIssueToken)
	router.GET("/games/:gameID/stream", handler.handleGameStream)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/games", handler.handleCreateGame)
	protected.GET("/games/:gameID", handler.handleGetGame)
	protected.POST("/games/:gameID/trick", handler.handleSubmitTrick)
	protected.POST("/games/:gameID/pass", handler.handlePassTrick)
	protected.POST("/games/:gameID/forfeit", handler.handleForfeit)
	protected.POST("/games/:gameID/disconnect", handler.handleDisconnect)
	protected.POST("/games/:gameID/reconnect", handler.handleReconnect)
	protected.POST("/games/:gameID/rounds", handler.handleCreateRound)
	protected.POST("/games/:gameID/rounds/:roundID/confirm", handler.handleConfirmRound)
	protected.POST("/games/:gameID/rounds/:roundID/dispute", handler.handleFileDispute)
	protected.POST("/games/:gameID/disputes/:disputeID/resolve", handler.handleResolveDispute)
	protected.POST("/battles/:battleID/voting", handler.handleInitializeVoting)
	protected.POST("/battles/:battleID/votes", handler.handleCastVote)
	protected.GET("/battles/:battleID", handler.handleGetBattle)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", eventIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens        PlayerTokenManager
	sessions      SessionAuthenticator
	games         *game.Service
	battles       *battle.Service
	players       *players.Service
	broadcaster   *dispatch.Broadcaster
	notifier      dispatch.Notifier
	signingSecret []byte
	cookieName    string
	logger        *zap.Logger
}

type tokenRequestPayload struct {
	ODV         string `json:"odv"`
	DisplayName string `json:"display_name"`
	PushToken   string `json:"push_token"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ODV) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	odv := strings.TrimSpace(request.ODV)

	if h.players != nil {
		if _, err := h.players.Upsert(c.Request.Context(), odv, request.DisplayName, request.PushToken); err != nil {
			h.logger.Error("failed to register player profile", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_registration_failed"})
			return
		}
	}

	token, expiresIn, err := h.tokens.IssuePlayerToken(c.Request.Context(), odv)
	if err != nil {
		h.logger.Error("failed to issue player token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	if len(h.signingSecret) > 0 {
		sessionToken, err := auth.NewSessionToken(h.signingSecret, odv, request.DisplayName, sessionCookieTTL, nil)
		if err != nil {
			h.logger.Error("failed to sign session cookie", zap.Error(err))
		} else {
			c.SetCookie(h.cookieName, sessionToken, int(sessionCookieTTL.Seconds()), "/", "", false, true)
		}
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(odvContextKey, subject)
	c.Next()
}

// eventID returns the client-supplied idempotency key, generating a fresh
// UUIDv7 when the header is absent so the engine always has one.
func (h *httpHandler) eventID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(eventIDHeader)); id != "" {
		return id
	}
	generated, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return generated.String()
}

// statusForRejection maps rejection envelopes to HTTP status codes. Absent
// resources are 404, permission failures 403, and ordinary rule rejections
// stay 200 with success=false so clients always parse one envelope shape.
func statusForRejection(message string) int {
	switch message {
	case game.RejectionGameNotFound, game.RejectionRoundNotFound, game.RejectionDisputeNotFound, battle.RejectionBattleNotFound:
		return http.StatusNotFound
	case game.RejectionNotParticipant, game.RejectionOnlyDefense, battle.RejectionNotParticipant:
		return http.StatusForbidden
	default:
		return http.StatusOK
	}
}
