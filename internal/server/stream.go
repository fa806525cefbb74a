package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventHeartbeat    = "heartbeat"
	streamHeartbeatInterval = 25 * time.Second
)

// handleGameStream serves the SSE feed for one game room. It authenticates
// with the session cookie: EventSource clients cannot set an Authorization
// header.
func (h *httpHandler) handleGameStream(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream_unavailable"})
		return
	}
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	gameID, ok := h.parseGameID(c)
	if !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	stream, cancel := h.broadcaster.Subscribe(c.Request.Context(), gameID.String())
	defer cancel()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	h.logger.Debug("stream opened",
		zap.String("game_id", gameID.String()),
		zap.String("odv", claims.ODV))

	writeEvent := func(eventType string, payload any) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeEvent(streamEventHeartbeat, gin.H{"ts": time.Now().UTC().Unix()}) {
		return
	}

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			if !writeEvent(streamEventHeartbeat, gin.H{"ts": time.Now().UTC().Unix()}) {
				return
			}
		case message, open := <-stream:
			if !open {
				return
			}
			if !writeEvent(message.EventType, message.Payload) {
				return
			}
		}
	}
}
