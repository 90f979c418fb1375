package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type heartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// handleEvents streams resource-change events of the acting user. A heartbeat is sent as soon
// as the subscription is registered and then on every heartbeat interval.
func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := currentUserID(c)
	ctx := c.Request.Context()

	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()
	if h.metrics != nil {
		h.metrics.StreamOpened()
		defer h.metrics.StreamClosed()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeHeartbeat := func() {
		c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Timestamp: time.Now().UTC().Unix()})
		c.Writer.Flush()
	}
	writeHeartbeat()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("event stream opened", zap.Uint64("user_id", userID))
	defer h.logger.Debug("event stream closed", zap.Uint64("user_id", userID))

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, message.Change)
			c.Writer.Flush()
		case <-ticker.C:
			writeHeartbeat()
		}
	}
}
