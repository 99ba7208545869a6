package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const realtimeHeartbeatInterval = 20 * time.Second

type realtimeEventPayload struct {
	Email       string    `json:"email"`
	Kind        string    `json:"kind"`
	Collections []string  `json:"collections,omitempty"`
	Durable     bool      `json:"durable"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	email := sessionEmail(c)
	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), email)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("event stream opened", zap.String("email", email))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Email:       message.Email,
				Kind:        string(message.Kind),
				Collections: message.Collections,
				Durable:     message.Durable,
				Source:      realtimeSourceBackend,
				Timestamp:   message.Timestamp,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("email", email))
}
