package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"shuttle-fleet-backend/internal/broadcast"
	"shuttle-fleet-backend/internal/reconcile"
)

// SSE event names.
const (
	eventSnapshot = "snapshot"
	eventResync   = "resync"
)

// Stream handles GET /api/stream. The first frame is a snapshot of the
// requested vehicles; after that every accepted transition newer than
// the snapshot is sent as a status_updated or location_updated frame.
// When the connection falls behind and events are dropped, a resync frame
// with a fresh snapshot replaces them.
func (h *Handler) Stream(c *gin.Context) {
	topics := []broadcast.Topic{broadcast.TopicAll}
	if id := c.Query("vehicle"); id != "" {
		if _, err := h.engine.Store().Get(id); err != nil {
			writeError(c, err)
			return
		}
		topics = []broadcast.Topic{broadcast.VehicleTopic(id)}
	}

	connID := uuid.NewString()
	sess, snap, err := reconcile.Open(h.bus, h.engine.Store(), connID, topics...)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer sess.Close()

	logger := log.With().Str("conn", connID).Logger()
	logger.Debug().Int("vehicles", len(snap.Vehicles)).Msg("stream opened")

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(eventSnapshot, snap)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sess.Events():
			if !ok {
				return false
			}
			if sess.NeedsResync() {
				logger.Warn().Uint64("dropped", sess.Subscription().Dropped()).Msg("stream fell behind, resyncing")
				c.SSEvent(eventResync, sess.Resync())
				return true
			}
			if sess.Accept(ev) {
				c.SSEvent(string(ev.Kind), ev)
			}
			return true
		case <-heartbeat.C:
			if sess.NeedsResync() {
				c.SSEvent(eventResync, sess.Resync())
				return true
			}
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		}
	})
	logger.Debug().Msg("stream closed")
}
