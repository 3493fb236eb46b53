package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/pds/internal/notebook"
	"github.com/MarcoPoloResearchLab/pds/internal/snowflake"
	"github.com/gin-gonic/gin"
)

type objectChangePayload struct {
	ObjType   notebook.ObjectType `json:"obj_type"`
	ObjID     snowflake.ID        `json:"obj_id"`
	Deleted   bool                `json:"deleted"`
	Timestamp string              `json:"timestamp"`
	Source    string              `json:"source"`
}

type heartbeatPayload struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func (h *httpHandler) publishChange(objType notebook.ObjectType, objID snowflake.ID, deleted bool) {
	h.realtime.Publish(RealtimeMessage{
		EventType: RealtimeEventObjectChanged,
		ObjType:   objType,
		ObjID:     objID,
		Deleted:   deleted,
		Timestamp: h.clock().UTC(),
	})
}

// handleEvents streams object-change events as server-sent events until the
// client disconnects or the stream context ends.
func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.streamCtx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, objectChangePayload{
				ObjType:   message.ObjType,
				ObjID:     message.ObjID,
				Deleted:   message.Deleted,
				Timestamp: message.Timestamp.Format(timestampLayout),
				Source:    realtimeSourceBackend,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{
				Timestamp: h.now(),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
}
