package v1

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"thetiptop/internal/api/middleware"
	"thetiptop/internal/api/response"
	"thetiptop/internal/sse"
)

type SSEHandler struct {
	hub *sse.SSEHub
}

func NewSSEHandler(hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

func RegisterSSERoutes(group *gin.RouterGroup, hub *sse.SSEHub) {
	if hub == nil {
		return
	}
	handler := NewSSEHandler(hub)
	group.GET("/events", middleware.JWTAuth(), handler.Events)
}

// Events
// @Summary Live feed of wins for the caller and, for staff, of every redemption
// @Tags events
// @Produce text/event-stream
// @Security ApiKeyAuth
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Response
// @Router /api/v1/events [get]
func (h *SSEHandler) Events(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		response.Fail(c, 401, response.ErrUnauthorized, "unauthorized")
		return
	}
	role, ok := middleware.ClaimsRole(c)
	if !ok {
		response.Fail(c, 403, response.ErrForbidden, "forbidden")
		return
	}

	flusher, ok := c.Writer.(interface{ Flush() })
	if !ok {
		response.Fail(c, 500, response.ErrInternal, "stream unsupported")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Connection", "keep-alive")
	c.Status(200)
	flusher.Flush()

	client := sse.NewClient(claims.UserID, role)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	for _, event := range h.hub.Since(c.GetHeader("Last-Event-ID"), client) {
		if err := writeSSEEvent(c, event); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-client.Done:
			return
		case event := <-client.Ch:
			if err := writeSSEEvent(c, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(c *gin.Context, event sse.SSEEvent) error {
	if _, err := fmt.Fprintf(c.Writer, "id: %s\nevent: %s\n", event.ID, event.Type); err != nil {
		return err
	}
	for _, line := range strings.Split(event.Data, "\n") {
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(c.Writer, "\n")
	return err
}
