// Package httpapi exposes read-only snapshots of the sync engine over a
// local HTTP API for the presentation layer.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatsync/pkg/engine"
	"chatsync/pkg/response"
)

// Handler serves engine state.
type Handler struct {
	engine *engine.Engine
}

// NewHandler creates the read-API handler.
func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

// RegisterRoutes mounts the read API on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/status", h.GetStatus)
	router.GET("/conversations", h.GetConversations)
	router.GET("/conversations/:id/messages", h.GetMessages)
	router.GET("/conversations/:id/typing", h.GetTyping)
	router.GET("/windows", h.GetWindows)
}

// GetStatus reports the transport state and tracked conversation count.
func (h *Handler) GetStatus(c *gin.Context) {
	snapshot := h.engine.Store().Snapshot()
	response.SendAPIResponse(c, http.StatusOK, true, "status", map[string]any{
		"connection":    h.engine.Transport().State().String(),
		"conversations": len(snapshot),
	})
}

// GetConversations returns all conversations with preview fields; message
// logs are omitted to keep the list light.
func (h *Handler) GetConversations(c *gin.Context) {
	convs := h.engine.Store().Snapshot()
	for i := range convs {
		convs[i].Messages = nil
	}
	response.SendAPIResponse(c, http.StatusOK, true, "conversations", map[string]any{
		"conversations": convs,
		"count":         len(convs),
	})
}

// GetMessages returns the full loaded log of one conversation in arrival
// order, plus whether older history may exist.
func (h *Handler) GetMessages(c *gin.Context) {
	id := c.Param("id")
	if !h.engine.Store().Tracked(id) {
		response.SendError(c, http.StatusNotFound, "unknown conversation")
		return
	}
	msgs := h.engine.Store().Messages(id)
	response.SendAPIResponse(c, http.StatusOK, true, "messages", map[string]any{
		"messages": msgs,
		"count":    len(msgs),
		"has_more": h.engine.HasMore(id),
	})
}

// GetTyping returns who is currently typing in the conversation.
func (h *Handler) GetTyping(c *gin.Context) {
	id := c.Param("id")
	typists := h.engine.Tracker().Typists(id)
	response.SendAPIResponse(c, http.StatusOK, true, "typing", map[string]any{
		"typing": typists,
		"count":  len(typists),
	})
}

// GetWindows returns the ordered ids of the floating windows view and the
// active conversation id.
func (h *Handler) GetWindows(c *gin.Context) {
	response.SendAPIResponse(c, http.StatusOK, true, "windows", map[string]any{
		"open":   h.engine.Store().OpenWindows(),
		"active": h.engine.Store().Active(),
	})
}
