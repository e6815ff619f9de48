package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/coderbot/coderbot/internal/conversation"
)

// DashboardHandler serves the read-only JSON views over the store.
type DashboardHandler struct {
	store *conversation.Service
}

func NewDashboardHandler(store *conversation.Service) *DashboardHandler {
	return &DashboardHandler{store: store}
}

func (h *DashboardHandler) listConversations(c echo.Context) error {
	var installationID int64
	if raw := c.QueryParam("installation_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid installation_id"})
		}
		installationID = id
	}
	limit := queryInt(c, "limit", 50)

	convs, err := h.store.ActiveConversations(c.Request().Context(), installationID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list conversations"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"conversations": convs, "count": len(convs)})
}

func (h *DashboardHandler) listMessages(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.store.GetByID(c.Request().Context(), id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}

	limit := queryInt(c, "limit", 100)
	messages, err := h.store.RecentMessages(c.Request().Context(), id, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load messages"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": messages, "count": len(messages)})
}

func (h *DashboardHandler) listActions(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.store.GetByID(c.Request().Context(), id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
	}

	limit := queryInt(c, "limit", 100)
	actions, err := h.store.ActionsFor(c.Request().Context(), id, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load actions"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"actions": actions, "count": len(actions)})
}

func (h *DashboardHandler) stats(c echo.Context) error {
	stats, err := h.store.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load stats"})
	}
	return c.JSON(http.StatusOK, stats)
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
