package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/coderbot/coderbot/internal/engine"
	"github.com/coderbot/coderbot/internal/githubapp"
)

// WebhookHandler terminates GitHub webhook deliveries. Signature
// verification happens before anything else; processing runs asynchronously
// so GitHub gets its response fast.
type WebhookHandler struct {
	secret string
	engine *engine.Engine
}

// NewWebhookHandler returns a handler verifying deliveries against secret.
func NewWebhookHandler(secret string, eng *engine.Engine) *WebhookHandler {
	return &WebhookHandler{secret: secret, engine: eng}
}

// Handle processes one delivery.
func (h *WebhookHandler) Handle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	signature := c.Request().Header.Get("X-Hub-Signature-256")
	if !githubapp.VerifySignature(h.secret, body, signature) {
		log.Warn().Str("remote", c.RealIP()).Msg("webhook signature verification failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
	}

	eventType := c.Request().Header.Get("X-GitHub-Event")
	delivery := c.Request().Header.Get("X-GitHub-Delivery")

	step, err := h.engine.Prepare(eventType, body)
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Str("delivery", delivery).Msg("rejected malformed webhook payload")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if step == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	log.Info().Str("event", eventType).Str("delivery", delivery).Msg("webhook accepted")
	h.engine.ProcessAsync(step)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
