package handlers

import (
	"github.com/amaumene/debridarr/internal/services/torbox"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// WebhookHandler handles TorBox webhook callbacks. A finished download only nudges the queue;
// the Checking stage reads the torrent state from the provider itself.
type WebhookHandler struct {
	queue  Queue
	logger zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(queue Queue, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		queue:  queue,
		logger: logger,
	}
}

// Handle handles the webhook endpoint
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	var payload torbox.WebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		h.logger.Error().Err(err).Msg("Failed to decode webhook payload")
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}

	log := h.logger.With().Str("title", payload.Data.Title).Str("status", payload.GetStatus()).Logger()
	if name, err := payload.ExtractDownloadName(); err == nil {
		log = log.With().Str("download_name", name).Logger()
	} else if hash, err := payload.ExtractHash(); err == nil {
		log = log.With().Str("hash", hash).Logger()
	}

	if !payload.Actionable() {
		log.Debug().Msg("Ignoring TorBox notification")
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	log.Info().Msg("Received TorBox webhook, triggering tick")
	h.queue.Trigger()
	return c.JSON(fiber.Map{"status": "ok"})
}
