package handlers

import (
	"github.com/amaumene/debridarr/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Queue is the scheduler surface the API drives
type Queue interface {
	Trigger()
	Pause()
	Resume()
	Paused() bool
}

// StatusHandler handles status requests
type StatusHandler struct {
	db     *models.Database
	queue  Queue
	logger zerolog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(db *models.Database, queue Queue, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		db:     db,
		queue:  queue,
		logger: logger,
	}
}

// StatusResponse represents the status response
type StatusResponse struct {
	TotalItems int64            `json:"total_items"`
	ByState    map[string]int64 `json:"by_state"`
	Paused     bool             `json:"paused"`
}

// Handle handles the status endpoint
func (h *StatusHandler) Handle(c *fiber.Ctx) error {
	counts, err := h.db.CountByState(c.UserContext())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count items")
		return fiber.NewError(fiber.StatusInternalServerError, "internal server error")
	}

	response := StatusResponse{
		ByState: make(map[string]int64, len(models.AllStates)),
		Paused:  h.queue.Paused(),
	}
	for _, state := range models.AllStates {
		response.ByState[string(state)] = counts[state]
		response.TotalItems += counts[state]
	}
	return c.JSON(response)
}

// Pause handles POST /api/queue/pause
func (h *StatusHandler) Pause(c *fiber.Ctx) error {
	h.queue.Pause()
	return c.JSON(fiber.Map{"paused": h.queue.Paused()})
}

// Resume handles POST /api/queue/resume. The queue stays paused while the provider is unavailable.
func (h *StatusHandler) Resume(c *fiber.Ctx) error {
	h.queue.Resume()
	return c.JSON(fiber.Map{"paused": h.queue.Paused()})
}
