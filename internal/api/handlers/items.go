package handlers

import (
	"context"
	"errors"

	"github.com/amaumene/debridarr/internal/controllers"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Admin is the operator action set. *controllers.Admin implements it.
type Admin interface {
	Rescrape(ctx context.Context, id uint64) (*models.MediaItem, error)
	Purge(ctx context.Context, id uint64) error
}

// ItemsHandler exposes media items and the admin actions on them
type ItemsHandler struct {
	db     *models.Database
	admin  Admin
	queue  Queue
	logger zerolog.Logger
}

// NewItemsHandler creates a new items handler
func NewItemsHandler(db *models.Database, admin Admin, queue Queue, logger zerolog.Logger) *ItemsHandler {
	return &ItemsHandler{
		db:     db,
		admin:  admin,
		queue:  queue,
		logger: logger,
	}
}

// List handles GET /api/items, optionally filtered by ?state=
func (h *ItemsHandler) List(c *fiber.Ctx) error {
	var (
		items []*models.MediaItem
		err   error
	)
	if raw := c.Query("state"); raw != "" {
		state, perr := models.ParseState(raw)
		if perr != nil {
			return fiber.NewError(fiber.StatusBadRequest, perr.Error())
		}
		items, err = h.db.ListByState(c.UserContext(), state, c.QueryInt("limit", 0))
	} else {
		items, err = h.db.ListAll(c.UserContext())
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list items")
		return fiber.NewError(fiber.StatusInternalServerError, "internal server error")
	}
	return c.JSON(items)
}

// Get handles GET /api/items/:id
func (h *ItemsHandler) Get(c *fiber.Ctx) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	item, err := h.db.GetMediaByID(c.UserContext(), id)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(item)
}

// Rescrape handles POST /api/items/:id/rescrape
func (h *ItemsHandler) Rescrape(c *fiber.Ctx) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	item, err := h.admin.Rescrape(c.UserContext(), id)
	if err != nil {
		return h.fail(err)
	}
	h.queue.Trigger()
	return c.JSON(item)
}

// Purge handles DELETE /api/items/:id
func (h *ItemsHandler) Purge(c *fiber.Ctx) error {
	id, err := itemID(c)
	if err != nil {
		return err
	}
	if err := h.admin.Purge(c.UserContext(), id); err != nil {
		return h.fail(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ItemsHandler) fail(err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "item not found")
	case errors.Is(err, controllers.ErrNotRequeueable), errors.Is(err, models.ErrStateConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Item action failed")
		return fiber.NewError(fiber.StatusInternalServerError, "internal server error")
	}
}

func itemID(c *fiber.Ctx) (uint64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid item id")
	}
	return uint64(id), nil
}
