package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/models"
)

// CollectionStore persists tagged collection items
type CollectionStore interface {
	Create(ctx context.Context, userID string, item *models.CollectionItem) (*models.CollectionItem, error)
	List(ctx context.Context, userID, itemType string) ([]models.CollectionItem, error)
	Delete(ctx context.Context, userID, itemID string) error
}

// CollectionHandler handles topics, goals, saved prompts and milestones
type CollectionHandler struct {
	collections CollectionStore
}

// NewCollectionHandler creates a new collection handler
func NewCollectionHandler(collections CollectionStore) *CollectionHandler {
	return &CollectionHandler{collections: collections}
}

// List returns the caller's items
// GET /api/collections?type=
func (h *CollectionHandler) List(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	items, err := h.collections.List(c.UserContext(), userID, c.Query("type"))
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"items": items})
}

// Create stores a new item; metadata must match the item type
// POST /api/collections
func (h *CollectionHandler) Create(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var item models.CollectionItem
	if err := c.BodyParser(&item); err != nil {
		return badRequest(c, "Invalid request body")
	}

	created, err := h.collections.Create(c.UserContext(), userID, &item)
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// Delete removes an item
// DELETE /api/collections/:id
func (h *CollectionHandler) Delete(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.collections.Delete(c.UserContext(), userID, c.Params("id")); err != nil {
		return sendServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
