package handlers

import (
	"github.com/gofiber/fiber/v2"

	"daybook/internal/templates"
)

// TemplateHandler serves the compose template catalog
type TemplateHandler struct {
	registry *templates.Registry
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(registry *templates.Registry) *TemplateHandler {
	return &TemplateHandler{registry: registry}
}

// List returns every template
// GET /api/templates
func (h *TemplateHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"templates": h.registry.List()})
}

// Get returns one template
// GET /api/templates/:id
func (h *TemplateHandler) Get(c *fiber.Ctx) error {
	tmpl, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(tmpl)
}
