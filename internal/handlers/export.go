package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Exporter renders a user's journal
type Exporter interface {
	ExportHTML(ctx context.Context, userID string) ([]byte, error)
	ExportXLSX(ctx context.Context, userID string) ([]byte, error)
}

// ExportHandler serves journal downloads
type ExportHandler struct {
	exporter Exporter
}

// NewExportHandler creates a new export handler
func NewExportHandler(exporter Exporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

func attachment(c *fiber.Ctx, ext string) {
	name := fmt.Sprintf("journal-%s.%s", time.Now().UTC().Format("2006-01-02"), ext)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
}

// HTML downloads the journal as an HTML page
// GET /api/export/entries.html
func (h *ExportHandler) HTML(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.exporter.ExportHTML(c.UserContext(), userID)
	if err != nil {
		return sendServiceError(c, err)
	}
	attachment(c, "html")
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(out)
}

// XLSX downloads the journal as a spreadsheet
// GET /api/export/entries.xlsx
func (h *ExportHandler) XLSX(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	out, err := h.exporter.ExportXLSX(c.UserContext(), userID)
	if err != nil {
		return sendServiceError(c, err)
	}
	attachment(c, "xlsx")
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	return c.Send(out)
}
