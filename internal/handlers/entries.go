package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/models"
	"daybook/internal/services"
)

// EntryStore is the entry persistence the compose flow drives
type EntryStore interface {
	EntryReader
	Create(ctx context.Context, userID, templateID string, date time.Time) (*models.Entry, error)
	AppendResponse(ctx context.Context, userID, entryID string, req services.AppendResponseRequest) (*models.Entry, error)
	CheckFinishable(ctx context.Context, userID, entryID string) (*models.Entry, *models.ComposeTemplate, error)
	Finalize(ctx context.Context, userID, entryID string, summary *models.EntrySummary, entities *models.EntryEntities) (*models.Entry, error)
	Delete(ctx context.Context, userID, entryID string) error
}

// EntryHandler handles compose sessions and entry reads
type EntryHandler struct {
	entries    EntryStore
	users      ProfileReader
	reflection *services.ReflectionService
}

// NewEntryHandler creates a new entry handler
func NewEntryHandler(entries EntryStore, users ProfileReader, reflection *services.ReflectionService) *EntryHandler {
	return &EntryHandler{entries: entries, users: users, reflection: reflection}
}

// CreateEntryRequest starts a compose session
type CreateEntryRequest struct {
	TemplateID string `json:"template_id"`
	Day        string `json:"day"` // YYYY-MM-DD, defaults to today
}

// Create starts a compose session
// POST /api/entries
func (h *EntryHandler) Create(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req CreateEntryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	var date time.Time
	if req.Day != "" {
		d, err := time.Parse("2006-01-02", req.Day)
		if err != nil {
			return badRequest(c, "day must be YYYY-MM-DD")
		}
		date = d
	}

	entry, err := h.entries.Create(c.UserContext(), userID, req.TemplateID, date)
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// AppendResponse adds an answer to a draft entry
// POST /api/entries/:id/responses
func (h *EntryHandler) AppendResponse(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req services.AppendResponseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.PromptID == "" {
		return badRequest(c, "prompt_id is required")
	}

	entry, err := h.entries.AppendResponse(c.UserContext(), userID, c.Params("id"), req)
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(entry)
}

// Finalize generates the summary and entities and closes the session.
// A failed AI call still finalizes the entry, without a summary.
// POST /api/entries/:id/finalize
func (h *EntryHandler) Finalize(c *fiber.Ctx) error {
	userID, email, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx := c.UserContext()
	entryID := c.Params("id")

	entry, tmpl, err := h.entries.CheckFinishable(ctx, userID, entryID)
	if err != nil {
		return sendServiceError(c, err)
	}

	req := services.ReflectionRequest{UserID: userID, Current: entry, Template: tmpl}
	if profile, err := h.users.GetOrCreate(ctx, userID, email); err == nil {
		req.Premium = profile.IsPremium()
		req.Settings = profile.Settings
	}

	var aiErr error
	summary, err := h.reflection.SummarizeEntry(ctx, req)
	if err != nil {
		log.Printf("⚠️  [ENTRY] Summary failed for %s: %v", entryID, err)
		summary, aiErr = nil, err
	}
	entities, err := h.reflection.ExtractEntities(ctx, req)
	if err != nil {
		log.Printf("⚠️  [ENTRY] Entity extraction failed for %s: %v", entryID, err)
		entities, aiErr = models.EmptyEntities(), err
	}

	finalized, err := h.entries.Finalize(ctx, userID, entryID, summary, entities)
	if err != nil {
		return sendServiceError(c, err)
	}

	resp := fiber.Map{"entry": finalized}
	if aiErr != nil {
		resp["ai_incomplete"] = true
	}
	return c.JSON(resp)
}

// Get returns one entry
// GET /api/entries/:id
func (h *EntryHandler) Get(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	entry, err := h.entries.Get(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(entry)
}

// List returns entries newest first
// GET /api/entries?from=&to=&drafts=&limit=
func (h *EntryHandler) List(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	opts := services.ListEntriesOptions{
		FromDay:       c.Query("from"),
		ToDay:         c.Query("to"),
		IncludeDrafts: c.QueryBool("drafts", false),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		opts.Limit = n
	}

	entries, err := h.entries.List(c.UserContext(), userID, opts)
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

// Delete removes an entry
// DELETE /api/entries/:id
func (h *EntryHandler) Delete(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.entries.Delete(c.UserContext(), userID, c.Params("id")); err != nil {
		return sendServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
