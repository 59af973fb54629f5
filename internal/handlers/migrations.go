package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/services"
)

// MigrationRunner applies pending data migrations for a user
type MigrationRunner interface {
	Run(ctx context.Context, userID string) (*services.MigrationResult, error)
}

// MigrationHandler exposes the per-user migration loop
type MigrationHandler struct {
	users      ProfileReader
	migrations MigrationRunner
}

// NewMigrationHandler creates a new migration handler
func NewMigrationHandler(users ProfileReader, migrations MigrationRunner) *MigrationHandler {
	return &MigrationHandler{users: users, migrations: migrations}
}

// CheckMigrations brings the caller's data up to the latest migration.
// A failure leaves the counter at the last applied migration; the next
// call resumes from there.
// GET /api/checkMigrations
func (h *MigrationHandler) CheckMigrations(c *fiber.Ctx) error {
	userID, email, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx := c.UserContext()

	if _, err := h.users.GetOrCreate(ctx, userID, email); err != nil {
		return sendServiceError(c, err)
	}

	result, err := h.migrations.Run(ctx, userID)
	if err != nil {
		return sendError(c, fiber.StatusInternalServerError, err.Error(), "migration_failed")
	}
	return c.JSON(fiber.Map{"response": result})
}
