package handlers

import (
	"context"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/models"
	"daybook/internal/services"
)

// UserStore is the profile persistence behind the user endpoints
type UserStore interface {
	ProfileReader
	UpdateSettings(ctx context.Context, userID string, req *models.UpdateSettingsRequest) (*models.UserSettings, error)
	SaveOnboarding(ctx context.Context, userID string, answers map[string]string) error
	RegisterNotificationID(ctx context.Context, userID, notificationID string) error
	GetReferralCode(ctx context.Context, userID string) (string, error)
	RedeemReferral(ctx context.Context, userID, code string) error
}

// UserHandler handles profile, settings and referral endpoints
type UserHandler struct {
	users   UserStore
	limiter *services.UsageLimiterService
}

// NewUserHandler creates a new user handler. limiter may be nil.
func NewUserHandler(users UserStore, limiter *services.UsageLimiterService) *UserHandler {
	return &UserHandler{users: users, limiter: limiter}
}

// GetMe returns the caller's profile, creating it on first access
// GET /api/users/me
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	userID, email, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	user, err := h.users.GetOrCreate(c.UserContext(), userID, email)
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"user":       user,
		"is_premium": user.IsPremium(),
	})
}

// UpdateSettings applies a partial settings update
// PATCH /api/users/me/settings
func (h *UserHandler) UpdateSettings(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req models.UpdateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.JournalMode != nil && !models.IsValidJournalMode(*req.JournalMode) {
		return badRequest(c, "journal_mode must be one of guided, freeform, voice")
	}

	settings, err := h.users.UpdateSettings(c.UserContext(), userID, &req)
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"settings": settings})
}

// SaveOnboarding stores onboarding answers
// POST /api/users/me/onboarding
func (h *UserHandler) SaveOnboarding(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req struct {
		Answers map[string]string `json:"answers"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if len(req.Answers) == 0 {
		return badRequest(c, "answers are required")
	}

	if err := h.users.SaveOnboarding(c.UserContext(), userID, req.Answers); err != nil {
		return sendServiceError(c, err)
	}
	log.Printf("👋 [USER] Onboarding saved for %s", userID)
	return c.JSON(fiber.Map{"success": true})
}

// RegisterNotificationID records a push notification id for the caller
// POST /api/users/me/notifications
func (h *UserHandler) RegisterNotificationID(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req struct {
		NotificationID string `json:"notification_id"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.NotificationID) == "" {
		return badRequest(c, "notification_id is required")
	}

	if err := h.users.RegisterNotificationID(c.UserContext(), userID, req.NotificationID); err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// GetUsage returns today's AI request usage
// GET /api/users/me/usage
func (h *UserHandler) GetUsage(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	if h.limiter == nil {
		return c.JSON(fiber.Map{"ai_requests_used": 0, "ai_requests_limit": -1})
	}
	return c.JSON(h.limiter.GetUsageStats(c.UserContext(), userID))
}

// GetReferralCode returns the caller's referral code
// GET /api/users/me/referral
func (h *UserHandler) GetReferralCode(c *fiber.Ctx) error {
	userID, email, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ctx := c.UserContext()

	// The profile must exist before a code can be attached to it
	if _, err := h.users.GetOrCreate(ctx, userID, email); err != nil {
		return sendServiceError(c, err)
	}
	code, err := h.users.GetReferralCode(ctx, userID)
	if err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"referral_code": code})
}

// RedeemReferral links the caller to a referrer
// POST /api/referrals/redeem
func (h *UserHandler) RedeemReferral(c *fiber.Ctx) error {
	userID, email, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		return badRequest(c, "code is required")
	}

	ctx := c.UserContext()
	if _, err := h.users.GetOrCreate(ctx, userID, email); err != nil {
		return sendServiceError(c, err)
	}
	if err := h.users.RedeemReferral(ctx, userID, req.Code); err != nil {
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
