package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/llm"
	"daybook/internal/models"
	"daybook/internal/services"
	"daybook/internal/templates"
)

// ErrorBody is the error envelope returned by every JSON endpoint
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// sendError writes {error: {message, code}} with the given status
func sendError(c *fiber.Ctx, status int, message, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": ErrorBody{Message: message, Code: code},
	})
}

func unauthorized(c *fiber.Ctx) error {
	return sendError(c, fiber.StatusUnauthorized, "Authentication required", "unauthorized")
}

func badRequest(c *fiber.Ctx, message string) error {
	return sendError(c, fiber.StatusBadRequest, message, "bad_request")
}

// currentUser reads the identity set by the auth middleware
func currentUser(c *fiber.Ctx) (userID, email string, ok bool) {
	userID, ok = c.Locals("user_id").(string)
	if !ok || userID == "" || userID == "anonymous" {
		return "", "", false
	}
	email, _ = c.Locals("user_email").(string)
	return userID, email, true
}

// sendServiceError maps a service error onto a status and error code.
// Provider failures surface as a generic 500.
func sendServiceError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := "bad_request"
		if fe.Code == fiber.StatusUnauthorized {
			code = "unauthorized"
		}
		return sendError(c, fe.Code, fe.Message, code)
	}

	var limitErr *services.LimitExceededError
	if errors.As(err, &limitErr) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": fiber.Map{
				"message":    limitErr.Error(),
				"code":       limitErr.ErrorCode,
				"limit":      limitErr.Limit,
				"used":       limitErr.Used,
				"reset_at":   limitErr.ResetAt,
				"upgrade_to": limitErr.UpgradeTo,
			},
		})
	}

	switch {
	case errors.Is(err, services.ErrEntryNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrCollectionItemNotFound),
		errors.Is(err, services.ErrReferralNotFound),
		errors.Is(err, templates.ErrTemplateNotFound):
		return sendError(c, fiber.StatusNotFound, err.Error(), "not_found")

	case errors.Is(err, services.ErrEntryFinalized),
		errors.Is(err, services.ErrAlreadyReferred),
		errors.Is(err, services.ErrAlreadySubscribed),
		errors.Is(err, services.ErrAlreadyCancelling),
		errors.Is(err, services.ErrNotCancelling):
		return sendError(c, fiber.StatusConflict, err.Error(), "conflict")

	case errors.Is(err, services.ErrCannotFinish),
		errors.Is(err, services.ErrUnknownPrompt),
		errors.Is(err, services.ErrEmptyResponse),
		errors.Is(err, services.ErrInvalidJournalMode),
		errors.Is(err, services.ErrSelfReferral),
		errors.Is(err, models.ErrInvalidCollectionItem):
		return sendError(c, fiber.StatusBadRequest, err.Error(), "bad_request")

	case errors.Is(err, services.ErrNoSubscription):
		return sendError(c, fiber.StatusNotFound, err.Error(), "no_subscription")

	case errors.Is(err, services.ErrPaymentsDisabled):
		return sendError(c, fiber.StatusServiceUnavailable, err.Error(), "payments_disabled")

	case errors.Is(err, llm.ErrUnknownContext):
		log.Printf("❌ [AI] %v", err)
		return sendError(c, fiber.StatusInternalServerError, "Unsupported AI feature", "unknown_context")
	}

	var perr *llm.ProviderError
	if errors.As(err, &perr) || errors.Is(err, llm.ErrEmptyCompletion) {
		log.Printf("❌ [AI] Provider failure: %v", err)
		return sendError(c, fiber.StatusInternalServerError, "The AI provider failed to respond", "provider_error")
	}

	log.Printf("❌ Request failed: %v", err)
	return sendError(c, fiber.StatusInternalServerError, "Internal server error", "internal")
}
