package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/services"
)

// SubscriptionHandler handles subscription-related endpoints
type SubscriptionHandler struct {
	paymentService *services.PaymentService
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(paymentService *services.PaymentService) *SubscriptionHandler {
	return &SubscriptionHandler{paymentService: paymentService}
}

// GetPlan returns the premium plan
// GET /api/subscriptions/plan
func (h *SubscriptionHandler) GetPlan(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"plan": h.paymentService.Plan()})
}

// GetCurrent returns the user's cached subscription
// GET /api/subscriptions/current
func (h *SubscriptionHandler) GetCurrent(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	sub, err := h.paymentService.GetCurrentSubscription(c.UserContext(), userID)
	if err != nil {
		return sendServiceError(c, err)
	}
	if sub == nil {
		return c.JSON(fiber.Map{"status": "none", "is_premium": false})
	}

	return c.JSON(fiber.Map{
		"subscription": sub,
		"status":       sub.Status,
		"is_premium":   sub.IsActive(),
	})
}

// CreateCheckout creates a checkout session for the premium plan
// POST /api/subscriptions/checkout
func (h *SubscriptionHandler) CreateCheckout(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	checkout, err := h.paymentService.CreateCheckoutSession(c.UserContext(), userID)
	if err != nil {
		log.Printf("⚠️  Failed to create checkout for user %s: %v", userID, err)
		return sendServiceError(c, err)
	}
	return c.JSON(checkout)
}

// Cancel schedules cancellation at the end of the current period
// POST /api/subscriptions/cancel
func (h *SubscriptionHandler) Cancel(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	sub, err := h.paymentService.CancelSubscription(c.UserContext(), userID)
	if err != nil {
		log.Printf("⚠️  Failed to cancel subscription for user %s: %v", userID, err)
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}

// Reactivate undoes a scheduled cancellation
// POST /api/subscriptions/reactivate
func (h *SubscriptionHandler) Reactivate(c *fiber.Ctx) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}

	sub, err := h.paymentService.ReactivateSubscription(c.UserContext(), userID)
	if err != nil {
		log.Printf("⚠️  Failed to reactivate subscription for user %s: %v", userID, err)
		return sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"subscription": sub})
}
