package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"daybook/internal/services"
)

// WebhookHandler handles DodoPayments webhooks
type WebhookHandler struct {
	paymentService *services.PaymentService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(paymentService *services.PaymentService) *WebhookHandler {
	return &WebhookHandler{paymentService: paymentService}
}

// HandleDodoWebhook handles incoming webhooks from DodoPayments.
// Unauthenticated; the signature is the only trust anchor.
// POST /api/webhooks/dodo
func (h *WebhookHandler) HandleDodoWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	if len(payload) == 0 {
		log.Printf("❌ [WEBHOOK] Missing payload")
		return badRequest(c, "Missing payload")
	}

	// Convert Fiber headers to http.Header for the SDK
	headers := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})

	event, err := h.paymentService.VerifyAndParseWebhook(payload, headers)
	if err != nil {
		log.Printf("❌ [WEBHOOK] Verification failed: %v", err)
		return sendError(c, fiber.StatusUnauthorized, "Invalid webhook", "invalid_webhook")
	}

	err = h.paymentService.HandleWebhookEvent(c.UserContext(), event)
	switch {
	case err == nil:
		log.Printf("✅ [WEBHOOK] Processed %s (ID: %s)", event.Type, event.ID)
		return c.JSON(fiber.Map{"received": true})

	// Redeliveries and events for unknown subscriptions will not succeed on retry
	case errors.Is(err, services.ErrEventAlreadyHandled):
		return c.JSON(fiber.Map{"received": true, "message": "Event already processed"})
	case errors.Is(err, services.ErrSubscriptionNotFound):
		log.Printf("⚠️  [WEBHOOK] %s for unknown subscription %s ignored", event.Type, event.SubscriptionID)
		return c.JSON(fiber.Map{"received": true, "message": "Subscription not found"})

	default:
		// 500 lets DodoPayments retry
		log.Printf("❌ [WEBHOOK] Processing error for %s: %v", event.ID, err)
		return sendError(c, fiber.StatusInternalServerError, "Failed to process webhook", "internal")
	}
}
