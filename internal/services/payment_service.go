package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dodopayments/dodopayments-go"
	"github.com/dodopayments/dodopayments-go/option"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"daybook/internal/database"
	"daybook/internal/models"
)

var (
	ErrPaymentsDisabled     = errors.New("payments are not configured")
	ErrNoSubscription       = errors.New("no active subscription")
	ErrEventAlreadyHandled  = errors.New("webhook event already processed")
	ErrInvalidWebhook       = errors.New("invalid webhook")
	ErrAlreadyCancelling    = errors.New("subscription is already scheduled for cancellation")
	ErrNotCancelling        = errors.New("subscription is not scheduled for cancellation")
	ErrAlreadySubscribed    = errors.New("user already has an active subscription")
	ErrSubscriptionNotFound = errors.New("no user owns this subscription")
)

// SubscriptionUsers is the slice of the user store the payment flow needs
type SubscriptionUsers interface {
	Get(ctx context.Context, userID string) (*models.User, error)
	SetDodoCustomerID(ctx context.Context, userID, customerID string) error
	SetSubscription(ctx context.Context, userID string, sub *models.Subscription) error
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error)
	FindByCustomerID(ctx context.Context, customerID string) (*models.User, error)
}

// WebhookEventLog records processed webhook events for idempotency
type WebhookEventLog interface {
	// Record stores ev and reports false if an event with the same
	// provider id was already stored.
	Record(ctx context.Context, ev *models.SubscriptionEvent) (bool, error)
	// Forget drops a recorded event so a redelivery is processed again
	Forget(ctx context.Context, providerEventID string) error
}

// WebhookEvent is a verified DodoPayments event, flattened to the fields
// the subscription projection uses.
type WebhookEvent struct {
	ID   string
	Type string

	SubscriptionID string
	CustomerID     string
	ProductID      string
	PaymentID      string
	Status         string

	PeriodStart time.Time
	PeriodEnd   time.Time

	PriceAmount       int64
	Currency          string
	DiscountPercent   float64
	CancelAtPeriodEnd bool

	Timestamp time.Time
}

// dodoPayload is the JSON body DodoPayments posts. Only fields used by the
// projection are decoded.
type dodoPayload struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      struct {
		SubscriptionID string `json:"subscription_id"`
		PaymentID      string `json:"payment_id"`
		ProductID      string `json:"product_id"`
		Status         string `json:"status"`
		Customer       struct {
			CustomerID string `json:"customer_id"`
		} `json:"customer"`
		PreviousBillingDate     *time.Time        `json:"previous_billing_date"`
		NextBillingDate         *time.Time        `json:"next_billing_date"`
		RecurringPreTaxAmount   int64             `json:"recurring_pre_tax_amount"`
		Currency                string            `json:"currency"`
		CancelAtNextBillingDate bool              `json:"cancel_at_next_billing_date"`
		Metadata                map[string]string `json:"metadata"`
	} `json:"data"`
}

// PaymentConfig configures the payment service
type PaymentConfig struct {
	APIKey        string
	WebhookSecret string
	Environment   string // "test" or "live"
	ProductID     string
	ReturnURL     string
}

// PaymentService handles checkout and projects provider webhooks onto the
// user's cached subscription.
type PaymentService struct {
	client        *dodopayments.Client
	webhookSecret string
	productID     string
	returnURL     string
	users         SubscriptionUsers
	events        WebhookEventLog
	now           func() time.Time
}

// NewPaymentService creates a new payment service. Without an API key
// checkout is disabled and webhooks fall back to HMAC verification.
func NewPaymentService(cfg PaymentConfig, users SubscriptionUsers, events WebhookEventLog) *PaymentService {
	var client *dodopayments.Client
	if cfg.APIKey != "" {
		envOpt := option.WithEnvironmentLiveMode()
		if cfg.Environment == "test" {
			envOpt = option.WithEnvironmentTestMode()
		}
		client = dodopayments.NewClient(
			option.WithBearerToken(cfg.APIKey),
			envOpt,
		)
		log.Println("✅ DodoPayments client initialized")
	} else {
		log.Println("⚠️  DodoPayments API key not provided, checkout disabled")
	}

	return &PaymentService{
		client:        client,
		webhookSecret: cfg.WebhookSecret,
		productID:     cfg.ProductID,
		returnURL:     cfg.ReturnURL,
		users:         users,
		events:        events,
		now:           time.Now,
	}
}

// Plan returns the premium plan offered at checkout
func (s *PaymentService) Plan() models.Plan {
	return models.PremiumPlan(s.productID)
}

// CheckoutResponse represents the response for checkout creation
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// CreateCheckoutSession creates a hosted checkout for the premium plan
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, userID string) (*CheckoutResponse, error) {
	if s.client == nil || s.productID == "" {
		return nil, ErrPaymentsDisabled
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.IsPremium() {
		return nil, ErrAlreadySubscribed
	}

	customerID := user.DodoCustomerID
	if customerID == "" {
		// DodoPayments requires a name; use the email's local part
		customerName := user.Email
		if at := strings.Index(user.Email, "@"); at > 0 {
			customerName = user.Email[:at]
		}
		if customerName == "" {
			customerName = userID
		}

		customer, err := s.client.Customers.New(ctx, dodopayments.CustomerNewParams{
			Email: dodopayments.F(user.Email),
			Name:  dodopayments.F(customerName),
			Metadata: dodopayments.F(map[string]string{
				"user_id": userID,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create customer: %w", err)
		}

		customerID = customer.CustomerID
		if err := s.users.SetDodoCustomerID(ctx, userID, customerID); err != nil {
			return nil, fmt.Errorf("failed to store customer ID: %w", err)
		}
	}

	session, err := s.client.CheckoutSessions.New(ctx, dodopayments.CheckoutSessionNewParams{
		CheckoutSessionRequest: dodopayments.CheckoutSessionRequestParam{
			ProductCart: dodopayments.F([]dodopayments.CheckoutSessionRequestProductCartParam{{
				ProductID: dodopayments.F(s.productID),
				Quantity:  dodopayments.F(int64(1)),
			}}),
			ReturnURL: dodopayments.F(s.returnURL),
			Customer: dodopayments.F[dodopayments.CustomerRequestUnionParam](dodopayments.AttachExistingCustomerParam{
				CustomerID: dodopayments.F(customerID),
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	log.Printf("💳 [PAYMENT] Checkout session %s created for %s", session.SessionID, userID)
	return &CheckoutResponse{
		CheckoutURL: session.CheckoutURL,
		SessionID:   session.SessionID,
	}, nil
}

// GetCurrentSubscription returns the cached subscription, or nil if the
// user never subscribed.
func (s *PaymentService) GetCurrentSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Subscription, nil
}

// CancelSubscription schedules cancellation at period end
func (s *PaymentService) CancelSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, userID, true)
}

// ReactivateSubscription undoes a scheduled cancellation
func (s *PaymentService) ReactivateSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, userID, false)
}

func (s *PaymentService) setCancelAtPeriodEnd(ctx context.Context, userID string, cancel bool) (*models.Subscription, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub := user.Subscription
	if !sub.IsActive() {
		return nil, ErrNoSubscription
	}
	if cancel && sub.CancelAtPeriodEnd {
		return nil, ErrAlreadyCancelling
	}
	if !cancel && !sub.CancelAtPeriodEnd {
		return nil, ErrNotCancelling
	}

	if sub.ProviderSubscriptionID != "" && s.client != nil {
		_, err = s.client.Subscriptions.Update(ctx, sub.ProviderSubscriptionID, dodopayments.SubscriptionUpdateParams{
			CancelAtNextBillingDate: dodopayments.F(cancel),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update subscription: %w", err)
		}
	}

	updated := *sub
	updated.CancelAtPeriodEnd = cancel
	if cancel {
		updated.Status = models.SubStatusPendingCancel
	} else {
		updated.Status = models.SubStatusActive
	}
	if err := s.users.SetSubscription(ctx, userID, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// VerifyWebhook verifies a hex HMAC-SHA256 signature of the payload
func (s *PaymentService) VerifyWebhook(payload []byte, signature string) error {
	if s.webhookSecret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrInvalidWebhook)
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidWebhook)
	}
	return nil
}

// VerifyAndParseWebhook verifies and parses a webhook. DodoPayments uses
// the Standard Webhooks format (webhook-id, webhook-signature and
// webhook-timestamp headers); without an SDK client a plain HMAC header
// is accepted instead.
func (s *PaymentService) VerifyAndParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error) {
	var typed *dodopayments.UnwrapWebhookEvent
	if s.client != nil && s.webhookSecret != "" {
		event, err := s.client.Webhooks.Unwrap(payload, headers, option.WithWebhookKey(s.webhookSecret))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
		}
		typed = event
	} else {
		signature := headers.Get("Webhook-Signature")
		if signature == "" {
			signature = headers.Get("Dodo-Signature")
		}
		if signature == "" {
			return nil, fmt.Errorf("%w: missing signature header", ErrInvalidWebhook)
		}
		if err := s.VerifyWebhook(payload, signature); err != nil {
			return nil, err
		}
	}

	var raw dodoPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}

	event := eventFromPayload(&raw)
	if typed != nil {
		mergeTypedEvent(event, typed)
	}

	event.ID = headers.Get("Webhook-Id")
	if event.ID == "" {
		event.ID = fmt.Sprintf("%s:%s:%s:%d", event.Type, event.SubscriptionID, event.PaymentID, event.Timestamp.UnixNano())
	}
	return event, nil
}

func eventFromPayload(raw *dodoPayload) *WebhookEvent {
	d := raw.Data
	ev := &WebhookEvent{
		Type:              raw.Type,
		SubscriptionID:    d.SubscriptionID,
		CustomerID:        d.Customer.CustomerID,
		ProductID:         d.ProductID,
		PaymentID:         d.PaymentID,
		Status:            d.Status,
		PriceAmount:       d.RecurringPreTaxAmount,
		Currency:          d.Currency,
		CancelAtPeriodEnd: d.CancelAtNextBillingDate,
		Timestamp:         raw.Timestamp,
	}
	if d.PreviousBillingDate != nil {
		ev.PeriodStart = *d.PreviousBillingDate
	}
	if d.NextBillingDate != nil {
		ev.PeriodEnd = *d.NextBillingDate
	}
	if pct, err := strconv.ParseFloat(d.Metadata["discount_percent"], 64); err == nil {
		ev.DiscountPercent = pct
	}
	return ev
}

// mergeTypedEvent prefers the SDK's typed view for ids and billing dates
func mergeTypedEvent(ev *WebhookEvent, event *dodopayments.UnwrapWebhookEvent) {
	ev.Type = string(event.Type)

	switch e := event.AsUnion().(type) {
	case dodopayments.SubscriptionActiveWebhookEvent:
		ev.SubscriptionID = e.Data.SubscriptionID
		ev.CustomerID = e.Data.Customer.CustomerID
		ev.ProductID = e.Data.ProductID
		ev.PeriodStart = e.Data.PreviousBillingDate
		ev.PeriodEnd = e.Data.NextBillingDate
	case dodopayments.SubscriptionUpdatedWebhookEvent:
		ev.SubscriptionID = e.Data.SubscriptionID
		ev.CustomerID = e.Data.Customer.CustomerID
		ev.ProductID = e.Data.ProductID
		ev.PeriodStart = e.Data.PreviousBillingDate
		ev.PeriodEnd = e.Data.NextBillingDate
	case dodopayments.SubscriptionRenewedWebhookEvent:
		ev.SubscriptionID = e.Data.SubscriptionID
		ev.CustomerID = e.Data.Customer.CustomerID
		ev.PeriodStart = e.Data.PreviousBillingDate
		ev.PeriodEnd = e.Data.NextBillingDate
	case dodopayments.SubscriptionCancelledWebhookEvent:
		ev.SubscriptionID = e.Data.SubscriptionID
		ev.CustomerID = e.Data.Customer.CustomerID
	case dodopayments.SubscriptionOnHoldWebhookEvent:
		ev.SubscriptionID = e.Data.SubscriptionID
		ev.CustomerID = e.Data.Customer.CustomerID
	case dodopayments.PaymentSucceededWebhookEvent:
		ev.PaymentID = e.Data.PaymentID
		ev.SubscriptionID = e.Data.SubscriptionID
	case dodopayments.PaymentFailedWebhookEvent:
		ev.PaymentID = e.Data.PaymentID
		ev.SubscriptionID = e.Data.SubscriptionID
	}
}

// HandleWebhookEvent projects a verified event onto the owning user's
// cached subscription. A redelivered event returns ErrEventAlreadyHandled.
func (s *PaymentService) HandleWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	metrics := GetMetrics()

	if s.events != nil {
		fresh, err := s.events.Record(ctx, &models.SubscriptionEvent{
			SubscriptionID: event.SubscriptionID,
			EventType:      event.Type,
			ProviderEvent:  event.ID,
			Metadata: map[string]any{
				"customer_id": event.CustomerID,
				"product_id":  event.ProductID,
				"payment_id":  event.PaymentID,
				"status":      event.Status,
			},
			CreatedAt: s.now(),
		})
		if err != nil {
			log.Printf("⚠️  [WEBHOOK] Failed to log event %s: %v", event.ID, err)
		} else if !fresh {
			metrics.WebhookEvents.WithLabelValues(event.Type, "duplicate").Inc()
			log.Printf("⚠️  [WEBHOOK] Event %s already processed, skipping", event.ID)
			return ErrEventAlreadyHandled
		}
	}

	var err error
	switch event.Type {
	case "subscription.active", "subscription.renewed", "subscription.plan_changed":
		err = s.project(ctx, event, models.SubStatusActive)
	case "subscription.updated":
		err = s.project(ctx, event, mapProviderStatus(event.Status))
	case "subscription.on_hold":
		err = s.project(ctx, event, models.SubStatusOnHold)
	case "subscription.cancelled":
		err = s.project(ctx, event, models.SubStatusCancelled)
	case "subscription.expired", "subscription.failed":
		err = s.project(ctx, event, models.SubStatusExpired)
	case "payment.succeeded", "payment.failed":
		log.Printf("💳 [WEBHOOK] %s for payment %s (subscription %s)", event.Type, event.PaymentID, event.SubscriptionID)
	default:
		log.Printf("⚠️  [WEBHOOK] Unhandled event type: %s", event.Type)
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if s.events != nil && !errors.Is(err, ErrSubscriptionNotFound) {
			if ferr := s.events.Forget(ctx, event.ID); ferr != nil {
				log.Printf("⚠️  [WEBHOOK] Failed to release event %s for retry: %v", event.ID, ferr)
			}
		}
	}
	metrics.WebhookEvents.WithLabelValues(event.Type, outcome).Inc()
	return err
}

// mapProviderStatus maps DodoPayments subscription statuses onto ours
func mapProviderStatus(status string) string {
	switch status {
	case "active":
		return models.SubStatusActive
	case "on_hold":
		return models.SubStatusOnHold
	case "cancelled":
		return models.SubStatusCancelled
	case "paused":
		return models.SubStatusPaused
	case "expired", "failed":
		return models.SubStatusExpired
	case "trialing":
		return models.SubStatusTrialing
	default:
		return ""
	}
}

func (s *PaymentService) resolveUser(ctx context.Context, event *WebhookEvent) (*models.User, error) {
	if event.SubscriptionID != "" {
		user, err := s.users.FindBySubscriptionID(ctx, event.SubscriptionID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}
	if event.CustomerID != "" {
		user, err := s.users.FindByCustomerID(ctx, event.CustomerID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: subscription %q customer %q", ErrSubscriptionNotFound, event.SubscriptionID, event.CustomerID)
}

// project merges the event into the cached subscription. Fields the event
// does not carry keep their previous values.
func (s *PaymentService) project(ctx context.Context, event *WebhookEvent, status string) error {
	user, err := s.resolveUser(ctx, event)
	if err != nil {
		return err
	}

	sub := models.Subscription{}
	if user.Subscription != nil && (user.Subscription.ProviderSubscriptionID == "" ||
		user.Subscription.ProviderSubscriptionID == event.SubscriptionID) {
		sub = *user.Subscription
	}

	if event.SubscriptionID != "" {
		sub.ProviderSubscriptionID = event.SubscriptionID
	}
	if event.ProductID != "" {
		sub.ProductID = event.ProductID
	}
	if !event.PeriodStart.IsZero() {
		sub.CurrentPeriodStart = event.PeriodStart
	}
	if !event.PeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = event.PeriodEnd
	}
	if event.PriceAmount > 0 {
		sub.PriceAmount = event.PriceAmount
	}
	if event.Currency != "" {
		sub.Currency = event.Currency
	}
	if event.DiscountPercent > 0 {
		sub.DiscountPercent = event.DiscountPercent
	}

	if status == "" {
		status = sub.Status
	}
	sub.CancelAtPeriodEnd = event.CancelAtPeriodEnd
	if status == models.SubStatusActive && event.CancelAtPeriodEnd {
		status = models.SubStatusPendingCancel
	}
	sub.Status = status

	if status == models.SubStatusCancelled && sub.CancelledAt == nil {
		now := s.now()
		sub.CancelledAt = &now
	}

	if err := s.users.SetSubscription(ctx, user.UserID, &sub); err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if event.CustomerID != "" && user.DodoCustomerID == "" {
		if err := s.users.SetDodoCustomerID(ctx, user.UserID, event.CustomerID); err != nil {
			log.Printf("⚠️  [WEBHOOK] Failed to store customer ID for %s: %v", user.UserID, err)
		}
	}

	log.Printf("✅ [WEBHOOK] %s: subscription %s for %s is now %s", event.Type, sub.ProviderSubscriptionID, user.UserID, sub.Status)
	return nil
}

// MongoWebhookEventLog stores webhook events in subscription_events. The
// unique index on providerEventId makes Record atomic.
type MongoWebhookEventLog struct {
	collection *mongo.Collection
}

// NewMongoWebhookEventLog creates a Mongo-backed webhook event log
func NewMongoWebhookEventLog(db *database.MongoDB) *MongoWebhookEventLog {
	return &MongoWebhookEventLog{collection: db.Collection(database.CollectionSubscriptionEvents)}
}

// Record inserts ev, reporting false on a duplicate provider event id
func (l *MongoWebhookEventLog) Record(ctx context.Context, ev *models.SubscriptionEvent) (bool, error) {
	if _, err := l.collection.InsertOne(ctx, ev); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Forget deletes the record of a provider event
func (l *MongoWebhookEventLog) Forget(ctx context.Context, providerEventID string) error {
	_, err := l.collection.DeleteOne(ctx, bson.M{"providerEventId": providerEventID})
	return err
}
