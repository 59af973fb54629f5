package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"daybook/internal/database"
	"daybook/internal/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidJournalMode = errors.New("invalid journal mode")
	ErrReferralNotFound   = errors.New("referral code not found")
	ErrSelfReferral       = errors.New("cannot redeem your own referral code")
	ErrAlreadyReferred    = errors.New("a referral code was already redeemed")
)

// UserService handles user profile operations with MongoDB
type UserService struct {
	db          *database.MongoDB
	collection  *mongo.Collection
	tierService *TierService
}

// NewUserService creates a new user service.
// tierService can be nil; when set its cache is invalidated on subscription changes.
func NewUserService(db *database.MongoDB, tierService *TierService) *UserService {
	return &UserService{
		db:          db,
		collection:  db.Collection(database.CollectionUsers),
		tierService: tierService,
	}
}

// GetOrCreate returns the user's profile, creating it on first access.
// New profiles start at the latest migration number since there is no
// older data to upgrade.
func (s *UserService) GetOrCreate(ctx context.Context, userID, email string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	now := time.Now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"userId": userID,
			"settings": models.UserSettings{
				Locale:      "en-US",
				JournalMode: models.JournalModeGuided,
			},
			"referralCount":   0,
			"migrationNumber": LatestMigrationNumber(),
			"createdAt":       now,
		},
		"$set": bson.M{"updatedAt": now},
	}
	if email != "" {
		update["$set"].(bson.M)["email"] = email
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var user models.User
	if err := s.collection.FindOneAndUpdate(ctx, bson.M{"userId": userID}, update, opts).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return &user, nil
}

// Get retrieves a user by auth subject
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.collection.FindOne(ctx, bson.M{"userId": userID}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateSettings applies the non-nil fields of req
func (s *UserService) UpdateSettings(ctx context.Context, userID string, req *models.UpdateSettingsRequest) (*models.UserSettings, error) {
	updateFields := bson.M{}
	if req.Locale != nil {
		updateFields["settings.locale"] = *req.Locale
	}
	if req.JournalMode != nil {
		if !models.IsValidJournalMode(*req.JournalMode) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidJournalMode, *req.JournalMode)
		}
		updateFields["settings.journalMode"] = *req.JournalMode
	}
	if req.AdvancedModelEnabled != nil {
		updateFields["settings.advancedModelEnabled"] = *req.AdvancedModelEnabled
	}
	if req.SupportStyle != nil {
		updateFields["settings.supportStyle"] = *req.SupportStyle
	}
	if req.Tone != nil {
		updateFields["settings.tone"] = *req.Tone
	}

	if len(updateFields) == 0 {
		user, err := s.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &user.Settings, nil
	}
	updateFields["updatedAt"] = time.Now()

	var user models.User
	err := s.collection.FindOneAndUpdate(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": updateFields},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	return &user.Settings, nil
}

// SaveOnboarding stores the onboarding questionnaire answers
func (s *UserService) SaveOnboarding(ctx context.Context, userID string, answers map[string]string) error {
	now := time.Now()
	return s.updateOne(ctx, userID, bson.M{"$set": bson.M{
		"onboardingAnswers": answers,
		"onboardedAt":       now,
		"updatedAt":         now,
	}})
}

// RegisterNotificationID adds a push notification id to the user's devices
func (s *UserService) RegisterNotificationID(ctx context.Context, userID, notificationID string) error {
	if strings.TrimSpace(notificationID) == "" {
		return fmt.Errorf("notification id is required")
	}
	return s.updateOne(ctx, userID, bson.M{
		"$addToSet": bson.M{"notificationIds": notificationID},
		"$set":      bson.M{"updatedAt": time.Now()},
	})
}

// GetReferralCode returns the user's referral code, assigning one on first use
func (s *UserService) GetReferralCode(ctx context.Context, userID string) (string, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.ReferralCode != "" {
		return user.ReferralCode, nil
	}

	code := NewReferralCode()
	// Only assign if still unset so concurrent callers agree on one code
	_, err = s.collection.UpdateOne(ctx,
		bson.M{"userId": userID, "referralCode": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"referralCode": code, "updatedAt": time.Now()}},
	)
	if err != nil {
		return "", fmt.Errorf("failed to assign referral code: %w", err)
	}

	user, err = s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.ReferralCode, nil
}

// RedeemReferral links userID to the owner of code and credits the referrer
func (s *UserService) RedeemReferral(ctx context.Context, userID, code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ErrReferralNotFound
	}

	return s.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		var referrer models.User
		err := s.collection.FindOne(sessCtx, bson.M{"referralCode": code}).Decode(&referrer)
		if err == mongo.ErrNoDocuments {
			return ErrReferralNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to look up referral code: %w", err)
		}
		if referrer.UserID == userID {
			return ErrSelfReferral
		}

		res, err := s.collection.UpdateOne(sessCtx,
			bson.M{"userId": userID, "referredBy": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"referredBy": referrer.UserID, "updatedAt": time.Now()}},
		)
		if err != nil {
			return fmt.Errorf("failed to redeem referral: %w", err)
		}
		if res.MatchedCount == 0 {
			return ErrAlreadyReferred
		}

		if _, err := s.collection.UpdateOne(sessCtx,
			bson.M{"userId": referrer.UserID},
			bson.M{"$inc": bson.M{"referralCount": 1}},
		); err != nil {
			return fmt.Errorf("failed to credit referrer: %w", err)
		}

		log.Printf("🎁 [REFERRAL] %s redeemed code of %s", userID, referrer.UserID)
		return nil
	})
}

// SetSubscription replaces the cached subscription projection
func (s *UserService) SetSubscription(ctx context.Context, userID string, sub *models.Subscription) error {
	sub.UpdatedAt = time.Now()
	if err := s.updateOne(ctx, userID, bson.M{"$set": bson.M{
		"subscription": sub,
		"updatedAt":    sub.UpdatedAt,
	}}); err != nil {
		return err
	}
	if s.tierService != nil {
		s.tierService.InvalidateCache(userID)
	}
	return nil
}

// SetDodoCustomerID stores the payment provider's customer id
func (s *UserService) SetDodoCustomerID(ctx context.Context, userID, customerID string) error {
	return s.updateOne(ctx, userID, bson.M{"$set": bson.M{
		"dodoCustomerId": customerID,
		"updatedAt":      time.Now(),
	}})
}

// FindBySubscriptionID finds the user owning a provider subscription
func (s *UserService) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"subscription.providerSubscriptionId": subscriptionID})
}

// FindByCustomerID finds the user owning a provider customer
func (s *UserService) FindByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	return s.findOne(ctx, bson.M{"dodoCustomerId": customerID})
}

// ExpireSubscriptions marks lapsed subscriptions as expired: those on hold
// or pending cancellation whose period ended before cutoff.
func (s *UserService) ExpireSubscriptions(ctx context.Context, cutoff time.Time) ([]string, error) {
	filter := bson.M{
		"subscription.status": bson.M{"$in": []string{
			models.SubStatusOnHold,
			models.SubStatusPendingCancel,
		}},
		"subscription.currentPeriodEnd": bson.M{"$lt": cutoff},
	}

	cursor, err := s.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"userId": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to find lapsed subscriptions: %w", err)
	}
	var lapsed []struct {
		UserID string `bson:"userId"`
	}
	if err := cursor.All(ctx, &lapsed); err != nil {
		return nil, fmt.Errorf("failed to decode lapsed subscriptions: %w", err)
	}
	if len(lapsed) == 0 {
		return nil, nil
	}

	now := time.Now()
	if _, err := s.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"subscription.status":    models.SubStatusExpired,
		"subscription.updatedAt": now,
		"updatedAt":              now,
	}}); err != nil {
		return nil, fmt.Errorf("failed to expire subscriptions: %w", err)
	}

	ids := make([]string, 0, len(lapsed))
	for _, u := range lapsed {
		ids = append(ids, u.UserID)
		if s.tierService != nil {
			s.tierService.InvalidateCache(u.UserID)
		}
	}
	return ids, nil
}

func (s *UserService) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := s.collection.FindOne(ctx, filter).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *UserService) updateOne(ctx context.Context, userID string, update bson.M) error {
	res, err := s.collection.UpdateOne(ctx, bson.M{"userId": userID}, update)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// NewReferralCode returns an 8 character uppercase code
func NewReferralCode() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:8])
}
