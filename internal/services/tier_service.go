package services

import (
	"context"
	"log"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"daybook/internal/database"
	"daybook/internal/models"
)

// PremiumLookup resolves whether a user currently has premium access
type PremiumLookup func(ctx context.Context, userID string) (bool, error)

// TierService answers "is this user premium" with a short-lived cache in
// front of the users collection.
type TierService struct {
	lookup PremiumLookup
	cache  *cache.Cache
}

// NewTierService creates a tier service backed by MongoDB. With a nil
// database every user is treated as free.
func NewTierService(mongoDB *database.MongoDB) *TierService {
	var lookup PremiumLookup
	if mongoDB != nil {
		lookup = mongoPremiumLookup(mongoDB)
	}
	return NewTierServiceWithLookup(lookup)
}

// NewTierServiceWithLookup creates a tier service around a custom lookup
func NewTierServiceWithLookup(lookup PremiumLookup) *TierService {
	return &TierService{
		lookup: lookup,
		cache:  cache.New(5*time.Minute, 10*time.Minute),
	}
}

func mongoPremiumLookup(mongoDB *database.MongoDB) PremiumLookup {
	return func(ctx context.Context, userID string) (bool, error) {
		var user struct {
			Subscription *models.Subscription `bson:"subscription"`
		}
		err := mongoDB.Collection(database.CollectionUsers).FindOne(ctx,
			bson.M{"userId": userID},
			options.FindOne().SetProjection(bson.M{"subscription": 1}),
		).Decode(&user)
		if err != nil {
			return false, err
		}
		return user.Subscription.IsActive(), nil
	}
}

// IsPremium returns whether the user has premium access. Lookup failures
// degrade to free and are not cached.
func (s *TierService) IsPremium(ctx context.Context, userID string) bool {
	if v, ok := s.cache.Get(userID); ok {
		return v.(bool)
	}
	if s.lookup == nil {
		return false
	}

	premium, err := s.lookup(ctx, userID)
	if err != nil {
		return false
	}

	s.cache.Set(userID, premium, cache.DefaultExpiration)
	return premium
}

// InvalidateCache removes a user from the cache (call when the subscription changes)
func (s *TierService) InvalidateCache(userID string) {
	s.cache.Delete(userID)
	log.Printf("🔄 [TIER] Invalidated cache for user %s", userID)
}
