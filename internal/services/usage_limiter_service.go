package services

import (
	"context"
	"fmt"
	"log"
	"time"
)

// UsageLimiterService enforces the free tier's daily AI request allowance
type UsageLimiterService struct {
	tierService *TierService
	redis       *RedisService
	dailyLimit  int64
	now         func() time.Time
}

// UsageLimiterStats holds current usage statistics for a user
type UsageLimiterStats struct {
	AIRequestsUsed  int64     `json:"ai_requests_used"`
	AIRequestsLimit int64     `json:"ai_requests_limit"` // -1 for unlimited
	ResetAt         time.Time `json:"reset_at"`
}

// LimitExceededError represents a rate limit error
type LimitExceededError struct {
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	ResetAt   time.Time `json:"reset_at"`
	UpgradeTo string    `json:"upgrade_to"`
}

func (e *LimitExceededError) Error() string {
	return e.Message
}

// NewUsageLimiterService creates a new usage limiter service.
// A nil redis disables the limit; dailyLimit <= 0 means unlimited.
func NewUsageLimiterService(tierService *TierService, redis *RedisService, dailyLimit int64) *UsageLimiterService {
	return &UsageLimiterService{
		tierService: tierService,
		redis:       redis,
		dailyLimit:  dailyLimit,
		now:         time.Now,
	}
}

// ConsumeAIRequest counts one AI request against the user's daily allowance.
// The increment and the check are one atomic INCR, so concurrent requests
// cannot both slip past the limit.
func (s *UsageLimiterService) ConsumeAIRequest(ctx context.Context, userID string) error {
	if s.unlimited(ctx, userID) {
		return nil
	}

	key := s.aiRequestKey(userID)
	resetAt := s.nextMidnightUTC()

	count, err := s.redis.IncrWithExpiry(ctx, key, resetAt.Add(24*time.Hour))
	if err != nil {
		// Fail open
		log.Printf("⚠️  [LIMIT] Counter unavailable for %s: %v", userID, err)
		return nil
	}

	if count > s.dailyLimit {
		// Rejected requests do not consume allowance
		_ = s.redis.Decr(ctx, key)
		GetMetrics().LimitRejections.Inc()
		return &LimitExceededError{
			ErrorCode: "ai_limit_exceeded",
			Message:   fmt.Sprintf("Daily AI limit reached (%d/%d). Resets at midnight UTC. Upgrade to Premium for unlimited reflections.", s.dailyLimit, s.dailyLimit),
			Limit:     s.dailyLimit,
			Used:      s.dailyLimit,
			ResetAt:   resetAt,
			UpgradeTo: "premium",
		}
	}

	return nil
}

// GetUsageStats returns today's AI usage for a user
func (s *UsageLimiterService) GetUsageStats(ctx context.Context, userID string) *UsageLimiterStats {
	stats := &UsageLimiterStats{AIRequestsLimit: -1, ResetAt: s.nextMidnightUTC()}
	if s.unlimited(ctx, userID) {
		return stats
	}

	stats.AIRequestsLimit = s.dailyLimit
	if used, err := s.redis.GetCount(ctx, s.aiRequestKey(userID)); err == nil {
		stats.AIRequestsUsed = used
	}
	return stats
}

func (s *UsageLimiterService) unlimited(ctx context.Context, userID string) bool {
	if s.redis == nil || s.dailyLimit <= 0 {
		return true
	}
	return s.tierService != nil && s.tierService.IsPremium(ctx, userID)
}

// aiRequestKey generates the Redis key for the daily AI request count
func (s *UsageLimiterService) aiRequestKey(userID string) string {
	return fmt.Sprintf("usage:ai:%s:%s", userID, s.now().UTC().Format("2006-01-02"))
}

// nextMidnightUTC returns the next midnight UTC time
func (s *UsageLimiterService) nextMidnightUTC() time.Time {
	tomorrow := s.now().UTC().AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC)
}
