package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisServiceFromClient(client)
}

func freeTier() *TierService {
	return NewTierServiceWithLookup(func(ctx context.Context, userID string) (bool, error) {
		return userID == "premium", nil
	})
}

func TestUsageLimiter_EnforcesDailyLimit(t *testing.T) {
	_, rs := newTestRedis(t)
	limiter := NewUsageLimiterService(freeTier(), rs, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.ConsumeAIRequest(ctx, "u1"); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	err := limiter.ConsumeAIRequest(ctx, "u1")
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("Expected LimitExceededError, got %v", err)
	}
	if limitErr.Limit != 3 || limitErr.ErrorCode != "ai_limit_exceeded" {
		t.Errorf("Unexpected limit error: %+v", limitErr)
	}

	stats := limiter.GetUsageStats(ctx, "u1")
	if stats.AIRequestsUsed != 3 {
		t.Errorf("Expected rejected request not to count, used=%d", stats.AIRequestsUsed)
	}

	// Other users have their own allowance
	if err := limiter.ConsumeAIRequest(ctx, "u2"); err != nil {
		t.Errorf("Expected u2 to be allowed, got %v", err)
	}
}

func TestUsageLimiter_PremiumUnlimited(t *testing.T) {
	_, rs := newTestRedis(t)
	limiter := NewUsageLimiterService(freeTier(), rs, 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := limiter.ConsumeAIRequest(ctx, "premium"); err != nil {
			t.Fatalf("Expected premium to be unlimited, got %v", err)
		}
	}
	if stats := limiter.GetUsageStats(ctx, "premium"); stats.AIRequestsLimit != -1 {
		t.Errorf("Expected unlimited stats, got %+v", stats)
	}
}

func TestUsageLimiter_NilRedisAllows(t *testing.T) {
	limiter := NewUsageLimiterService(freeTier(), nil, 1)
	for i := 0; i < 3; i++ {
		if err := limiter.ConsumeAIRequest(context.Background(), "u"); err != nil {
			t.Fatalf("Expected nil redis to allow, got %v", err)
		}
	}
}

func TestUsageLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	mr, rs := newTestRedis(t)
	limiter := NewUsageLimiterService(freeTier(), rs, 1)
	mr.Close()

	if err := limiter.ConsumeAIRequest(context.Background(), "u"); err != nil {
		t.Errorf("Expected fail-open, got %v", err)
	}
}

func TestUsageLimiter_KeyedByUTCDay(t *testing.T) {
	mr, rs := newTestRedis(t)
	limiter := NewUsageLimiterService(freeTier(), rs, 1)
	day := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)
	limiter.now = func() time.Time { return day }
	ctx := context.Background()

	if err := limiter.ConsumeAIRequest(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("usage:ai:u:2026-03-10") {
		t.Error("Expected counter keyed by UTC day")
	}
	if err := limiter.ConsumeAIRequest(ctx, "u"); err == nil {
		t.Error("Expected second request on the same day to be rejected")
	}

	day = day.Add(2 * time.Minute)
	if err := limiter.ConsumeAIRequest(ctx, "u"); err != nil {
		t.Errorf("Expected a fresh allowance after midnight, got %v", err)
	}
}

func TestUsageLimiter_ConcurrentRequestsRespectLimit(t *testing.T) {
	_, rs := newTestRedis(t)
	limiter := NewUsageLimiterService(freeTier(), rs, 5)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.ConsumeAIRequest(ctx, "u") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Errorf("Expected exactly 5 allowed requests, got %d", allowed)
	}
}
