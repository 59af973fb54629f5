package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"daybook/internal/services"
)

type fakeExpirer struct {
	cutoff time.Time
	ids    []string
	err    error
}

func (f *fakeExpirer) ExpireSubscriptions(ctx context.Context, cutoff time.Time) ([]string, error) {
	f.cutoff = cutoff
	return f.ids, f.err
}

type fakeDrafts struct {
	cutoff time.Time
	calls  int
}

func (f *fakeDrafts) DeleteStaleDrafts(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	f.calls++
	return 2, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func TestValidateCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 * * * *", false},
		{"30 3 * * *", false},
		{"*/15 * * * 1-5", false},
		{"every hour", true},
		{"0 0 * *", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			if err := ValidateCron(tt.expr); (err != nil) != tt.wantErr {
				t.Errorf("ValidateCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestSubscriptionExpiryJob_UsesGraceWindow(t *testing.T) {
	users := &fakeExpirer{ids: []string{"u1"}}
	job := NewSubscriptionExpiryJob(users, 72*time.Hour)
	job.now = fixedNow

	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := fixedNow().Add(-72 * time.Hour); !users.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", users.cutoff, want)
	}

	users.err = errors.New("mongo down")
	if err := job.Run(context.Background()); err == nil {
		t.Error("Expected error to propagate")
	}
}

func TestDraftCleanupJob_DefaultMaxAge(t *testing.T) {
	drafts := &fakeDrafts{}
	job := NewDraftCleanupJob(drafts, 0)
	job.now = fixedNow

	if err := job.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if want := fixedNow().AddDate(0, 0, -30); !drafts.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", drafts.cutoff, want)
	}
}

func TestJobs_NilDependenciesAreNoops(t *testing.T) {
	if err := NewSubscriptionExpiryJob(nil, time.Hour).Run(context.Background()); err != nil {
		t.Error(err)
	}
	if err := NewDraftCleanupJob(nil, time.Hour).Run(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestJobScheduler_RegisterRejectsBadCron(t *testing.T) {
	s, err := NewJobScheduler(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Register("drafts", "not a cron", NewDraftCleanupJob(&fakeDrafts{}, 0)); err == nil {
		t.Error("Expected invalid cron to be rejected")
	}
	if err := s.Register("drafts", "30 3 * * *", NewDraftCleanupJob(&fakeDrafts{}, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("drafts", "30 3 * * *", NewDraftCleanupJob(&fakeDrafts{}, 0)); err == nil {
		t.Error("Expected duplicate name to be rejected")
	}

	status := s.GetStatus()
	if st, ok := status["drafts"]; !ok || st.NextRunTime.IsZero() {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestJobScheduler_OneRunPerMinuteAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rs := services.NewRedisServiceFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	newInstance := func(drafts *fakeDrafts, at time.Time) *JobScheduler {
		s, err := NewJobScheduler(rs)
		if err != nil {
			t.Fatal(err)
		}
		s.now = func() time.Time { return at }
		if err := s.Register("drafts", "30 3 * * *", NewDraftCleanupJob(drafts, 0)); err != nil {
			t.Fatal(err)
		}
		return s
	}

	tick := time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC)
	first, second := &fakeDrafts{}, &fakeDrafts{}

	if err := newInstance(first, tick).RunNow(ctx, "drafts"); err != nil {
		t.Fatal(err)
	}
	if first.calls != 1 {
		t.Fatalf("Expected 1 run, got %d", first.calls)
	}

	// A second instance firing late in the same minute, after the first
	// run has finished, is skipped
	late := newInstance(second, tick.Add(45*time.Second))
	if err := late.RunNow(ctx, "drafts"); err != nil {
		t.Fatal(err)
	}
	if second.calls != 0 {
		t.Errorf("Expected the late tick to be skipped, got %d runs", second.calls)
	}
	lockKey := fmt.Sprintf("job-lock:drafts:%d", tick.Unix()/60)
	if !mr.Exists(lockKey) {
		t.Error("Expected the tick lock to be kept until it expires")
	}

	// The next minute is a new tick
	next := newInstance(second, tick.Add(time.Minute))
	if err := next.RunNow(ctx, "drafts"); err != nil {
		t.Fatal(err)
	}
	if second.calls != 1 {
		t.Errorf("Expected the next tick to run, got %d runs", second.calls)
	}

	mr.FastForward(lockTTL)
	if mr.Exists(lockKey) {
		t.Error("Expected the tick lock to expire")
	}

	if err := next.RunNow(ctx, "missing"); err == nil {
		t.Error("Expected unknown job error")
	}
}
