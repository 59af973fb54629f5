package jobs

import (
	"context"
	"log"
	"time"
)

// DraftRemover deletes abandoned compose sessions
type DraftRemover interface {
	DeleteStaleDrafts(ctx context.Context, cutoff time.Time) (int64, error)
}

// DraftCleanupJob deletes draft entries untouched for longer than maxAge
type DraftCleanupJob struct {
	entries DraftRemover
	maxAge  time.Duration
	now     func() time.Time
}

// NewDraftCleanupJob creates a new draft cleanup job (default max age 30 days)
func NewDraftCleanupJob(entries DraftRemover, maxAge time.Duration) *DraftCleanupJob {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &DraftCleanupJob{entries: entries, maxAge: maxAge, now: time.Now}
}

// Run deletes stale drafts
func (j *DraftCleanupJob) Run(ctx context.Context) error {
	if j.entries == nil {
		log.Println("⚠️  [DRAFT-CLEANUP] Disabled (requires MongoDB)")
		return nil
	}

	cutoff := j.now().UTC().Add(-j.maxAge)
	deleted, err := j.entries.DeleteStaleDrafts(ctx, cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		log.Printf("🧹 [DRAFT-CLEANUP] Deleted %d drafts last updated before %s", deleted, cutoff.Format(time.RFC3339))
	}
	return nil
}
