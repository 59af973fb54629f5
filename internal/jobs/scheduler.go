package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"daybook/internal/services"
)

// Job interface that all scheduled jobs must implement
type Job interface {
	Run(ctx context.Context) error
}

// Locker serializes job runs across server instances
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, expiration time.Duration) (bool, error)
}

const (
	jobTimeout = 10 * time.Minute
	// Tick locks are never released; they outlive the tick and expire
	lockTTL = 15 * time.Minute
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron checks a five-field cron expression
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

type registeredJob struct {
	name     string
	cronExpr string
	schedule cron.Schedule
	job      Job
}

// JobScheduler runs registered jobs on cron schedules. With a Locker, only
// one instance runs a given job per schedule tick.
type JobScheduler struct {
	scheduler  gocron.Scheduler
	locker     Locker
	instanceID string

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	running bool

	now func() time.Time
}

// NewJobScheduler creates a new job scheduler. locker may be nil.
func NewJobScheduler(locker Locker) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &JobScheduler{
		scheduler:  scheduler,
		locker:     locker,
		instanceID: uuid.New().String(),
		jobs:       make(map[string]*registeredJob),
		now:        time.Now,
	}, nil
}

// Register adds a job under a cron expression
func (s *JobScheduler) Register(name, cronExpr string, job Job) error {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("job %s: invalid cron expression %q: %w", name, cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	rj := &registeredJob{name: name, cronExpr: cronExpr, schedule: schedule, job: job}
	if _, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(func() {
			_ = s.runJob(context.Background(), rj)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to create job %s: %w", name, err)
	}

	s.jobs[name] = rj
	log.Printf("✅ [SCHEDULER] Registered job: %s (cron: %s)", name, cronExpr)
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Started job scheduler with %d jobs", len(s.jobs))
}

// Stop waits for running jobs and stops the scheduler
func (s *JobScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.running = false
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	log.Println("✅ [SCHEDULER] Job scheduler stopped")
	return nil
}

// RunNow immediately runs a specific job
func (s *JobScheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	rj, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return s.runJob(ctx, rj)
}

// runJob runs one tick of a job under the cross-instance lock
func (s *JobScheduler) runJob(ctx context.Context, rj *registeredJob) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	if s.locker != nil {
		// One run per job per minute across all instances. The lock is left
		// to expire so an instance whose tick fires late in the same minute
		// still sees it.
		lockKey := fmt.Sprintf("job-lock:%s:%d", rj.name, s.now().Unix()/60)

		acquired, err := s.locker.AcquireLock(ctx, lockKey, s.instanceID, lockTTL)
		if err != nil {
			log.Printf("❌ [SCHEDULER] Failed to acquire lock for %s: %v", rj.name, err)
			return err
		}
		if !acquired {
			log.Printf("⏭️  [SCHEDULER] Job '%s' already ran this minute on another instance", rj.name)
			return nil
		}
	}

	log.Printf("▶️  [SCHEDULER] Running job: %s", rj.name)
	start := time.Now()

	err := rj.job.Run(ctx)
	services.GetMetrics().RecordJobRun(rj.name, err)
	if err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", rj.name, err)
		return err
	}

	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", rj.name, time.Since(start))
	return nil
}

// GetStatus returns the status of all jobs
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	status := make(map[string]JobStatus, len(s.jobs))
	for name, rj := range s.jobs {
		status[name] = JobStatus{
			Name:        name,
			Cron:        rj.cronExpr,
			NextRunTime: rj.schedule.Next(now),
		}
	}
	return status
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	Cron        string    `json:"cron"`
	NextRunTime time.Time `json:"next_run_time"`
}
