package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"daybook/internal/models"
)

// ErrMigrationOutOfOrder means the stored counter is not immediately
// before the migration about to run.
var ErrMigrationOutOfOrder = errors.New("migration applied out of order")

// errMigrationAlreadyApplied aborts a transaction that lost a race with a
// concurrent run for the same user.
var errMigrationAlreadyApplied = errors.New("migration already applied")

// MigrationTx is the transactional view of one user's data
type MigrationTx interface {
	// Reads
	MigrationNumber(ctx context.Context, userID string) (int, error)
	LoadUser(ctx context.Context, userID string) (*models.User, error)
	LoadEntries(ctx context.Context, userID string) ([]models.Entry, error)

	// Writes
	SaveUser(ctx context.Context, user *models.User) error
	SaveEntries(ctx context.Context, entries []models.Entry) error
	// RecordMigration stores rec with AppliedAt set to the store's clock
	RecordMigration(ctx context.Context, rec *models.MigrationRecord) error
	SetMigrationNumber(ctx context.Context, userID string, number int) error
}

// MigrationStore persists migration state
type MigrationStore interface {
	CurrentNumber(ctx context.Context, userID string) (int, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx MigrationTx) error) error
}

// MigrationResult reports what a run did
type MigrationResult struct {
	From    int      `json:"from"`
	To      int      `json:"to"`
	Latest  int      `json:"latest"`
	Applied []string `json:"applied"`
}

// MigrationService applies pending data migrations for a user
type MigrationService struct {
	store      MigrationStore
	migrations []Migration
}

// NewMigrationService creates a migration service over the built-in migrations
func NewMigrationService(store MigrationStore) *MigrationService {
	return NewMigrationServiceWith(store, Migrations)
}

// NewMigrationServiceWith creates a migration service over a custom list
func NewMigrationServiceWith(store MigrationStore, migrations []Migration) *MigrationService {
	return &MigrationService{store: store, migrations: migrations}
}

func (s *MigrationService) latest() int {
	if len(s.migrations) == 0 {
		return 0
	}
	return s.migrations[len(s.migrations)-1].Number
}

// Run applies every pending migration for userID in order. A user already
// at the latest number costs one read and no writes. The first failure
// stops the loop; the counter stays at the last successful migration.
func (s *MigrationService) Run(ctx context.Context, userID string) (*MigrationResult, error) {
	current, err := s.store.CurrentNumber(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration number: %w", err)
	}

	result := &MigrationResult{From: current, To: current, Latest: s.latest(), Applied: []string{}}
	if current >= result.Latest {
		return result, nil
	}

	for _, m := range s.migrations {
		if m.Number <= result.To {
			continue
		}

		err := s.store.WithTransaction(ctx, func(txCtx context.Context, tx MigrationTx) error {
			return s.apply(txCtx, tx, userID, m)
		})
		if errors.Is(err, errMigrationAlreadyApplied) {
			result.To = m.Number
			continue
		}
		if err != nil {
			log.Printf("❌ [MIGRATION] %s failed for %s: %v", m.RecordID(), userID, err)
			return result, fmt.Errorf("migration %s: %w", m.RecordID(), err)
		}

		result.To = m.Number
		result.Applied = append(result.Applied, m.RecordID())
		GetMetrics().MigrationsApplied.WithLabelValues(m.Name).Inc()
		log.Printf("✅ [MIGRATION] Applied %s for %s", m.RecordID(), userID)
	}

	return result, nil
}

func (s *MigrationService) apply(ctx context.Context, tx MigrationTx, userID string, m Migration) error {
	// Reads
	n, err := tx.MigrationNumber(ctx, userID)
	if err != nil {
		return err
	}
	if n >= m.Number {
		return errMigrationAlreadyApplied
	}
	if n != m.Number-1 {
		return fmt.Errorf("%w: at %d, next is %d", ErrMigrationOutOfOrder, n, m.Number)
	}
	user, err := tx.LoadUser(ctx, userID)
	if err != nil {
		return err
	}
	entries, err := tx.LoadEntries(ctx, userID)
	if err != nil {
		return err
	}

	changes := m.Transform(user, entries)

	// Writes
	if changes.User != nil {
		if err := tx.SaveUser(ctx, changes.User); err != nil {
			return err
		}
	}
	if len(changes.Entries) > 0 {
		if err := tx.SaveEntries(ctx, changes.Entries); err != nil {
			return err
		}
	}
	id := m.RecordID()
	if err := tx.RecordMigration(ctx, &models.MigrationRecord{
		DocID:    userID + ":" + id,
		ID:       id,
		UserID:   userID,
		Number:   m.Number,
		Metadata: changes.Metadata,
	}); err != nil {
		return err
	}
	return tx.SetMigrationNumber(ctx, userID, m.Number)
}
