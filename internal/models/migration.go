package models

import (
	"fmt"
	"time"
)

// MigrationRecord marks a schema transform as applied to one user's data
type MigrationRecord struct {
	DocID     string         `bson:"_id" json:"-"`
	ID        string         `bson:"id" json:"id"`
	UserID    string         `bson:"userId" json:"user_id"`
	Number    int            `bson:"number" json:"number"`
	AppliedAt time.Time      `bson:"appliedAt" json:"applied_at"`
	Metadata  map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// MigrationRecordID builds the record id "<number>_<name>"
func MigrationRecordID(number int, name string) string {
	return fmt.Sprintf("%d_%s", number, name)
}
