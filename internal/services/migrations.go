package services

import (
	"daybook/internal/models"
)

// MigrationChanges is the write set a migration produces from what it read.
// Only changed documents are listed.
type MigrationChanges struct {
	User     *models.User
	Entries  []models.Entry
	Metadata map[string]any
}

// Migration is one sequential transform of a user's data. Transform is
// given everything it may read up front and returns the writes, so the
// runner can perform all reads before any writes inside the transaction.
type Migration struct {
	Number    int
	Name      string
	Transform func(user *models.User, entries []models.Entry) MigrationChanges
}

// RecordID is the migration record id for this migration
func (m Migration) RecordID() string {
	return models.MigrationRecordID(m.Number, m.Name)
}

// Migrations is the ordered list of data migrations. Numbers start at 1
// and increase by one; append only.
var Migrations = []Migration{
	{Number: 1, Name: "BackfillEntryDay", Transform: backfillEntryDay},
	{Number: 2, Name: "DefaultUserSettings", Transform: defaultUserSettings},
	{Number: 3, Name: "NormalizeEntryEntities", Transform: normalizeEntryEntities},
	{Number: 4, Name: "AssignReferralCode", Transform: assignReferralCode},
}

// LatestMigrationNumber returns the number of the newest migration
func LatestMigrationNumber() int {
	if len(Migrations) == 0 {
		return 0
	}
	return Migrations[len(Migrations)-1].Number
}

// Entries created before the day key existed only carry a timestamp
func backfillEntryDay(_ *models.User, entries []models.Entry) MigrationChanges {
	var changed []models.Entry
	for _, e := range entries {
		if e.Day != "" {
			continue
		}
		t := e.Date
		if t.IsZero() {
			t = e.CreatedAt
		}
		e.Day = models.DayKey(t)
		changed = append(changed, e)
	}
	return MigrationChanges{
		Entries:  changed,
		Metadata: map[string]any{"entriesUpdated": len(changed)},
	}
}

func defaultUserSettings(user *models.User, _ []models.Entry) MigrationChanges {
	if user == nil {
		return MigrationChanges{}
	}
	u := *user
	changed := false
	if u.Settings.Locale == "" {
		u.Settings.Locale = "en-US"
		changed = true
	}
	if !models.IsValidJournalMode(u.Settings.JournalMode) {
		u.Settings.JournalMode = models.JournalModeGuided
		changed = true
	}
	if !changed {
		return MigrationChanges{}
	}
	return MigrationChanges{User: &u, Metadata: map[string]any{"settingsDefaulted": true}}
}

// Finalized entries always carry all four entity categories
func normalizeEntryEntities(_ *models.User, entries []models.Entry) MigrationChanges {
	var changed []models.Entry
	for _, e := range entries {
		if e.Draft {
			continue
		}
		ent := e.Entities
		if ent != nil && ent.Emotions != nil && ent.People != nil && ent.Places != nil && ent.Topics != nil {
			continue
		}
		if ent == nil {
			e.Entities = models.EmptyEntities()
		} else {
			cp := *ent
			e.Entities = cp.Normalize()
		}
		changed = append(changed, e)
	}
	return MigrationChanges{
		Entries:  changed,
		Metadata: map[string]any{"entriesUpdated": len(changed)},
	}
}

func assignReferralCode(user *models.User, _ []models.Entry) MigrationChanges {
	if user == nil || user.ReferralCode != "" {
		return MigrationChanges{}
	}
	u := *user
	u.ReferralCode = NewReferralCode()
	return MigrationChanges{User: &u}
}
