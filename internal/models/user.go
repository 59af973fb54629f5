package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Journal modes
const (
	JournalModeGuided   = "guided"
	JournalModeFreeform = "freeform"
	JournalModeVoice    = "voice"
)

// User is the account/profile document. Every other user-owned document
// (entries, collection items, migration records) hangs off UserID.
type User struct {
	ID     primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID string             `bson:"userId" json:"user_id"` // Auth subject
	Email  string             `bson:"email,omitempty" json:"email,omitempty"`

	Settings UserSettings `bson:"settings" json:"settings"`

	// Cached projection of the provider subscription
	Subscription   *Subscription `bson:"subscription,omitempty" json:"subscription,omitempty"`
	DodoCustomerID string        `bson:"dodoCustomerId,omitempty" json:"-"`

	OnboardingAnswers map[string]string `bson:"onboardingAnswers,omitempty" json:"onboarding_answers,omitempty"`
	OnboardedAt       *time.Time        `bson:"onboardedAt,omitempty" json:"onboarded_at,omitempty"`
	FeatureFlags      map[string]bool   `bson:"featureFlags,omitempty" json:"feature_flags,omitempty"`
	NotificationIDs   []string          `bson:"notificationIds,omitempty" json:"notification_ids,omitempty"`

	// Referrals
	ReferralCode  string `bson:"referralCode,omitempty" json:"referral_code,omitempty"`
	ReferredBy    string `bson:"referredBy,omitempty" json:"referred_by,omitempty"`
	ReferralCount int    `bson:"referralCount" json:"referral_count"`

	// Highest migration number applied to this user's data
	MigrationNumber int `bson:"migrationNumber" json:"migration_number"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// UserSettings holds user-specific settings
type UserSettings struct {
	Locale      string `bson:"locale,omitempty" json:"locale,omitempty"`
	JournalMode string `bson:"journalMode,omitempty" json:"journal_mode,omitempty"`

	// nil means "never chosen"; only an explicit false opts out
	AdvancedModelEnabled *bool `bson:"advancedModelEnabled,omitempty" json:"advanced_model_enabled,omitempty"`

	SupportStyle string `bson:"supportStyle,omitempty" json:"support_style,omitempty"` // e.g. "coach", "friend", "therapist"
	Tone         string `bson:"tone,omitempty" json:"tone,omitempty"`
}

// UpdateSettingsRequest is the request body for updating settings
type UpdateSettingsRequest struct {
	Locale               *string `json:"locale,omitempty"`
	JournalMode          *string `json:"journal_mode,omitempty"`
	AdvancedModelEnabled *bool   `json:"advanced_model_enabled,omitempty"`
	SupportStyle         *string `json:"support_style,omitempty"`
	Tone                 *string `json:"tone,omitempty"`
}

// IsPremium reports whether the cached subscription grants premium features
func (u *User) IsPremium() bool {
	if u == nil {
		return false
	}
	return u.Subscription.IsActive()
}

// LocaleOrDefault returns the user's locale, defaulting to en-US
func (u *User) LocaleOrDefault() string {
	if u == nil || u.Settings.Locale == "" {
		return "en-US"
	}
	return u.Settings.Locale
}

// IsValidJournalMode checks a journal mode value
func IsValidJournalMode(mode string) bool {
	switch mode {
	case JournalModeGuided, JournalModeFreeform, JournalModeVoice:
		return true
	}
	return false
}
