package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Entry is one journaling session: an ordered list of prompt/response pairs,
// finalized with a generated summary and extracted entities.
type Entry struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID     string             `bson:"userId" json:"user_id"`
	TemplateID string             `bson:"templateId" json:"template_id"`
	Day        string             `bson:"day" json:"day"` // YYYY-MM-DD in the user's calendar
	Date       time.Time          `bson:"date" json:"date"`
	Draft      bool               `bson:"draft" json:"draft"`

	Responses []ComposeResponse `bson:"responses" json:"responses"`

	Summary  *EntrySummary  `bson:"summary,omitempty" json:"summary,omitempty"`
	Entities *EntryEntities `bson:"entities,omitempty" json:"entities,omitempty"`

	CreatedAt   time.Time  `bson:"createdAt" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updatedAt" json:"updated_at"`
	FinalizedAt *time.Time `bson:"finalizedAt,omitempty" json:"finalized_at,omitempty"`
}

// ComposeResponse is one answer within an entry, tied to a prompt id
type ComposeResponse struct {
	PromptID  string    `bson:"promptId" json:"prompt_id"`
	Question  string    `bson:"question" json:"question"`
	Response  []string  `bson:"response" json:"response"`
	Encrypted bool      `bson:"encrypted,omitempty" json:"-"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// Text joins the literal response texts
func (r ComposeResponse) Text() string {
	return strings.TrimSpace(strings.Join(r.Response, "\n"))
}

// EntrySummary is the generated title + content attached on finalize
type EntrySummary struct {
	Title   string `bson:"title" json:"title"`
	Content string `bson:"content" json:"content"`
}

// EntryEntities are the entities extracted from an entry
type EntryEntities struct {
	Emotions []string `bson:"emotions" json:"emotions"`
	People   []string `bson:"people" json:"people"`
	Places   []string `bson:"places" json:"places"`
	Topics   []string `bson:"topics" json:"topics"`
}

// EmptyEntities returns entities with every category present and empty
func EmptyEntities() *EntryEntities {
	return &EntryEntities{
		Emotions: []string{},
		People:   []string{},
		Places:   []string{},
		Topics:   []string{},
	}
}

// Normalize replaces nil categories with empty slices
func (e *EntryEntities) Normalize() *EntryEntities {
	if e == nil {
		return EmptyEntities()
	}
	if e.Emotions == nil {
		e.Emotions = []string{}
	}
	if e.People == nil {
		e.People = []string{}
	}
	if e.Places == nil {
		e.Places = []string{}
	}
	if e.Topics == nil {
		e.Topics = []string{}
	}
	return e
}

// DayKey formats a time as the entry day key
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
