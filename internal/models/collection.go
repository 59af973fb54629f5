package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Collection item types. The type discriminates the metadata shape.
const (
	CollectionTypeTopic     = "topic"
	CollectionTypeGoal      = "goal"
	CollectionTypePrompt    = "prompt"
	CollectionTypeMilestone = "milestone"
)

// CollectionItem is a generic tagged content item scoped to a user
type CollectionItem struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    string             `bson:"userId" json:"user_id"`
	Type      string             `bson:"type" json:"type"`
	Title     string             `bson:"title" json:"title"`
	Metadata  map[string]any     `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updated_at"`
}

// TopicMetadata is the metadata shape of a topic item
type TopicMetadata struct {
	Color      string `json:"color,omitempty"`
	EntryCount int    `json:"entryCount,omitempty"`
}

// GoalMetadata is the metadata shape of a goal item
type GoalMetadata struct {
	TargetDate string  `json:"targetDate,omitempty"`
	Progress   float64 `json:"progress,omitempty"`
	Completed  bool    `json:"completed,omitempty"`
}

// PromptMetadata is the metadata shape of a saved prompt item
type PromptMetadata struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"` // "user" or "ai"
}

// MilestoneMetadata is the metadata shape of a milestone item
type MilestoneMetadata struct {
	AchievedAt  string `json:"achievedAt,omitempty"`
	Description string `json:"description,omitempty"`
}

// ErrInvalidCollectionItem wraps every validation failure
var ErrInvalidCollectionItem = errors.New("invalid collection item")

// Validate checks that Type is known and Metadata fits the shape for Type
func (c *CollectionItem) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCollectionItem, err)
	}
	return nil
}

func (c *CollectionItem) validate() error {
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}

	var target any
	switch c.Type {
	case CollectionTypeTopic:
		target = &TopicMetadata{}
	case CollectionTypeGoal:
		target = &GoalMetadata{}
	case CollectionTypePrompt:
		target = &PromptMetadata{}
	case CollectionTypeMilestone:
		target = &MilestoneMetadata{}
	default:
		return fmt.Errorf("unknown collection type %q", c.Type)
	}

	if len(c.Metadata) == 0 {
		if c.Type == CollectionTypePrompt {
			return fmt.Errorf("prompt items require metadata.text")
		}
		return nil
	}

	raw, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("metadata does not match %s shape: %w", c.Type, err)
	}

	if p, ok := target.(*PromptMetadata); ok && p.Text == "" {
		return fmt.Errorf("prompt items require metadata.text")
	}
	if g, ok := target.(*GoalMetadata); ok && (g.Progress < 0 || g.Progress > 1) {
		return fmt.Errorf("goal progress must be between 0 and 1")
	}
	return nil
}
