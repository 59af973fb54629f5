package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"daybook/internal/crypto"
	"daybook/internal/database"
	"daybook/internal/models"
	"daybook/internal/templates"
)

var (
	ErrEntryNotFound  = errors.New("entry not found")
	ErrEntryFinalized = errors.New("entry is already finalized")
	ErrCannotFinish   = errors.New("entry does not have enough responses to finish")
	ErrUnknownPrompt  = errors.New("prompt does not belong to the entry's template")
	ErrEmptyResponse  = errors.New("response text is required")
)

// AppendResponseRequest is one answer submitted during a compose session
type AppendResponseRequest struct {
	PromptID string   `json:"prompt_id"`
	Question string   `json:"question,omitempty"` // dynamic templates only
	Response []string `json:"response"`
}

// ListEntriesOptions filters entry listings. Days are YYYY-MM-DD, inclusive.
type ListEntriesOptions struct {
	FromDay       string
	ToDay         string
	IncludeDrafts bool
	Limit         int64
}

// EntryService manages journal entries and their compose sessions.
// Response text is sealed at rest when a sealer is configured.
type EntryService struct {
	collection *mongo.Collection
	templates  *templates.Registry
	sealer     *crypto.JournalSealer
}

// NewEntryService creates a new entry service. sealer may be nil.
func NewEntryService(db *database.MongoDB, registry *templates.Registry, sealer *crypto.JournalSealer) *EntryService {
	return &EntryService{
		collection: db.Collection(database.CollectionEntries),
		templates:  registry,
		sealer:     sealer,
	}
}

// Create starts a compose session as a draft entry
func (s *EntryService) Create(ctx context.Context, userID, templateID string, date time.Time) (*models.Entry, error) {
	if templateID == "" {
		templateID = templates.DefaultTemplateID
	}
	if _, err := s.templates.Get(templateID); err != nil {
		return nil, err
	}
	if date.IsZero() {
		date = time.Now()
	}

	now := time.Now()
	entry := &models.Entry{
		ID:         primitive.NewObjectID(),
		UserID:     userID,
		TemplateID: templateID,
		Day:        models.DayKey(date),
		Date:       date,
		Draft:      true,
		Responses:  []models.ComposeResponse{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if _, err := s.collection.InsertOne(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}
	log.Printf("📓 [ENTRY] Started %s session %s for %s", templateID, entry.ID.Hex(), userID)
	return entry, nil
}

// AppendResponse adds an answer to a draft entry. Fixed templates only
// accept their own prompt ids and supply the question text themselves.
func (s *EntryService) AppendResponse(ctx context.Context, userID, entryID string, req AppendResponseRequest) (*models.Entry, error) {
	texts := make([]string, 0, len(req.Response))
	for _, t := range req.Response {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return nil, ErrEmptyResponse
	}

	entry, err := s.Get(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	if !entry.Draft {
		return nil, ErrEntryFinalized
	}

	tmpl, err := s.templates.Get(entry.TemplateID)
	if err != nil {
		return nil, err
	}

	question := req.Question
	if p, ok := tmpl.Prompt(req.PromptID); ok {
		question = p.Text
	} else if !tmpl.Dynamic {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrompt, req.PromptID)
	}

	resp := models.ComposeResponse{
		PromptID:  req.PromptID,
		Question:  question,
		Response:  texts,
		CreatedAt: time.Now(),
	}
	stored, err := s.seal(userID, resp)
	if err != nil {
		return nil, err
	}

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": entry.ID, "userId": userID, "draft": true},
		bson.M{
			"$push": bson.M{"responses": stored},
			"$set":  bson.M{"updatedAt": resp.CreatedAt},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append response: %w", err)
	}
	// Finalized (or deleted) since it was read
	if res.MatchedCount == 0 {
		return nil, ErrEntryFinalized
	}

	entry.Responses = append(entry.Responses, resp)
	entry.UpdatedAt = resp.CreatedAt
	return entry, nil
}

// CheckFinishable returns the entry and template if the session may finish
func (s *EntryService) CheckFinishable(ctx context.Context, userID, entryID string) (*models.Entry, *models.ComposeTemplate, error) {
	entry, err := s.Get(ctx, userID, entryID)
	if err != nil {
		return nil, nil, err
	}
	if !entry.Draft {
		return nil, nil, ErrEntryFinalized
	}
	tmpl, err := s.templates.Get(entry.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	if !tmpl.CanFinish(len(entry.Responses)) {
		return nil, nil, ErrCannotFinish
	}
	return entry, tmpl, nil
}

// Finalize attaches the generated summary and entities and clears the draft flag
func (s *EntryService) Finalize(ctx context.Context, userID, entryID string, summary *models.EntrySummary, entities *models.EntryEntities) (*models.Entry, error) {
	oid, err := primitive.ObjectIDFromHex(entryID)
	if err != nil {
		return nil, ErrEntryNotFound
	}

	now := time.Now()
	var entry models.Entry
	err = s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": oid, "userId": userID, "draft": true},
		bson.M{"$set": bson.M{
			"draft":       false,
			"summary":     summary,
			"entities":    entities.Normalize(),
			"finalizedAt": now,
			"updatedAt":   now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, ErrEntryFinalized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize entry: %w", err)
	}

	if err := s.open(&entry); err != nil {
		return nil, err
	}
	log.Printf("✅ [ENTRY] Finalized %s for %s (%d responses)", entryID, userID, len(entry.Responses))
	return &entry, nil
}

// Get returns one of the user's entries with response text opened
func (s *EntryService) Get(ctx context.Context, userID, entryID string) (*models.Entry, error) {
	oid, err := primitive.ObjectIDFromHex(entryID)
	if err != nil {
		return nil, ErrEntryNotFound
	}

	var entry models.Entry
	err = s.collection.FindOne(ctx, bson.M{"_id": oid, "userId": userID}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	if err := s.open(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns the user's entries newest first
func (s *EntryService) List(ctx context.Context, userID string, opts ListEntriesOptions) ([]models.Entry, error) {
	filter := bson.M{"userId": userID}
	if !opts.IncludeDrafts {
		filter["draft"] = false
	}
	dayRange := bson.M{}
	if opts.FromDay != "" {
		dayRange["$gte"] = opts.FromDay
	}
	if opts.ToDay != "" {
		dayRange["$lte"] = opts.ToDay
	}
	if len(dayRange) > 0 {
		filter["day"] = dayRange
	}

	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []models.Entry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}
	for i := range entries {
		if err := s.open(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// Delete removes one of the user's entries
func (s *EntryService) Delete(ctx context.Context, userID, entryID string) error {
	oid, err := primitive.ObjectIDFromHex(entryID)
	if err != nil {
		return ErrEntryNotFound
	}
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid, "userId": userID})
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeleteStaleDrafts removes abandoned compose sessions last touched before cutoff
func (s *EntryService) DeleteStaleDrafts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{
		"draft":     true,
		"updatedAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale drafts: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *EntryService) seal(userID string, resp models.ComposeResponse) (models.ComposeResponse, error) {
	if s.sealer == nil {
		return resp, nil
	}
	sealed, err := s.sealer.SealAll(userID, resp.Response)
	if err != nil {
		return resp, fmt.Errorf("failed to encrypt response: %w", err)
	}
	resp.Response = sealed
	resp.Encrypted = true
	return resp, nil
}

func (s *EntryService) open(entry *models.Entry) error {
	for i := range entry.Responses {
		r := &entry.Responses[i]
		if !r.Encrypted {
			continue
		}
		if s.sealer == nil {
			return fmt.Errorf("entry %s is encrypted but no master key is configured", entry.ID.Hex())
		}
		opened, err := s.sealer.OpenAll(entry.UserID, r.Response)
		if err != nil {
			return fmt.Errorf("failed to decrypt entry %s: %w", entry.ID.Hex(), err)
		}
		r.Response = opened
		r.Encrypted = false
	}
	return nil
}
