package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"daybook/internal/database"
	"daybook/internal/models"
)

var ErrCollectionItemNotFound = errors.New("collection item not found")

// CollectionService stores the user's topics, goals, saved prompts and milestones
type CollectionService struct {
	collection *mongo.Collection
}

// NewCollectionService creates a new collection service
func NewCollectionService(db *database.MongoDB) *CollectionService {
	return &CollectionService{collection: db.Collection(database.CollectionCollections)}
}

// Create validates and stores a new item
func (s *CollectionService) Create(ctx context.Context, userID string, item *models.CollectionItem) (*models.CollectionItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	item.ID = primitive.NewObjectID()
	item.UserID = userID
	item.CreatedAt = now
	item.UpdatedAt = now

	if _, err := s.collection.InsertOne(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to create collection item: %w", err)
	}
	return item, nil
}

// List returns the user's items, optionally of one type, newest first
func (s *CollectionService) List(ctx context.Context, userID, itemType string) ([]models.CollectionItem, error) {
	filter := bson.M{"userId": userID}
	if itemType != "" {
		filter["type"] = itemType
	}

	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list collection items: %w", err)
	}
	defer cursor.Close(ctx)

	items := []models.CollectionItem{}
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode collection items: %w", err)
	}
	return items, nil
}

// Titles returns the titles of the user's items of one type
func (s *CollectionService) Titles(ctx context.Context, userID, itemType string) ([]string, error) {
	items, err := s.List(ctx, userID, itemType)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	return titles, nil
}

// Delete removes one of the user's items
func (s *CollectionService) Delete(ctx context.Context, userID, itemID string) error {
	oid, err := primitive.ObjectIDFromHex(itemID)
	if err != nil {
		return ErrCollectionItemNotFound
	}
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": oid, "userId": userID})
	if err != nil {
		return fmt.Errorf("failed to delete collection item: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrCollectionItemNotFound
	}
	return nil
}
