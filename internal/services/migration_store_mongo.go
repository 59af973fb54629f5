package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"daybook/internal/database"
	"daybook/internal/models"
)

// MongoMigrationStore keeps migration state in the users, entries and
// migrations collections.
type MongoMigrationStore struct {
	db *database.MongoDB
}

// NewMongoMigrationStore creates a Mongo-backed migration store
func NewMongoMigrationStore(db *database.MongoDB) *MongoMigrationStore {
	return &MongoMigrationStore{db: db}
}

// CurrentNumber reads the user's migration number outside a transaction
func (s *MongoMigrationStore) CurrentNumber(ctx context.Context, userID string) (int, error) {
	return readMigrationNumber(ctx, s.db, userID)
}

// WithTransaction runs fn inside a multi-document transaction
func (s *MongoMigrationStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx MigrationTx) error) error {
	return s.db.WithTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		return fn(sessCtx, &mongoMigrationTx{db: s.db})
	})
}

func readMigrationNumber(ctx context.Context, db *database.MongoDB, userID string) (int, error) {
	var doc struct {
		MigrationNumber int `bson:"migrationNumber"`
	}
	err := db.Collection(database.CollectionUsers).FindOne(ctx,
		bson.M{"userId": userID},
		options.FindOne().SetProjection(bson.M{"migrationNumber": 1}),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return doc.MigrationNumber, nil
}

type mongoMigrationTx struct {
	db *database.MongoDB
}

func (t *mongoMigrationTx) MigrationNumber(ctx context.Context, userID string) (int, error) {
	return readMigrationNumber(ctx, t.db, userID)
}

func (t *mongoMigrationTx) LoadUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := t.db.Collection(database.CollectionUsers).FindOne(ctx, bson.M{"userId": userID}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

func (t *mongoMigrationTx) LoadEntries(ctx context.Context, userID string) ([]models.Entry, error) {
	cursor, err := t.db.Collection(database.CollectionEntries).Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}
	return entries, nil
}

func (t *mongoMigrationTx) SaveUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	_, err := t.db.Collection(database.CollectionUsers).ReplaceOne(ctx, bson.M{"userId": user.UserID}, user)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (t *mongoMigrationTx) SaveEntries(ctx context.Context, entries []models.Entry) error {
	coll := t.db.Collection(database.CollectionEntries)
	for i := range entries {
		if _, err := coll.ReplaceOne(ctx, bson.M{"_id": entries[i].ID}, entries[i]); err != nil {
			return fmt.Errorf("failed to save entry %s: %w", entries[i].ID.Hex(), err)
		}
	}
	return nil
}

// RecordMigration inserts rec once. appliedAt is stamped by the server.
func (t *mongoMigrationTx) RecordMigration(ctx context.Context, rec *models.MigrationRecord) error {
	filter, update := migrationRecordUpsert(rec)
	res, err := t.db.Collection(database.CollectionMigrations).UpdateOne(ctx, filter, update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	if res.UpsertedCount == 0 {
		return fmt.Errorf("migration %s already recorded for %s", rec.ID, rec.UserID)
	}
	return nil
}

func migrationRecordUpsert(rec *models.MigrationRecord) (bson.M, bson.M) {
	fields := bson.M{
		"id":     rec.ID,
		"userId": rec.UserID,
		"number": rec.Number,
	}
	if len(rec.Metadata) > 0 {
		fields["metadata"] = rec.Metadata
	}
	return bson.M{"_id": rec.DocID}, bson.M{
		"$setOnInsert": fields,
		"$currentDate": bson.M{"appliedAt": true},
	}
}

func (t *mongoMigrationTx) SetMigrationNumber(ctx context.Context, userID string, number int) error {
	_, err := t.db.Collection(database.CollectionUsers).UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"migrationNumber": number}},
	)
	if err != nil {
		return fmt.Errorf("failed to advance migration number: %w", err)
	}
	return nil
}
