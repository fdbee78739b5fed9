package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type cartDocument struct {
	SessionID string    `bson:"_id"`
	Items     string    `bson:"items"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection("carts"),
	}
}

func (m *MongoStore) Load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	lines, err := decodeLines([]byte(doc.Items))
	if err != nil {
		return nil, err
	}
	return &domain.Cart{SessionID: sessionID, Lines: lines, Version: doc.Version}, nil
}

func (m *MongoStore) Save(ctx context.Context, cart *domain.Cart) error {
	data, err := encodeLines(cart.Lines)
	if err != nil {
		return err
	}
	next := cart.Version + 1
	now := time.Now()

	if cart.Version == 0 {
		_, err = m.collection.InsertOne(ctx, cartDocument{
			SessionID: cart.SessionID,
			Items:     string(data),
			Version:   next,
			UpdatedAt: now,
		})
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("failed to create cart: %w", err)
		}
		cart.Version = next
		return nil
	}

	filter := bson.M{"_id": cart.SessionID, "version": cart.Version}
	update := bson.M{
		"$set": bson.M{
			"items":      string(data),
			"version":    next,
			"updated_at": now,
		},
	}
	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	cart.Version = next
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.collection.Database().Client().Disconnect(ctx)
}

// CreateIndexes expires carts untouched for 90 days.
func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
