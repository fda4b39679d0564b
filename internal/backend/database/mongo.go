package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	colorizationsCollection = "colorizations"
	usersCollection         = "users"

	mongoDisconnectTimeout = 10 * time.Second
)

type MongoDatabase struct {
	client        *mongo.Client
	colorizations *mongo.Collection
	users         *mongo.Collection
}

// NewMongoDatabase connects lazily; the first operation dials the server.
func NewMongoDatabase(connectionString, databaseName string) (DatabaseService, error) {
	if databaseName == "" {
		return nil, fmt.Errorf("mongo database name is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	db := client.Database(databaseName)
	return &MongoDatabase{
		client:        client,
		colorizations: db.Collection(colorizationsCollection),
		users:         db.Collection(usersCollection),
	}, nil
}

func (m *MongoDatabase) CreateDatabase(ctx context.Context) error {
	_, err := m.colorizations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create colorization indexes: %w", err)
	}
	_, err = m.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create user index: %w", err)
	}
	return nil
}

func (m *MongoDatabase) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoDatabase) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDatabase) CreateColorization(ctx context.Context, colorization *Colorization) error {
	_, err := m.colorizations.InsertOne(ctx, colorization)
	return err
}

func (m *MongoDatabase) GetColorizationsByUser(ctx context.Context, userID string, limit int) ([]*Colorization, error) {
	colorizations := make([]*Colorization, 0)
	if limit <= 0 {
		return colorizations, nil
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := m.colorizations.Find(ctx, bson.D{{Key: "user_id", Value: userID}}, findOptions)
	if err != nil {
		return nil, err
	}
	if err := cursor.All(ctx, &colorizations); err != nil {
		return nil, err
	}
	return colorizations, nil
}

func (m *MongoDatabase) DeleteColorization(ctx context.Context, id string) error {
	result, err := m.colorizations.DeleteOne(ctx, bson.D{{Key: "id", Value: id}})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("colorization %s: %w", id, ErrNotFound)
	}
	return nil
}

func (m *MongoDatabase) IncrementUserCount(ctx context.Context, userID string) error {
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "colorization_count", Value: 1}}},
		{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: time.Now().UTC()}}},
	}
	_, err := m.users.UpdateOne(ctx, bson.D{{Key: "id", Value: userID}}, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (m *MongoDatabase) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var profile UserProfile
	err := m.users.FindOne(ctx, bson.D{{Key: "id", Value: userID}}).Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}
