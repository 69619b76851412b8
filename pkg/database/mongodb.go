// ==============================================
// pkg/database/mongodb.go
// ==============================================
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"socialchat/internal/config"
	"socialchat/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names
const (
	CollectionConversations = "conversations"
	CollectionMessages      = "messages"
)

var (
	client   *mongo.Client
	database *mongo.Database
	once     sync.Once
	initErr  error
)

// InitMongoDB initializes the shared MongoDB connection
func InitMongoDB(cfg config.MongoConfig) (*mongo.Database, error) {
	once.Do(func() {
		initErr = connectToMongoDB(cfg)
	})
	return database, initErr
}

// connectToMongoDB establishes connection to MongoDB
func connectToMongoDB(cfg config.MongoConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxConnIdleTime(cfg.MaxConnIdleTime).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetHeartbeatInterval(cfg.HeartbeatInterval).
		SetRetryWrites(true).
		SetRetryReads(true)

	var err error
	client, err = mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database = client.Database(cfg.Database)
	logger.WithField("database", cfg.Database).Info("Connected to MongoDB")

	go func() {
		if err := CreateIndexes(context.Background(), database); err != nil {
			logger.WithError(err).Warn("Failed to create indexes")
		}
	}()

	return nil
}

// GetDatabase returns the database instance
func GetDatabase() *mongo.Database {
	if database == nil {
		logger.Fatal("Database not initialized. Call InitMongoDB first.")
	}
	return database
}

// Disconnect closes MongoDB connection
func Disconnect(ctx context.Context) error {
	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// HealthCheck pings the primary
func HealthCheck(ctx context.Context) map[string]interface{} {
	if database == nil {
		return map[string]interface{}{
			"status": "disconnected",
			"error":  "database not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	return map[string]interface{}{
		"status":   "connected",
		"database": database.Name(),
	}
}

// Ping reports whether the primary answers
func Ping(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("database not initialized")
	}
	return client.Ping(ctx, readpref.Primary())
}

// CreateIndexes creates the indexes the chat store queries rely on
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []struct {
		collection string
		indexes    []mongo.IndexModel
	}{
		{
			collection: CollectionConversations,
			indexes: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: "participants.user._id", Value: 1}},
				},
				{
					Keys: bson.D{{Key: "last_activity", Value: -1}},
				},
			},
		},
		{
			collection: CollectionMessages,
			indexes: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: "conversation_id", Value: 1},
						{Key: "created_at", Value: 1},
					},
				},
				{
					Keys: bson.D{{Key: "read_by.reader._id", Value: 1}},
				},
			},
		},
	}

	for _, group := range indexes {
		names, err := db.Collection(group.collection).Indexes().CreateMany(ctx, group.indexes)
		if err != nil {
			return fmt.Errorf("create indexes for %s: %w", group.collection, err)
		}
		logger.WithFields(map[string]interface{}{
			"collection": group.collection,
			"indexes":    len(names),
		}).Debug("Indexes ensured")
	}
	return nil
}
