// Package mongostore is the MongoDB backed Store
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"socialchat/internal/models"
	"socialchat/internal/storage"
	"socialchat/pkg/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	db            *mongo.Database
	conversations *mongo.Collection
	messages      *mongo.Collection
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *mongo.Database) *Store {
	return &Store{
		db:            db,
		conversations: db.Collection(database.CollectionConversations),
		messages:      db.Collection(database.CollectionMessages),
	}
}

func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	_, err := s.conversations.InsertOne(ctx, conv)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	filter := bson.M{
		"participants": bson.M{"$elemMatch": bson.M{
			"user._id": userID,
			"left_at":  bson.M{"$exists": false},
		}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_activity", Value: -1}, {Key: "_id", Value: 1}})

	cursor, err := s.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	convs := make([]models.Conversation, 0)
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return convs, nil
}

func (s *Store) TouchConversation(ctx context.Context, id string, last *models.MessageSummary, at time.Time) error {
	set := bson.M{"last_activity": at}
	if last != nil {
		set["last_message"] = last
	}
	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) error {
	doc := *msg
	if doc.Reactions == nil {
		doc.Reactions = []models.Reaction{}
	}
	if doc.ReadBy == nil {
		doc.ReadBy = []models.ReadReceipt{}
	}
	_, err := s.messages.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	// newest first so the limit keeps the tail, reversed below
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cursor.Close(ctx)

	msgs := make([]models.Message, 0)
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg *models.Message) error {
	res, err := s.messages.ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID string, reader models.UserRef, at time.Time) ([]string, error) {
	filter := bson.M{
		"conversation_id":    conversationID,
		"sender._id":         bson.M{"$ne": reader.ID},
		"read_by.reader._id": bson.M{"$ne": reader.ID},
	}

	cursor, err := s.messages.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find unread: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode unread: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	receipt := models.ReadReceipt{Reader: reader, ReadAt: at}
	_, err = s.messages.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "read_by.reader._id": bson.M{"$ne": reader.ID}},
		bson.M{"$push": bson.M{"read_by": receipt}})
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return ids, nil
}

func (s *Store) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{
		"conversation_id":    conversationID,
		"sender._id":         bson.M{"$ne": userID},
		"read_by.reader._id": bson.M{"$ne": userID},
	})
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return int(n), nil
}

func (s *Store) Close(ctx context.Context) error {
	return database.Disconnect(ctx)
}
