// Command migrate creates the MongoDB indexes and, with -seed, a demo
// private conversation plus bearer tokens for its two users.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/models"
	"socialchat/internal/storage"
	"socialchat/internal/storage/mongostore"
	"socialchat/internal/utils"
	"socialchat/pkg/database"
	"socialchat/pkg/logger"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func main() {
	seed := flag.Bool("seed", false, "create a demo conversation and print tokens")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	logger.Init()

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := database.InitMongoDB(cfg.Database.MongoDB)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer database.Disconnect(context.Background())

	fmt.Printf("database: %v\n", database.HealthCheck(ctx))

	if err := database.CreateIndexes(ctx, db); err != nil {
		log.Fatalf("indexes: %v", err)
	}
	fmt.Println("indexes created")

	if !*seed {
		return
	}

	users := []models.UserRef{
		{ID: primitive.NewObjectID().Hex(), Name: "Alice"},
		{ID: primitive.NewObjectID().Hex(), Name: "Bob"},
	}
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:   primitive.NewObjectID().Hex(),
		Type: models.ConversationPrivate,
		Participants: []models.Participant{
			{User: users[0], Role: "member"},
			{User: users[1], Role: "member"},
		},
		LastActivity: now,
		CreatedAt:    now,
	}

	store := mongostore.NewStore(db)
	if err := store.CreateConversation(ctx, conv); err != nil && !errors.Is(err, storage.ErrDuplicate) {
		log.Fatalf("seed conversation: %v", err)
	}
	fmt.Printf("conversation: %s\n", conv.ID)

	for _, u := range users {
		token, err := utils.GenerateUserJWT(cfg.Security.JWT, u.ID, u.Name, *tokenTTL)
		if err != nil {
			log.Fatalf("token: %v", err)
		}
		fmt.Printf("%s (%s): %s\n", u.Name, u.ID, token)
	}
}
