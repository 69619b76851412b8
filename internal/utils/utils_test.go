package utils

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"socialchat/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testJWT = config.JWTConfig{Secret: "test-secret", Issuer: "socialchat", Audience: "socialchat-app"}

func TestUserJWTRoundTrip(t *testing.T) {
	token, err := GenerateUserJWT(testJWT, "alice", "Alice", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateUserJWT(testJWT, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "alice", claims.Subject)
}

func TestValidateUserJWTRejects(t *testing.T) {
	good, err := GenerateUserJWT(testJWT, "alice", "", time.Hour)
	require.NoError(t, err)

	expired, err := GenerateUserJWT(testJWT, "alice", "", -time.Minute)
	require.NoError(t, err)

	otherIssuer := testJWT
	otherIssuer.Issuer = "someone-else"
	wrongIssuer, err := GenerateUserJWT(otherIssuer, "alice", "", time.Hour)
	require.NoError(t, err)

	wrongSecret := testJWT
	wrongSecret.Secret = "nope"

	cases := []struct {
		name  string
		cfg   config.JWTConfig
		token string
	}{
		{"garbage", testJWT, "not-a-token"},
		{"expired", testJWT, expired},
		{"wrong issuer", testJWT, wrongIssuer},
		{"wrong secret", wrongSecret, good},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateUserJWT(tc.cfg, tc.token)
			assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
		})
	}
}

func TestGenerateTurnCredentials(t *testing.T) {
	now := time.Unix(1700000000, 0)
	user, pass := GenerateTurnCredentials("alice", "shared", time.Hour, now)

	assert.Equal(t, "1700003600:alice", user)

	mac := hmac.New(sha1.New, []byte("shared"))
	mac.Write([]byte(user))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), pass)
}

type sample struct {
	ID   string `validate:"required,objectid"`
	Type string `validate:"required,message_type"`
}

func TestValidateStruct(t *testing.T) {
	ok := sample{ID: primitive.NewObjectID().Hex(), Type: "text"}
	assert.Empty(t, ValidateStruct(ok))

	errs := ValidateStruct(sample{ID: "xyz", Type: "system"})
	require.Len(t, errs, 2)

	details := ValidationDetails(errs)
	assert.Contains(t, details["id"], "hex id")
	assert.Contains(t, details["type"], "text, image, emote")
}
