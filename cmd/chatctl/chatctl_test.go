package main

import (
	"testing"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/models"
	"socialchat/internal/realtime/call"
	"socialchat/internal/realtime/events"
	"socialchat/internal/realtime/receipts"
	"socialchat/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromToken(t *testing.T) {
	tok, err := utils.GenerateUserJWT(config.JWTConfig{Secret: "s"}, "alice", "Alice", time.Hour)
	require.NoError(t, err)

	me, err := identity(tok, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.UserRef{ID: "alice", Name: "Alice"}, me)

	me, err = identity(tok, "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", me.ID, "--user wins")

	_, err = identity("garbage", "", "")
	assert.Error(t, err)
}

func TestFormatMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	alice := models.UserRef{ID: "alice", Name: "Alice"}
	bob := models.UserRef{ID: "bob", Name: "Bob"}

	mine := models.Message{
		ID: "m1", Sender: &alice, Type: models.MessageTypeText, Content: "hello", CreatedAt: at,
		ReadBy:    []models.ReadReceipt{{Reader: bob, ReadAt: at}},
		Reactions: []models.Reaction{{User: bob, Type: "like", CreatedAt: at}},
	}
	unread := models.Message{ID: "m2", Sender: &alice, Type: models.MessageTypeText, Content: "again", CreatedAt: at.Add(time.Second)}
	theirs := models.Message{ID: "m3", Sender: &bob, Type: models.MessageTypeText, Content: "hi", CreatedAt: at.Add(2 * time.Second), Deleted: true}

	view := receipts.Aggregate([]models.Message{mine, unread, theirs}, "alice")

	line := formatMessage(mine, view)
	assert.Contains(t, line, "Alice: hello")
	assert.Contains(t, line, "{like x1}")
	assert.Contains(t, line, "[read by Bob]")

	assert.Contains(t, formatMessage(unread, view), "[sent]")

	line = formatMessage(theirs, view)
	assert.Contains(t, line, "Bob: (recalled)")
	assert.NotContains(t, line, "[sent]")
	assert.NotContains(t, line, "read by")
}

func TestFormatOffer(t *testing.T) {
	o := events.CallOffer{ConversationID: "c1", Caller: "bob", IsVideo: true, CallerInfo: &models.CallerInfo{ID: "bob", Name: "Bobby"}}
	assert.Equal(t, "incoming video call from Bobby in c1", formatOffer(o))
}

func TestFormatSnapshot(t *testing.T) {
	ringing := call.Snapshot{
		ConversationID: "c1",
		State:          models.CallRinging,
		Direction:      models.CallIncoming,
		Kind:           models.MediaVoice,
		Caller:         &models.CallerInfo{ID: "bob"},
	}
	assert.Equal(t, "incoming voice call in c1: ringing (from bob)", formatSnapshot(ringing))

	ended := call.Snapshot{
		ConversationID: "c1",
		State:          models.CallEnded,
		Reason:         call.ReasonRemoteEnded,
		Direction:      models.CallOutgoing,
		Kind:           models.MediaVideo,
		Duration:       61*time.Second + 400*time.Millisecond,
	}
	assert.Equal(t, "outgoing video call in c1: ended - call ended by the other side after 1m1s", formatSnapshot(ended))
}
