package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_ToggleReaction(t *testing.T) {
	alice := UserRef{ID: "alice"}
	bob := UserRef{ID: "bob"}
	now := time.Now()
	m := &Message{ID: "m1"}

	assert.True(t, m.ToggleReaction(alice, "like", now))
	assert.True(t, m.ToggleReaction(bob, "love", now.Add(time.Second)))
	require.Len(t, m.Reactions, 2)

	// same type again removes
	assert.False(t, m.ToggleReaction(alice, "like", now.Add(2*time.Second)))
	require.Len(t, m.Reactions, 1)

	// different type replaces
	assert.True(t, m.ToggleReaction(bob, "haha", now.Add(3*time.Second)))
	require.Len(t, m.Reactions, 1)
	assert.Equal(t, "haha", m.Reactions[0].Type)
}

func TestMessage_LatestReaction(t *testing.T) {
	now := time.Now()
	m := &Message{Reactions: []Reaction{
		{User: UserRef{ID: "a"}, Type: "like", CreatedAt: now.Add(time.Minute)},
		{User: UserRef{ID: "b"}, Type: "sad", CreatedAt: now},
	}}

	latest := m.LatestReaction()
	require.NotNil(t, latest)
	assert.Equal(t, "like", latest.Type)

	assert.Nil(t, (&Message{}).LatestReaction())
}

func TestMessage_RecallAndClone(t *testing.T) {
	m := &Message{ID: "m1", Content: "hello", Attachment: "http://img", Sender: &UserRef{ID: "a"}}
	backup := m.Clone()

	m.Recall(time.Now())

	assert.True(t, m.Deleted)
	assert.Equal(t, RecalledContent, m.Content)
	assert.Empty(t, m.Attachment)
	assert.False(t, backup.Deleted)
	assert.Equal(t, "hello", backup.Content)

	backup.Sender.ID = "changed"
	assert.Equal(t, "a", m.Sender.ID)
}

func TestMessage_MarkRead(t *testing.T) {
	m := &Message{}
	reader := UserRef{ID: "r"}

	assert.True(t, m.MarkRead(reader, time.Now()))
	assert.False(t, m.MarkRead(reader, time.Now()))
	assert.True(t, m.IsReadBy("r"))
	assert.False(t, m.IsReadBy("x"))
}

func TestConversation_Participants(t *testing.T) {
	left := time.Now()
	c := &Conversation{Participants: []Participant{
		{User: UserRef{ID: "a"}},
		{User: UserRef{ID: "b"}, LeftAt: &left},
		{User: UserRef{ID: "c"}},
	}}

	assert.True(t, c.HasParticipant("a"))
	assert.False(t, c.HasParticipant("b"))
	assert.Equal(t, []string{"a", "c"}, c.ActiveParticipantIDs())
}
