package rooms

import (
	"context"
	"errors"
	"testing"

	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/events"
	"socialchat/internal/realtime/realtimetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinConversation_Additive(t *testing.T) {
	p := realtimetest.NewProvider()
	tr := NewTracker(p)
	ctx := context.Background()

	require.NoError(t, tr.JoinConversation(ctx, "c1"))
	require.NoError(t, tr.JoinAdditional(ctx, "c2"))
	require.NoError(t, tr.JoinConversation(ctx, "c3"))

	assert.Equal(t, []string{"c1", "c2", "c3"}, tr.Joined())
	assert.Equal(t, "c3", tr.Primary())
	assert.Empty(t, p.EmittedNamed(events.NameLeaveConversation))
	assert.Len(t, p.EmittedNamed(events.NameJoinConversation), 3)
}

func TestJoinConversation_NoOps(t *testing.T) {
	p := realtimetest.NewProvider()
	tr := NewTracker(p)
	ctx := context.Background()

	require.NoError(t, tr.JoinConversation(ctx, ""))

	p.SetEnsure(false)
	require.NoError(t, tr.JoinConversation(ctx, "c1"))

	assert.Empty(t, p.Emitted())
	assert.Empty(t, tr.Joined())
	assert.Empty(t, tr.Primary())
}

func TestJoinConversation_EmitFailure(t *testing.T) {
	p := realtimetest.NewProvider()
	tr := NewTracker(p)
	p.FailEmits(errors.New("write: broken pipe"))

	assert.Error(t, tr.JoinConversation(context.Background(), "c1"))
	assert.False(t, tr.IsJoined("c1"))
}

func TestLeaveConversation_PrimaryOnly(t *testing.T) {
	p := realtimetest.NewProvider()
	tr := NewTracker(p)
	ctx := context.Background()

	require.NoError(t, tr.JoinAdditional(ctx, "popup"))
	require.NoError(t, tr.JoinConversation(ctx, "page"))
	p.ClearEmitted()

	require.NoError(t, tr.LeaveConversation(ctx))

	assert.Equal(t, []events.Event{events.LeaveConversation{ConversationID: "page"}}, p.Emitted())
	assert.Empty(t, tr.Primary())
	assert.Equal(t, []string{"popup"}, tr.Joined())

	// nothing primary left
	p.ClearEmitted()
	require.NoError(t, tr.LeaveConversation(ctx))
	assert.Empty(t, p.Emitted())
}

func TestRejoinAfterReconnect(t *testing.T) {
	p := realtimetest.NewProvider()
	tr := NewTracker(p)
	ctx := context.Background()

	require.NoError(t, tr.JoinConversation(ctx, "c1"))
	require.NoError(t, tr.JoinAdditional(ctx, "c2"))
	p.ClearEmitted()

	p.SetState(connection.StateConnecting, false)
	p.SetState(connection.StateConnected, true)

	assert.Equal(t, []events.Event{
		events.JoinConversation{ConversationID: "c1"},
		events.JoinConversation{ConversationID: "c2"},
	}, p.Emitted())
}

func TestExplicitDisconnectResets(t *testing.T) {
	p := realtimetest.NewProvider()
	tr := NewTracker(p)
	defer tr.Close()

	require.NoError(t, tr.JoinConversation(context.Background(), "c1"))
	p.SetState(connection.StateDisconnected, false)

	assert.Empty(t, tr.Joined())
	assert.Empty(t, tr.Primary())
}
