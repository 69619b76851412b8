package events

import (
	"encoding/json"
	"errors"
	"testing"

	"socialchat/internal/models"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_CallOffer(t *testing.T) {
	raw := `{"event":"call-offer","data":{"offer":{"type":"offer","sdp":"v=0"},"conversationId":"c1","caller":"u1","callerSocketId":"s1","callerInfo":{"_id":"u1","name":"Ann"},"isVideo":true}}`

	var f Frame
	require.NoError(t, json.Unmarshal([]byte(raw), &f))

	ev, err := Decode(f)
	require.NoError(t, err)

	offer, ok := ev.(CallOffer)
	require.True(t, ok)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Offer.Type)
	assert.Equal(t, "v=0", offer.Offer.SDP)
	assert.Equal(t, "c1", offer.ConversationID)
	assert.True(t, offer.IsVideo)
	require.NotNil(t, offer.CallerInfo)
	assert.Equal(t, "Ann", offer.CallerInfo.Name)
}

func TestDecode_CallCandidate(t *testing.T) {
	mid := "0"
	f := MustEncode(CallCandidate{
		Candidate:      webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid},
		ConversationID: "c1",
	})

	ev, err := Decode(f)
	require.NoError(t, err)

	c := ev.(CallCandidate)
	require.NotNil(t, c.Candidate.SDPMid)
	assert.Equal(t, "0", *c.Candidate.SDPMid)
}

func TestDecode_NewMessageForms(t *testing.T) {
	wrapped := Frame{Event: NameNewMessage, Data: json.RawMessage(`{"message":{"_id":"m1","conversationId":"c1","content":"hi"}}`)}
	bare := Frame{Event: NameNewMessage, Data: json.RawMessage(`{"_id":"m2","conversationId":"c2","content":"yo"}`)}

	ev, err := Decode(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "m1", ev.(MessageCreated).Message.ID)
	assert.Equal(t, "c1", ev.(MessageCreated).Message.ConversationID)

	ev, err = Decode(bare)
	require.NoError(t, err)
	assert.Equal(t, "m2", ev.(MessageCreated).Message.ID)

	_, err = Decode(Frame{Event: NameNewMessage, Data: json.RawMessage(`{"content":"no id"}`)})
	assert.Error(t, err)
}

func TestDecode_EmptyPayload(t *testing.T) {
	ev, err := Decode(Frame{Event: NameCallEnd})
	require.NoError(t, err)
	assert.Equal(t, CallEnd{}, ev)
}

func TestDecode_Unknown(t *testing.T) {
	_, err := Decode(Frame{Event: "typing"})
	assert.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(Frame{Event: NameReactionsUpdated, Data: json.RawMessage(`{"reactions":"nope"}`)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownEvent))
}

func TestEncode_UsesEventName(t *testing.T) {
	f, err := Encode(ReactionsUpdated{
		ConversationID: "c1",
		MessageID:      "m1",
		Reactions:      []models.Reaction{{User: models.UserRef{ID: "u"}, Type: "like"}},
	})
	require.NoError(t, err)
	assert.Equal(t, NameReactionsUpdated, f.Event)
	assert.JSONEq(t, `"c1"`, string(mustField(t, f.Data, "conversationId")))
}

func mustField(t *testing.T, data json.RawMessage, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &m))
	v, ok := m[key]
	require.True(t, ok, "missing %s", key)
	return v
}
