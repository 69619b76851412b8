package call

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRequester struct {
	body   string
	err    error
	method string
	path   string
}

func (s *stubRequester) Request(_ context.Context, method, path string, _, out interface{}) error {
	s.method, s.path = method, path
	if s.err != nil {
		return s.err
	}
	return json.Unmarshal([]byte(s.body), out)
}

func TestFetchICEServers(t *testing.T) {
	api := &stubRequester{body: `{
		"iceServers": [
			{"urls": ["stun:stun.example.org:3478"]},
			{"urls": []},
			{"urls": ["turn:turn.example.org:3478"], "username": "1700000000:alice", "credential": "secret"}
		],
		"expiresAt": "2024-05-01T12:00:00Z"
	}`}

	servers, err := FetchICEServers(context.Background(), api)
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, api.method)
	assert.Equal(t, ICEServersPath, api.path)

	require.Len(t, servers, 2)
	assert.Equal(t, webrtc.ICEServer{URLs: []string{"stun:stun.example.org:3478"}}, servers[0])
	assert.Equal(t, webrtc.ICEServer{
		URLs:           []string{"turn:turn.example.org:3478"},
		Username:       "1700000000:alice",
		Credential:     "secret",
		CredentialType: webrtc.ICECredentialTypePassword,
	}, servers[1])
}

func TestFetchICEServers_Error(t *testing.T) {
	boom := errors.New("unauthorized")
	_, err := FetchICEServers(context.Background(), &stubRequester{err: boom})
	assert.ErrorIs(t, err, boom)
}
