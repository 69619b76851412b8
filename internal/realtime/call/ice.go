package call

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pion/webrtc/v3"
)

// ICEServersPath serves the caller's STUN servers and TURN credentials
const ICEServersPath = "/api/calls/ice-servers"

// Requester performs an authenticated relay API request and decodes the
// response data into out
type Requester interface {
	Request(ctx context.Context, method, path string, body, out interface{}) error
}

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceConfig struct {
	ICEServers []iceServer `json:"iceServers"`
}

// FetchICEServers asks the relay for the ICE servers of the current user.
// Entries without urls are skipped.
func FetchICEServers(ctx context.Context, api Requester) ([]webrtc.ICEServer, error) {
	var cfg iceConfig
	if err := api.Request(ctx, http.MethodGet, ICEServersPath, nil, &cfg); err != nil {
		return nil, fmt.Errorf("call: fetch ice servers: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		if len(s.URLs) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, server)
	}
	return servers, nil
}
