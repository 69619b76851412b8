package services

import (
	"strings"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/utils"
	"socialchat/pkg/logger"
)

// ICEServer is one entry of an RTCConfiguration.iceServers list
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEConfig is what a client needs to build its peer connection
type ICEConfig struct {
	ICEServers []ICEServer `json:"iceServers"`
	ExpiresAt  *time.Time  `json:"expiresAt,omitempty"`
}

// ICEService hands out STUN servers and short-lived TURN credentials
type ICEService struct {
	cfg config.WebRTCConfig
	now func() time.Time
}

func NewICEService(cfg config.WebRTCConfig) *ICEService {
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = config.DefaultSTUNServers
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = 24 * time.Hour
	}
	return &ICEService{cfg: cfg, now: time.Now}
}

// ServersFor returns the ICE servers for userID. TURN entries are only
// included when both TURN urls and a shared secret are configured.
func (s *ICEService) ServersFor(userID string) ICEConfig {
	servers := make([]ICEServer, 0, len(s.cfg.STUNServers)+1)
	for _, u := range s.cfg.STUNServers {
		servers = append(servers, ICEServer{URLs: []string{withScheme(u, "stun:")}})
	}

	out := ICEConfig{ICEServers: servers}
	if len(s.cfg.TURNServers) == 0 || s.cfg.TURNSecret == "" {
		return out
	}

	now := s.now()
	username, password := utils.GenerateTurnCredentials(userID, s.cfg.TURNSecret, s.cfg.CredentialTTL, now)

	urls := make([]string, 0, len(s.cfg.TURNServers))
	for _, u := range s.cfg.TURNServers {
		urls = append(urls, withScheme(u, "turn:"))
	}
	out.ICEServers = append(out.ICEServers, ICEServer{
		URLs:       urls,
		Username:   username,
		Credential: password,
	})
	expires := now.Add(s.cfg.CredentialTTL)
	out.ExpiresAt = &expires

	logger.LogCallEvent("ice_credentials_issued", "", userID, map[string]interface{}{
		"turn_servers": len(urls),
		"expires_at":   expires,
	})
	return out
}

func withScheme(u, scheme string) string {
	if strings.HasPrefix(u, "stun:") || strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
		return u
	}
	return scheme + u
}
