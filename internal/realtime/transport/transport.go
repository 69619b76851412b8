// Package transport carries event frames between the client core and the
// relay. Two transports exist: a websocket stream and an HTTP long-poll
// session. FallbackDialer tries them in configured order.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/realtime/events"
)

const (
	NameWebSocket = "websocket"
	NamePolling   = "polling"
)

var (
	// ErrUnauthorized means the relay rejected the bearer token at handshake
	ErrUnauthorized = errors.New("transport: unauthorized")

	// ErrClosed is returned by Send and Receive after the transport is gone
	ErrClosed = errors.New("transport: closed")
)

// Target identifies the relay and the credentials to present
type Target struct {
	BaseURL string
	Token   string
}

// Transport is one live event-stream connection
type Transport interface {
	// ID is the socket id assigned by the relay in the connected frame
	ID() string
	Name() string
	Send(ctx context.Context, f events.Frame) error
	// Receive blocks until the next frame arrives or the transport fails
	Receive(ctx context.Context) (events.Frame, error)
	Close() error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, target Target) (Transport, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, target Target) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, target Target) (Transport, error) {
	return f(ctx, target)
}

// NewDialer builds the fallback chain described by the client configuration
func NewDialer(cfg config.ClientConfig) *FallbackDialer {
	httpClient := &http.Client{Timeout: 0}

	dialers := map[string]Dialer{
		NameWebSocket: &WebSocketDialer{HandshakeTimeout: cfg.AttemptTimeout},
		NamePolling:   &PollingDialer{HTTP: httpClient, RequestTimeout: cfg.AttemptTimeout},
	}

	return &FallbackDialer{Order: cfg.Transports, Dialers: dialers}
}

// statusError maps handshake responses onto transport errors
func statusError(resp *http.Response) error {
	if resp == nil {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: handshake status %d", resp.StatusCode)
	}
	return nil
}

// endpoint joins base and path, switching to ws(s) when requested
func endpoint(base, path string, ws bool) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid url: %w", err)
	}

	if ws {
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
	}
	return u, nil
}

func bearer(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// handshake extracts the socket id from the first frame a relay sends
func handshake(f events.Frame) (string, error) {
	ev, err := events.Decode(f)
	if err != nil {
		return "", fmt.Errorf("transport: bad handshake: %w", err)
	}

	connected, ok := ev.(events.Connected)
	if !ok || connected.SocketID == "" {
		return "", fmt.Errorf("transport: expected %s frame, got %s", events.NameConnected, f.Event)
	}
	return connected.SocketID, nil
}

func deadline(ctx context.Context, fallback time.Duration) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if fallback > 0 {
		return time.Now().Add(fallback)
	}
	return time.Time{}
}
