package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"socialchat/internal/realtime/events"
	"socialchat/pkg/logger"
)

// PollingDialer opens long-poll sessions on Path (default /socket/poll).
//
//	POST   {path}        open a session, body is [connected frame]
//	GET    {path}/{sid}  wait for queued frames, body is a frame array
//	POST   {path}/{sid}  send a frame array
//	DELETE {path}/{sid}  close the session
type PollingDialer struct {
	Path           string
	HTTP           *http.Client
	RequestTimeout time.Duration
}

// Dial opens a session and reads the connected frame
func (d *PollingDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	path := d.Path
	if path == "" {
		path = "/socket/poll"
	}
	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	u, err := endpoint(target.BaseURL, path, false)
	if err != nil {
		return nil, err
	}

	openCtx := ctx
	if d.RequestTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, d.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(openCtx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header = bearer(target.Token)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: polling open: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return nil, err
	}

	var frames []events.Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("transport: polling open: %w", err)
	}
	if len(frames) == 0 {
		return nil, errors.New("transport: polling open: empty handshake")
	}

	sid, err := handshake(frames[0])
	if err != nil {
		return nil, err
	}

	t := &pollTransport{
		client:  client,
		url:     u.String() + "/" + sid,
		token:   target.Token,
		id:      sid,
		inbound: make(chan events.Frame, inboundBuffer),
		done:    make(chan struct{}),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	// frames queued behind the handshake are forwarded by the poll loop so
	// Dial never waits on a reader
	go t.pollLoop(frames[1:])

	return t, nil
}

type pollTransport struct {
	client *http.Client
	url    string
	token  string
	id     string

	ctx    context.Context
	cancel context.CancelFunc

	inbound chan events.Frame
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (t *pollTransport) ID() string   { return t.id }
func (t *pollTransport) Name() string { return NamePolling }

func (t *pollTransport) pollLoop(backlog []events.Frame) {
	if !t.forward(backlog) {
		return
	}
	for {
		frames, err := t.poll()
		if err != nil {
			if t.ctx.Err() == nil {
				logger.WithFields(map[string]interface{}{
					"socket_id": t.id,
					"error":     err.Error(),
				}).Debug("Long-poll failed")
			}
			t.fail(err)
			return
		}

		if !t.forward(frames) {
			return
		}
	}
}

// forward hands frames to Receive in order; false once the transport closed
func (t *pollTransport) forward(frames []events.Frame) bool {
	for _, f := range frames {
		select {
		case t.inbound <- f:
		case <-t.done:
			return false
		}
	}
	return true
}

func (t *pollTransport) poll() ([]events.Frame, error) {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = bearer(t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, errors.New("session expired")
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("poll status %d", resp.StatusCode)
	}

	var frames []events.Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return frames, nil
}

func (t *pollTransport) Send(ctx context.Context, f events.Frame) error {
	select {
	case <-t.done:
		return t.closedErr()
	default:
	}

	body, err := json.Marshal([]events.Frame{f})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = bearer(t.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: polling send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		t.fail(errors.New("session expired"))
		return t.closedErr()
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("transport: polling send status %d", resp.StatusCode)
	}
	return nil
}

func (t *pollTransport) Receive(ctx context.Context) (events.Frame, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	case <-t.done:
		select {
		case f := <-t.inbound:
			return f, nil
		default:
		}
		return events.Frame{}, t.closedErr()
	case <-ctx.Done():
		return events.Frame{}, ctx.Err()
	}
}

func (t *pollTransport) Close() error {
	alreadyClosed := true
	t.closeOnce.Do(func() {
		alreadyClosed = false
		t.errMu.Lock()
		t.err = ErrClosed
		t.errMu.Unlock()
		close(t.done)
		t.cancel()
	})
	if alreadyClosed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.url, nil)
	if err != nil {
		return err
	}
	req.Header = bearer(t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil
	}
	resp.Body.Close()
	return nil
}

func (t *pollTransport) fail(err error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = err
		t.errMu.Unlock()
		close(t.done)
		t.cancel()
	})
}

func (t *pollTransport) closedErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil || errors.Is(t.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, t.err)
}
