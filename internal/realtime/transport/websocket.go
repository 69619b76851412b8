package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"socialchat/internal/realtime/events"
	"socialchat/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the relay
	writeWait = 10 * time.Second

	// Time allowed between two reads; relay pings reset it
	readWait = 60 * time.Second

	// Maximum frame size accepted from the relay
	maxFrameSize = 1024 * 1024

	// Frames buffered between the read loop and Receive
	inboundBuffer = 64
)

// WebSocketDialer opens websocket transports on Path (default /socket)
type WebSocketDialer struct {
	Path             string
	HandshakeTimeout time.Duration
}

// Dial performs the upgrade and waits for the connected frame
func (d *WebSocketDialer) Dial(ctx context.Context, target Target) (Transport, error) {
	path := d.Path
	if path == "" {
		path = "/socket"
	}

	u, err := endpoint(target.BaseURL, path, true)
	if err != nil {
		return nil, err
	}
	if target.Token != "" {
		q := u.Query()
		q.Set("token", target.Token)
		u.RawQuery = q.Encode()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), bearer(target.Token))
	if err != nil {
		if statusErr := statusError(resp); statusErr != nil {
			return nil, statusErr
		}
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(deadline(ctx, d.HandshakeTimeout))

	var first events.Frame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: websocket handshake: %w", err)
	}

	sid, err := handshake(first)
	if err != nil {
		conn.Close()
		return nil, err
	}

	t := &wsTransport{
		conn:    conn,
		id:      sid,
		inbound: make(chan events.Frame, inboundBuffer),
		done:    make(chan struct{}),
	}
	t.start()

	return t, nil
}

type wsTransport struct {
	conn *websocket.Conn
	id   string

	writeMu sync.Mutex

	inbound chan events.Frame
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (t *wsTransport) ID() string   { return t.id }
func (t *wsTransport) Name() string { return NameWebSocket }

func (t *wsTransport) start() {
	t.conn.SetReadDeadline(time.Now().Add(readWait))
	t.conn.SetPingHandler(func(data string) error {
		t.conn.SetReadDeadline(time.Now().Add(readWait))
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		err := t.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go t.readLoop()
}

func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithFields(map[string]interface{}{
					"socket_id": t.id,
					"error":     err.Error(),
				}).Debug("WebSocket read error")
			}
			t.fail(err)
			return
		}
		t.conn.SetReadDeadline(time.Now().Add(readWait))

		var f events.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.WithField("socket_id", t.id).Warn("Dropping malformed frame")
			continue
		}

		select {
		case t.inbound <- f:
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) Send(ctx context.Context, f events.Frame) error {
	select {
	case <-t.done:
		return t.closedErr()
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(deadline(ctx, writeWait))
	if err := t.conn.WriteJSON(f); err != nil {
		t.fail(err)
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) (events.Frame, error) {
	select {
	case f := <-t.inbound:
		return f, nil
	case <-t.done:
		// drain frames that arrived before the failure
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

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	t.writeMu.Unlock()

	t.fail(ErrClosed)
	return nil
}

func (t *wsTransport) fail(err error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = err
		t.errMu.Unlock()
		close(t.done)
		t.conn.Close()
	})
}

func (t *wsTransport) closedErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil || errors.Is(t.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, t.err)
}
