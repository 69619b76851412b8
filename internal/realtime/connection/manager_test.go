package connection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/events"
	"socialchat/internal/realtime/realtimetest"
	"socialchat/internal/realtime/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func testConfig() config.ClientConfig {
	return config.ClientConfig{
		ServerURL:            "http://relay.test",
		Transports:           []string{"websocket", "polling"},
		Reconnection:         true,
		ReconnectionAttempts: 3,
		ReconnectionDelay:    5 * time.Millisecond,
		ReconnectionDelayMax: 20 * time.Millisecond,
		AttemptTimeout:       time.Second,
		EnsureTimeout:        500 * time.Millisecond,
	}
}

func newManager(t *testing.T) (*connection.Manager, *realtimetest.Dialer, *realtimetest.Tokens) {
	t.Helper()
	dialer := realtimetest.NewDialer()
	tokens := &realtimetest.Tokens{Token: "tok"}
	m := connection.NewManager(connection.Options{
		Config: testConfig(),
		Dialer: dialer,
		Tokens: tokens,
	})
	t.Cleanup(m.Disconnect)
	return m, dialer, tokens
}

func connect(t *testing.T, m *connection.Manager, identity string) {
	t.Helper()
	require.NoError(t, m.Connect(context.Background(), identity))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, m.WaitConnected(ctx))
}

func expectJoinUser(t *testing.T, tr *realtimetest.Transport, userID string) {
	t.Helper()
	f, ok := tr.NextSent(waitFor)
	require.True(t, ok, "join-user not sent")
	ev, err := events.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, events.JoinUser{UserID: userID}, ev)
}

func TestConnect_AnnouncesIdentity(t *testing.T) {
	m, dialer, _ := newManager(t)

	connect(t, m, "alice")

	tr := dialer.Transports()[0]
	expectJoinUser(t, tr, "alice")
	assert.Equal(t, connection.StateConnected, m.State())
	assert.Equal(t, tr.ID(), m.SocketID())
	assert.Equal(t, []string{"tok"}, dialer.Tokens())
}

func TestConnect_Idempotent(t *testing.T) {
	m, dialer, _ := newManager(t)

	connect(t, m, "alice")
	require.NoError(t, m.Connect(context.Background(), "alice"))
	require.NoError(t, m.Connect(context.Background(), "alice"))

	assert.Equal(t, 1, dialer.Dials())
	assert.Len(t, dialer.Transports(), 1)
	assert.False(t, dialer.Transports()[0].Closed())
}

func TestConnect_RequiresIdentity(t *testing.T) {
	m, _, _ := newManager(t)
	assert.True(t, errors.Is(m.Connect(context.Background(), ""), connection.ErrNoIdentity))
}

func TestConnect_UnauthorizedNotRetried(t *testing.T) {
	m, dialer, _ := newManager(t)
	dialer.FailNext(transport.ErrUnauthorized)

	require.NoError(t, m.Connect(context.Background(), "alice"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := m.WaitConnected(ctx)

	assert.True(t, errors.Is(err, connection.ErrUnauthorized))
	assert.True(t, errors.Is(m.LastError(), connection.ErrUnauthorized))
	assert.Equal(t, connection.StateDisconnected, m.State())
	assert.Equal(t, 1, dialer.Dials())
}

func TestConnect_RetriesTransientFailures(t *testing.T) {
	m, dialer, _ := newManager(t)
	dialer.FailNext(errors.New("connection refused"), errors.New("connection refused"))

	connect(t, m, "alice")

	assert.Equal(t, 3, dialer.Dials())
}

func TestConnect_GivesUpAfterAttempts(t *testing.T) {
	m, dialer, _ := newManager(t)
	boom := errors.New("connection refused")
	dialer.FailNext(boom, boom, boom, boom)

	require.NoError(t, m.Connect(context.Background(), "alice"))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := m.WaitConnected(ctx)

	assert.True(t, errors.Is(err, connection.ErrReconnectFailed))
	assert.Equal(t, 4, dialer.Dials())
	assert.Equal(t, connection.StateDisconnected, m.State())

	// a fresh Connect starts over
	connect(t, m, "alice")
	assert.Equal(t, 5, dialer.Dials())
}

func TestReconnect_ReannouncesIdentity(t *testing.T) {
	m, dialer, _ := newManager(t)

	var (
		mu      sync.Mutex
		changes []connection.StateChange
	)
	m.Observe(func(c connection.StateChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	connect(t, m, "alice")
	first := dialer.WaitDial(waitFor)
	require.NotNil(t, first)
	expectJoinUser(t, first, "alice")

	first.Drop()

	second := dialer.WaitDial(waitFor)
	require.NotNil(t, second)
	expectJoinUser(t, second, "alice")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		last := changes[len(changes)-1]
		return last.To == connection.StateConnected && last.Reconnect
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, second.ID(), m.SocketID())
}

func TestDispatch_InOrderToNamedHandlers(t *testing.T) {
	m, dialer, _ := newManager(t)

	received := make(chan string, 4)
	m.On(events.NameNewMessage, func(ev events.Event) {
		received <- ev.(events.MessageCreated).Message.ID
	})
	m.On(events.NameCallEnd, func(events.Event) {
		received <- "end"
	})

	connect(t, m, "alice")
	tr := dialer.Transports()[0]

	tr.PushFrame(events.Frame{Event: "typing"})
	for _, id := range []string{"m1", "m2"} {
		ev := events.MessageCreated{}
		ev.Message.ID = id
		tr.Push(ev)
	}
	tr.Push(events.CallEnd{})

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case id := <-received:
			got = append(got, id)
		case <-time.After(waitFor):
			t.Fatalf("timed out after %v", got)
		}
	}
	assert.Equal(t, []string{"m1", "m2", "end"}, got)
}

func TestOff_StopsDelivery(t *testing.T) {
	m, _, _ := newManager(t)

	id := m.On(events.NameCallOffer, func(events.Event) {})
	assert.True(t, m.Subscribed(id))
	assert.Equal(t, 1, m.HandlerCount(events.NameCallOffer))

	m.Off(id)
	m.Off(id)
	assert.False(t, m.Subscribed(id))
	assert.Equal(t, 0, m.HandlerCount(events.NameCallOffer))
}

func TestDisconnect_ClearsHandlersAndState(t *testing.T) {
	m, dialer, _ := newManager(t)

	id := m.On(events.NameNewMessage, func(events.Event) {})
	connect(t, m, "alice")
	tr := dialer.Transports()[0]

	m.Disconnect()

	assert.False(t, m.Subscribed(id))
	assert.True(t, tr.Closed())
	assert.Equal(t, connection.StateDisconnected, m.State())
	assert.Empty(t, m.Identity())
	assert.Empty(t, m.SocketID())
	assert.True(t, errors.Is(m.Emit(context.Background(), events.CallEnd{}), connection.ErrNotConnected))

	// no redial after a requested close
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dialer.Dials())
}

func TestEnsureConnection(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		m, _, tokens := newManager(t)
		connect(t, m, "alice")
		assert.True(t, m.EnsureConnection(context.Background()))
		assert.Equal(t, 0, tokens.Refreshes())
	})

	t.Run("no identity", func(t *testing.T) {
		m, _, _ := newManager(t)
		assert.False(t, m.EnsureConnection(context.Background()))
	})

	t.Run("reconnects after failure", func(t *testing.T) {
		m, dialer, tokens := newManager(t)
		dialer.FailNext(transport.ErrUnauthorized)
		require.NoError(t, m.Connect(context.Background(), "alice"))

		require.Eventually(t, func() bool {
			return m.State() == connection.StateDisconnected
		}, waitFor, 5*time.Millisecond)

		assert.True(t, m.EnsureConnection(context.Background()))
		assert.Equal(t, 1, tokens.Refreshes())
		assert.Equal(t, connection.StateConnected, m.State())
	})

	t.Run("probe failure", func(t *testing.T) {
		dialer := realtimetest.NewDialer()
		dialer.FailNext(transport.ErrUnauthorized)
		m := connection.NewManager(connection.Options{
			Config: testConfig(),
			Dialer: dialer,
			Tokens: &realtimetest.Tokens{Token: "tok"},
			Prober: connection.ProberFunc(func(context.Context) error {
				return errors.New("relay down")
			}),
		})
		defer m.Disconnect()

		require.NoError(t, m.Connect(context.Background(), "alice"))
		require.Eventually(t, func() bool {
			return m.State() == connection.StateDisconnected
		}, waitFor, 5*time.Millisecond)

		assert.False(t, m.EnsureConnection(context.Background()))
		assert.Equal(t, 1, dialer.Dials())
	})

	t.Run("times out", func(t *testing.T) {
		dialer := realtimetest.NewDialer()
		cfg := testConfig()
		cfg.EnsureTimeout = 50 * time.Millisecond
		cfg.ReconnectionDelay = time.Second
		cfg.ReconnectionDelayMax = time.Second
		m := connection.NewManager(connection.Options{Config: cfg, Dialer: dialer, Tokens: &realtimetest.Tokens{}})
		defer m.Disconnect()

		dialer.FailNext(transport.ErrUnauthorized, errors.New("refused"), errors.New("refused"))
		require.NoError(t, m.Connect(context.Background(), "alice"))
		require.Eventually(t, func() bool {
			return m.State() == connection.StateDisconnected
		}, waitFor, 5*time.Millisecond)

		start := time.Now()
		assert.False(t, m.EnsureConnection(context.Background()))
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})
}
