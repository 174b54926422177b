package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer upgrades connections, hands out fresh connection ids, and lets
// tests push events and observe intents.
type fakeServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	nextID   atomic.Int64
	conns    chan *websocket.Conn
	inbound  chan envelope
}

func newFakeServer(t *testing.T) (*fakeServer, string) {
	fs := &fakeServer{
		t:       t,
		conns:   make(chan *websocket.Conn, 4),
		inbound: make(chan envelope, 16),
	}
	srv := httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(srv.Close)
	return fs, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	id := fmt.Sprintf("conn-%d", fs.nextID.Add(1))
	data, _ := json.Marshal(map[string]string{"connectionId": id})
	if err := conn.WriteJSON(envelope{Event: "connected", Data: data}); err != nil {
		return
	}
	fs.conns <- conn
	go func() {
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			fs.inbound <- env
		}
	}()
}

func (fs *fakeServer) push(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(envelope{Event: event, Data: data}))
}

func waitStatus(t *testing.T, ch chan Status, want func(Status) bool) Status {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-ch:
			if want(s) {
				return s
			}
		case <-deadline:
			t.Fatal("timed out waiting for status")
		}
	}
}

func TestManager_ConnectDispatchAndSend(t *testing.T) {
	fs, url := newFakeServer(t)

	m := NewManager(Config{URL: url}, clockwork.NewRealClock())
	statuses := make(chan Status, 16)
	m.OnStatus(func(s Status) { statuses <- s })

	received := make(chan string, 16)
	m.On("nextTurn", func(data json.RawMessage) {
		var p struct {
			Turn string `json:"turn"`
		}
		require.NoError(t, json.Unmarshal(data, &p))
		received <- p.Turn
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	st := waitStatus(t, statuses, func(s Status) bool { return s.Connected })
	assert.Equal(t, "conn-1", st.ConnectionID)
	assert.Equal(t, "conn-1", m.ConnectionID())
	assert.True(t, m.Connected())

	conn := <-fs.conns
	fs.push(t, conn, "nextTurn", map[string]string{"turn": "conn-1"})
	fs.push(t, conn, "nextTurn", map[string]string{"turn": "conn-9"})

	// Arrival order is preserved.
	assert.Equal(t, "conn-1", <-received)
	assert.Equal(t, "conn-9", <-received)

	// Outbound intents reach the server as named envelopes.
	require.NoError(t, m.Send("makeMove", map[string]int{"position": 4}))
	env := <-fs.inbound
	assert.Equal(t, "makeMove", env.Event)

	var move struct {
		Position int `json:"position"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &move))
	assert.Equal(t, 4, move.Position)
}

func TestManager_ReconnectGetsFreshIdentity(t *testing.T) {
	fs, url := newFakeServer(t)

	m := NewManager(Config{URL: url}, clockwork.NewRealClock())
	statuses := make(chan Status, 16)
	m.OnStatus(func(s Status) { statuses <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	first := waitStatus(t, statuses, func(s Status) bool { return s.Connected })
	require.Equal(t, "conn-1", first.ConnectionID)

	// Kill the connection server-side and wait for the redial.
	conn := <-fs.conns
	conn.Close()

	waitStatus(t, statuses, func(s Status) bool { return !s.Connected })
	second := waitStatus(t, statuses, func(s Status) bool { return s.Connected })

	// A reconnect is a new identity, never a resumed one.
	assert.NotEqual(t, first.ConnectionID, second.ConnectionID)
	assert.Equal(t, second.ConnectionID, m.ConnectionID())
}

func TestManager_SendWhileDisconnectedIsDropped(t *testing.T) {
	m := NewManager(Config{URL: "ws://127.0.0.1:1"}, clockwork.NewRealClock())
	err := m.Send("makeMove", map[string]int{"position": 0})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_ConnectErrorNoticesRateLimitedAndEscalate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(Config{URL: "ws://game.example"}, clock)

	var notices []string
	m.OnStatus(func(s Status) {
		if s.Notice != "" {
			notices = append(notices, s.Notice)
		}
	})

	// A burst inside the rate-limit window surfaces exactly once.
	for i := 0; i < 10; i++ {
		m.handleConnectError(fmt.Errorf("dial tcp: refused"))
	}
	require.Len(t, notices, 1)
	assert.Equal(t, "Connecting...", notices[0])

	// Each new window surfaces one more notice; after the threshold the
	// message names the unreachable server.
	for i := 0; i < 6; i++ {
		clock.Advance(2 * time.Second)
		m.handleConnectError(fmt.Errorf("dial tcp: refused"))
	}
	require.Len(t, notices, 7)
	for _, n := range notices[1:5] {
		assert.Equal(t, "Connecting...", n)
	}
	assert.Equal(t, "Cannot reach server at ws://game.example", notices[5])
	assert.Equal(t, "Cannot reach server at ws://game.example", notices[6])
}
