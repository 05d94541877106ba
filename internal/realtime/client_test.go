package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeChatAPI struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	frames   chan inboundFrame
	reject   atomic.Bool

	mu      sync.Mutex
	conns   []*websocket.Conn
	headers []http.Header
	userIDs []string
}

func newFakeChatAPI(t *testing.T) *fakeChatAPI {
	t.Helper()
	f := &fakeChatAPI{frames: make(chan inboundFrame, 64)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(func() {
		f.closeAll()
		f.server.Close()
	})
	return f
}

func (f *fakeChatAPI) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/socket"
}

func (f *fakeChatAPI) serve(w http.ResponseWriter, r *http.Request) {
	if f.reject.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.headers = append(f.headers, r.Header.Clone())
	f.userIDs = append(f.userIDs, r.URL.Query().Get("userId"))
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if json.Unmarshal(data, &frame) == nil {
			f.frames <- frame
		}
	}
}

func (f *fakeChatAPI) push(t *testing.T, event string, data string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.conns)
	conn := f.conns[len(f.conns)-1]
	payload := `{"event":"` + event + `","data":` + data + `}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func (f *fakeChatAPI) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.conns {
		_ = conn.Close()
	}
	f.conns = nil
}

func (f *fakeChatAPI) connectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.headers)
}

func (f *fakeChatAPI) next(t *testing.T, name string) inboundFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-f.frames:
			if frame.Event == name {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", name)
		}
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name() == name {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(name string) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name() == name {
			return r.events[i]
		}
	}
	return nil
}

func (r *eventRecorder) listen(c *Client, names ...string) {
	for _, name := range names {
		c.On(name, r.record)
	}
}

func newTestClient(api *fakeChatAPI, opts Options) *Client {
	opts.URL = api.url()
	if opts.Token == "" {
		opts.Token = "token-123"
	}
	if opts.UserID == "" {
		opts.UserID = "u1"
	}
	return NewClient(opts, zerolog.Nop())
}

func TestConnectRequiresCredentials(t *testing.T) {
	c := NewClient(Options{URL: "ws://127.0.0.1:1", UserID: "u1"}, zerolog.Nop())
	require.ErrorIs(t, c.Connect(context.Background()), ErrMissingToken)

	c = NewClient(Options{URL: "ws://127.0.0.1:1", Token: "t"}, zerolog.Nop())
	require.ErrorIs(t, c.Connect(context.Background()), ErrMissingUser)
}

func TestConnectAuthenticatesAndEmits(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{})
	rec := &eventRecorder{}
	rec.listen(client, EventConnect)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	require.True(t, client.Connected())
	require.Equal(t, 1, rec.count(EventConnect))

	api.mu.Lock()
	require.Equal(t, "Bearer token-123", api.headers[0].Get("Authorization"))
	require.Equal(t, "u1", api.userIDs[0])
	api.mu.Unlock()

	require.NoError(t, client.Emit(SendMessage{To: "u2", Text: "hi", Type: "text"}))
	frame := api.next(t, CommandSendMessage)

	var cmd SendMessage
	require.NoError(t, json.Unmarshal(frame.Data, &cmd))
	require.Equal(t, SendMessage{To: "u2", Text: "hi", Type: "text"}, cmd)
}

func TestEmitDropsWhileDisconnected(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{})

	require.ErrorIs(t, client.Emit(SendTyping{To: "u2", Typing: true}), ErrNotConnected)
	require.Equal(t, 0, api.connectionCount())
}

func TestInboundEventsAreTyped(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{})
	rec := &eventRecorder{}
	rec.listen(client, ServerEvents...)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	api.push(t, EventUsersUpdated, `{"users":[{"_id":"u2","username":"bob","online":true}]}`)
	api.push(t, EventMessage, `{"_id":"m1","from":"u2","to":"u1","type":"text","text":"yo"}`)
	api.push(t, EventConversation, `[{"_id":"m1","from":"u2","to":"u1","type":"text"}]`)
	api.push(t, EventTyping, `{"from":"u2","username":"bob"}`)
	api.push(t, "bogus:event", `{}`)
	api.push(t, EventError, `{"message":"boom"}`)

	require.Eventually(t, func() bool { return rec.count(EventError) == 1 }, time.Second, 10*time.Millisecond)

	roster, ok := rec.last(EventUsersUpdated).(RosterUpdated)
	require.True(t, ok)
	require.Len(t, roster.Users, 1)
	require.Equal(t, "bob", roster.Users[0].Username)

	msg, ok := rec.last(EventMessage).(MessageReceived)
	require.True(t, ok)
	require.Equal(t, "m1", msg.Message.ID)

	conv, ok := rec.last(EventConversation).(ConversationLoaded)
	require.True(t, ok)
	require.Len(t, conv.Messages, 1)

	typing, ok := rec.last(EventTyping).(TypingReceived)
	require.True(t, ok)
	require.Equal(t, TypingReceived{From: "u2", Username: "bob"}, typing)

	require.Equal(t, ServerError{Message: "boom"}, rec.last(EventError))
}

func TestOffStopsDelivery(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{})

	var first, second atomic.Int32
	id := client.On(EventTyping, func(Event) { first.Add(1) })
	client.On(EventTyping, func(Event) { second.Add(1) })

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	api.push(t, EventTyping, `{"from":"u2","username":"bob"}`)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 10*time.Millisecond)

	client.Off(EventTyping, id)
	api.push(t, EventTyping, `{"from":"u2","username":"bob"}`)
	require.Eventually(t, func() bool { return second.Load() == 2 }, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), first.Load())
}

func TestHeartbeatWhileConnected(t *testing.T) {
	api := newFakeChatAPI(t)
	mock := clock.NewMock()
	client := newTestClient(api, Options{Clock: mock})

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	var frame inboundFrame
	require.Eventually(t, func() bool {
		mock.Add(DefaultHeartbeatInterval)
		for {
			select {
			case got := <-api.frames:
				if got.Event == CommandHeartbeat {
					frame = got
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 20*time.Millisecond)

	var hb Heartbeat
	require.NoError(t, json.Unmarshal(frame.Data, &hb))
	require.Equal(t, "u1", hb.UserID)
}

func TestReconnectAnnouncesPresence(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{ReconnectDelay: 10 * time.Millisecond})
	rec := &eventRecorder{}
	rec.listen(client, LifecycleEvents...)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	api.closeAll()

	require.Eventually(t, func() bool { return rec.count(EventReconnect) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, rec.count(EventDisconnect))
	require.True(t, client.Connected())

	frame := api.next(t, CommandUserOnline)
	var presence PresenceOnline
	require.NoError(t, json.Unmarshal(frame.Data, &presence))
	require.Equal(t, "u1", presence.UserID)
}

func TestReconnectExhaustion(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{ReconnectAttempts: 2, ReconnectDelay: 5 * time.Millisecond})
	rec := &eventRecorder{}
	rec.listen(client, LifecycleEvents...)

	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	api.reject.Store(true)
	api.closeAll()

	require.Eventually(t, func() bool { return rec.count(EventReconnectFailed) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 2, rec.count(EventReconnectError))
	require.False(t, client.Connected())
	require.ErrorIs(t, client.Emit(SendTyping{To: "u2"}), ErrNotConnected)
}

func TestConnectRetriesAfterInitialFailure(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{ReconnectAttempts: 5, ReconnectDelay: 10 * time.Millisecond})
	rec := &eventRecorder{}
	rec.listen(client, LifecycleEvents...)

	api.reject.Store(true)
	require.Error(t, client.Connect(context.Background()))
	defer client.Disconnect()

	require.Eventually(t, func() bool { return rec.count(EventReconnectError) >= 1 }, 2*time.Second, 5*time.Millisecond)
	api.reject.Store(false)

	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, rec.count(EventReconnect))
	require.Equal(t, 0, rec.count(EventReconnectFailed))
	require.Equal(t, 1, api.connectionCount())

	frame := api.next(t, CommandUserOnline)
	var presence PresenceOnline
	require.NoError(t, json.Unmarshal(frame.Data, &presence))
	require.Equal(t, "u1", presence.UserID)
}

func TestConnectFailureExhaustsRetries(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{ReconnectAttempts: 3, ReconnectDelay: 5 * time.Millisecond})
	rec := &eventRecorder{}
	rec.listen(client, LifecycleEvents...)

	api.reject.Store(true)
	require.Error(t, client.Connect(context.Background()))
	defer client.Disconnect()

	require.Eventually(t, func() bool { return rec.count(EventReconnectFailed) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 3, rec.count(EventReconnectError))
	require.False(t, client.Connected())
}

func TestDisconnectStopsInitialRetries(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{ReconnectAttempts: 5, ReconnectDelay: 20 * time.Millisecond})
	rec := &eventRecorder{}
	rec.listen(client, LifecycleEvents...)

	api.reject.Store(true)
	require.Error(t, client.Connect(context.Background()))
	client.Disconnect()
	api.reject.Store(false)

	time.Sleep(100 * time.Millisecond)
	require.False(t, client.Connected())
	require.Equal(t, 0, rec.count(EventReconnect))
	require.Equal(t, 0, api.connectionCount())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	api := newFakeChatAPI(t)
	client := newTestClient(api, Options{ReconnectDelay: 5 * time.Millisecond})
	rec := &eventRecorder{}
	rec.listen(client, LifecycleEvents...)

	require.NoError(t, client.Connect(context.Background()))
	client.Disconnect()
	client.Disconnect()

	require.False(t, client.Connected())
	require.Equal(t, 1, rec.count(EventDisconnect))

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, rec.count(EventReconnect))
	require.Equal(t, 1, api.connectionCount())
}

func TestDecodeEventRosterNotAList(t *testing.T) {
	event, err := DecodeEvent(EventUsersUpdated, json.RawMessage(`{"users":"nope"}`))
	require.NoError(t, err)
	require.Nil(t, event.(RosterUpdated).Users)

	event, err = DecodeEvent(EventUsersUpdated, json.RawMessage(`[]`))
	require.NoError(t, err)
	require.NotNil(t, event.(RosterUpdated).Users)

	_, err = DecodeEvent(EventConversation, json.RawMessage(`{"messages":null}`))
	require.Error(t, err)

	_, err = DecodeEvent("nope", json.RawMessage(`{}`))
	require.Error(t, err)
}
