package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportdesk/internal/apperr"
	"github.com/reportdesk/internal/model"
	"github.com/reportdesk/internal/repository/memstore"
	"github.com/reportdesk/internal/service"
)

type recordedPush struct {
	UserID string
	Title  string
	Body   string
}

// pushRecorder captures Notify calls for assertions.
type pushRecorder struct {
	mu    sync.Mutex
	calls []recordedPush
	ch    chan recordedPush
}

func newPushRecorder() *pushRecorder {
	return &pushRecorder{ch: make(chan recordedPush, 16)}
}

func (r *pushRecorder) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	r.mu.Lock()
	r.calls = append(r.calls, recordedPush{UserID: userID, Title: title, Body: body})
	r.mu.Unlock()
	r.ch <- recordedPush{UserID: userID, Title: title, Body: body}
}

type gatewayFixture struct {
	hub   *Hub
	svc   *service.ChatService
	store *memstore.Store
	push  *pushRecorder
	srv   *httptest.Server
}

func newGatewayFixture(t *testing.T, userIDs ...string) *gatewayFixture {
	t.Helper()
	store := memstore.New()
	for _, id := range userIDs {
		store.AddUser(model.User{ID: id, FirstName: id})
	}
	svc := service.NewChatService(store.Chats(), store.Messages(), store)
	rec := newPushRecorder()
	hub := NewHub(svc, rec, 64)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		client := NewClient(hub, conn)
		client.Start(ctx, cancel)
		hub.Register(client)
	}))

	t.Cleanup(func() {
		srv.Close()
		hubCancel()
		hubWg.Wait()
	})
	return &gatewayFixture{hub: hub, svc: svc, store: store, push: rec, srv: srv}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	// Give the hub a beat to process the registration before events arrive.
	time.Sleep(50 * time.Millisecond)
	return conn
}

type receivedEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func send(t *testing.T, conn *websocket.Conn, msg IncomingMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// waitFor reads events until one of the wanted type arrives, skipping
// presence noise interleaved with it.
func waitFor(t *testing.T, conn *websocket.Conn, want EventType) receivedEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev receivedEvent
		err := conn.ReadJSON(&ev)
		require.NoError(t, err, "waiting for %s", want)
		if ev.Type == want {
			return ev
		}
	}
}

func decodePayload(t *testing.T, ev receivedEvent, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ev.Payload, out))
}

func TestGatewayRequiresAuthentication(t *testing.T) {
	f := newGatewayFixture(t, "alice")
	conn := f.dial(t)

	send(t, conn, IncomingMessage{Type: EventJoinChat, ChatID: "some-chat"})

	ev := waitFor(t, conn, EventError)
	var p ErrorPayload
	decodePayload(t, ev, &p)
	assert.Equal(t, "authenticate first", p.Error)
}

func TestGatewayJoinAndSendMessage(t *testing.T) {
	f := newGatewayFixture(t, "alice", "bob")
	chat, err := f.svc.GetOrCreateDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	alice := f.dial(t)
	bob := f.dial(t)

	send(t, alice, IncomingMessage{Type: EventAuthenticate, UserID: "alice"})
	send(t, bob, IncomingMessage{Type: EventAuthenticate, UserID: "bob"})

	send(t, alice, IncomingMessage{Type: EventJoinChat, ChatID: chat.ID})
	waitFor(t, alice, EventJoinedChat)
	send(t, bob, IncomingMessage{Type: EventJoinChat, ChatID: chat.ID})
	waitFor(t, bob, EventJoinedChat)

	// Alice sees bob come online in the shared room.
	ev := waitFor(t, alice, EventUserOnline)
	var status UserStatusPayload
	decodePayload(t, ev, &status)
	assert.Equal(t, "bob", status.UserID)
	assert.True(t, status.Online)

	send(t, alice, IncomingMessage{
		Type: EventSendMessage, ChatID: chat.ID, Content: "hello bob", TempID: "tmp-1",
	})

	delivered := waitFor(t, alice, EventMessageDelivered)
	var dp DeliveredPayload
	decodePayload(t, delivered, &dp)
	assert.Equal(t, "tmp-1", dp.TempID)
	assert.NotEmpty(t, dp.MessageID)

	incoming := waitFor(t, bob, EventNewMessage)
	var msg model.Message
	decodePayload(t, incoming, &msg)
	assert.Equal(t, dp.MessageID, msg.ID)
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)
}

func TestGatewaySendMessageErrorCarriesTempID(t *testing.T) {
	f := newGatewayFixture(t, "alice", "bob", "mallory")
	chat, err := f.svc.GetOrCreateDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	mallory := f.dial(t)
	send(t, mallory, IncomingMessage{Type: EventAuthenticate, UserID: "mallory"})
	send(t, mallory, IncomingMessage{
		Type: EventSendMessage, ChatID: chat.ID, Content: "let me in", TempID: "tmp-9",
	})

	ev := waitFor(t, mallory, EventMessageError)
	var p ErrorPayload
	decodePayload(t, ev, &p)
	assert.Equal(t, "tmp-9", p.TempID)
	assert.Equal(t, "not a participant of this chat", p.Error)
}

func TestGatewayTypingRelay(t *testing.T) {
	f := newGatewayFixture(t, "alice", "bob")
	chat, err := f.svc.GetOrCreateDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	alice := f.dial(t)
	bob := f.dial(t)
	send(t, alice, IncomingMessage{Type: EventAuthenticate, UserID: "alice"})
	send(t, bob, IncomingMessage{Type: EventAuthenticate, UserID: "bob"})
	send(t, alice, IncomingMessage{Type: EventJoinChat, ChatID: chat.ID})
	waitFor(t, alice, EventJoinedChat)
	send(t, bob, IncomingMessage{Type: EventJoinChat, ChatID: chat.ID})
	waitFor(t, bob, EventJoinedChat)

	send(t, alice, IncomingMessage{Type: EventTypingStart, ChatID: chat.ID})

	ev := waitFor(t, bob, EventUserTyping)
	var p TypingPayload
	decodePayload(t, ev, &p)
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, chat.ID, p.ChatID)
	assert.True(t, p.IsTyping)

	send(t, alice, IncomingMessage{Type: EventTypingStop, ChatID: chat.ID})
	ev = waitFor(t, bob, EventUserTyping)
	decodePayload(t, ev, &p)
	assert.False(t, p.IsTyping)
}

func TestGatewayPushForOfflineParticipant(t *testing.T) {
	f := newGatewayFixture(t, "alice", "bob")
	chat, err := f.svc.GetOrCreateDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	alice := f.dial(t)
	send(t, alice, IncomingMessage{Type: EventAuthenticate, UserID: "alice"})
	send(t, alice, IncomingMessage{Type: EventJoinChat, ChatID: chat.ID})
	waitFor(t, alice, EventJoinedChat)

	// Bob never connects, so sending must queue a push for him.
	send(t, alice, IncomingMessage{
		Type: EventSendMessage, ChatID: chat.ID, Content: "are you there?", TempID: "tmp-2",
	})
	waitFor(t, alice, EventMessageDelivered)

	select {
	case p := <-f.push.ch:
		assert.Equal(t, "bob", p.UserID)
		assert.Equal(t, "alice", p.Title)
		assert.Equal(t, "are you there?", p.Body)
	case <-time.After(3 * time.Second):
		t.Fatal("expected a push notification for the offline participant")
	}
}

func TestGatewayOnlineBookkeeping(t *testing.T) {
	f := newGatewayFixture(t, "alice", "bob")
	chat, err := f.svc.GetOrCreateDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	alice := f.dial(t)
	send(t, alice, IncomingMessage{Type: EventAuthenticate, UserID: "alice"})
	send(t, alice, IncomingMessage{Type: EventJoinChat, ChatID: chat.ID})
	waitFor(t, alice, EventJoinedChat)

	assert.True(t, f.hub.IsOnline("alice"))
	assert.False(t, f.hub.IsOnline("bob"))
	assert.Equal(t, 1, f.hub.RoomSize(chat.ID))
	assert.Equal(t, 1, f.hub.RoomSize(userRoom("alice")))

	// Disconnect and poll until the hub has processed the unregister.
	alice.Close()
	require.Eventually(t, func() bool {
		return !f.hub.IsOnline("alice") && f.hub.RoomSize(chat.ID) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestErrorMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "not a participant of this chat",
		errorMessage(apperr.Forbidden("not a participant of this chat")))
	assert.Equal(t, "internal error",
		errorMessage(apperr.Upstream("store exploded", errors.New("pq: connection reset"))))
	assert.Equal(t, "internal error", errorMessage(errors.New("raw failure")))
}
