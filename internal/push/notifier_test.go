package push

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSub(endpoint string) Subscription {
	sub := Subscription{Endpoint: endpoint}
	sub.Keys.P256dh = "p256dh-key"
	sub.Keys.Auth = "auth-key"
	return sub
}

func stubResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}
}

// stubSender replaces the webpush transport and returns a canned status per
// endpoint.
type stubSender struct {
	mu       sync.Mutex
	statuses map[string]int
	sent     []string
}

func (s *stubSender) send(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sub.Endpoint)
	status, ok := s.statuses[sub.Endpoint]
	if !ok {
		status = http.StatusCreated
	}
	return stubResponse(status), nil
}

func newTestNotifier(sender *stubSender) (*Notifier, *MemoryStore) {
	store := NewMemoryStore()
	n := NewNotifier(store, &webpush.Options{Subscriber: "mailto:test@example.com", TTL: 60})
	n.send = sender.send
	return n, store
}

func TestNotifySendsToAllSubscriptions(t *testing.T) {
	sender := &stubSender{}
	n, store := newTestNotifier(sender)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "bob", newSub("https://push.example/a")))
	require.NoError(t, store.Add(ctx, "bob", newSub("https://push.example/b")))

	n.Notify(ctx, "bob", "alice", "hello", map[string]string{"chat_id": "c1"})

	assert.ElementsMatch(t, []string{"https://push.example/a", "https://push.example/b"}, sender.sent)
	subs, err := store.List(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, subs, 2, "successful sends keep the subscriptions")
}

func TestNotifyPrunesGoneEndpoints(t *testing.T) {
	sender := &stubSender{statuses: map[string]int{
		"https://push.example/stale":   http.StatusGone,
		"https://push.example/missing": http.StatusNotFound,
	}}
	n, store := newTestNotifier(sender)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "bob", newSub("https://push.example/stale")))
	require.NoError(t, store.Add(ctx, "bob", newSub("https://push.example/missing")))
	require.NoError(t, store.Add(ctx, "bob", newSub("https://push.example/live")))

	n.Notify(ctx, "bob", "alice", "hello", nil)

	subs, err := store.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/live", subs[0].Endpoint)
}

func TestNotifyWithoutVAPIDIsNoop(t *testing.T) {
	sender := &stubSender{}
	store := NewMemoryStore()
	n := NewNotifier(store, nil)
	n.send = sender.send
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "bob", newSub("https://push.example/a")))
	n.Notify(ctx, "bob", "alice", "hello", nil)
	assert.Empty(t, sender.sent)
}

func TestNotifyNoSubscriptions(t *testing.T) {
	sender := &stubSender{}
	n, _ := newTestNotifier(sender)

	n.Notify(context.Background(), "nobody", "alice", "hello", nil)
	assert.Empty(t, sender.sent)
}

func TestMemoryStoreSemantics(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Duplicate endpoints collapse.
	require.NoError(t, store.Add(ctx, "bob", newSub("https://push.example/a")))
	require.NoError(t, store.Add(ctx, "bob", newSub("https://push.example/a")))
	subs, err := store.List(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	// The per-user list is bounded; oldest entries fall off.
	for i := 0; i < maxSubsPerUser+3; i++ {
		require.NoError(t, store.Add(ctx, "carl", newSub("https://push.example/"+string(rune('a'+i)))))
	}
	subs, err = store.List(ctx, "carl")
	require.NoError(t, err)
	assert.Len(t, subs, maxSubsPerUser)

	require.NoError(t, store.Remove(ctx, "bob", "https://push.example/a"))
	subs, err = store.List(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, subs)
}
