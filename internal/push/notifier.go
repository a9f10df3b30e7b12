package push

import (
	"context"
	"encoding/json"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/reportdesk/internal/logger"
)

// sendFunc matches webpush.SendNotificationWithContext; replaceable in tests.
type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Notifier sends Web Push notifications through the stored subscriptions.
// With nil VAPID options it degrades to a no-op (subscriptions are still
// stored, nothing is sent).
type Notifier struct {
	store SubscriptionStore
	vapid *webpush.Options
	send  sendFunc
}

func NewNotifier(store SubscriptionStore, vapid *webpush.Options) *Notifier {
	return &Notifier{
		store: store,
		vapid: vapid,
		send:  webpush.SendNotificationWithContext,
	}
}

type notificationPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notify sends to every subscription of the user. Endpoints the provider
// reports gone (404/410) are pruned from the store; any other failure is
// logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if n.vapid == nil {
		return
	}
	subs, err := n.store.List(ctx, userID)
	if err != nil {
		logger.Errorf("push list subs user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, _ := json.Marshal(notificationPayload{Title: title, Body: body, Data: data})

	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := n.send(ctx, payload, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			if err := n.store.Remove(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push prune user=%s: %v", userID, err)
			}
		}
	}
}
