package push

import (
	"encoding/json"
	"log/slog"
	"sync"

	"palaver/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Contact is the VAPID subscriber contact (mailto: or https:) sent to
	// the push service.
	Contact string
}

// Notifier sends web push notifications to users with a registered
// subscription, used when a private message targets someone offline.
// Subscriptions are kept in process memory only; clients re-subscribe on
// page load so nothing is lost that matters across restarts.
type Notifier struct {
	cfg Config

	mu   sync.RWMutex
	subs map[string]webpush.Subscription
}

func NewNotifier(cfg Config) *Notifier {
	return &Notifier{
		cfg:  cfg,
		subs: make(map[string]webpush.Subscription),
	}
}

// Subscribe registers (or replaces) the push subscription for a user.
func (n *Notifier) Subscribe(userID string, sub webpush.Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[userID] = sub
}

// Unsubscribe drops the user's subscription.
func (n *Notifier) Unsubscribe(userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs, userID)
}

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// NotifyOffline pushes a "new private message" notification to the user,
// best effort. Failures are logged and the subscription is dropped on a
// gone/rejected endpoint.
func (n *Notifier) NotifyOffline(userID string, msg models.Message) {
	if userID == "" {
		return
	}

	n.mu.RLock()
	sub, ok := n.subs[userID]
	n.mu.RUnlock()
	if !ok {
		return
	}

	body, err := json.Marshal(payload{
		Title: "New message from " + msg.Sender,
		Body:  msg.Body,
		Tag:   msg.ID,
	})
	if err != nil {
		slog.Error("failed to marshal push payload", "error", err)
		return
	}

	// The hub calls this on its delivery path; do the network round trip
	// off that path.
	go func() {
		resp, err := webpush.SendNotification(body, &sub, &webpush.Options{
			Subscriber:      n.cfg.Contact,
			VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
			TTL:             3600,
		})
		if err != nil {
			slog.Warn("push notification failed", "user_id", userID, "error", err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == 404 || resp.StatusCode == 410 {
			n.Unsubscribe(userID)
		}
	}()
}
