package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// LiveSender delivers one event to a connected participant. The session
// registry satisfies it.
type LiveSender interface {
	Send(id string, env events.Envelope) error
}

// Bridge fans a notification out to the live channel and, in parallel, to
// the durable store. Both paths are best-effort: a failure on either side is
// logged and swallowed, never blocking the other.
type Bridge struct {
	live   LiveSender
	store  storage.NotificationStore
	logger *slog.Logger
	// storeTimeout bounds the fire-and-forget durable write.
	storeTimeout time.Duration
}

func NewBridge(live LiveSender, store storage.NotificationStore, logger *slog.Logger) *Bridge {
	return &Bridge{live: live, store: store, logger: logger, storeTimeout: 3 * time.Second}
}

// Notify delivers n at-most-once on the live channel and kicks off the
// durable write asynchronously.
func (b *Bridge) Notify(n models.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	// Live path first: the recipient may be gone, which is fine.
	if err := b.live.Send(n.RecipientID, events.New(events.TypeNotification, n)); err != nil {
		b.logger.Debug("live notification dropped", "recipient", n.RecipientID, "category", n.Category, "error", err)
	}
	if b.store == nil {
		return
	}
	go func(n models.Notification) {
		ctx, cancel := context.WithTimeout(context.Background(), b.storeTimeout)
		defer cancel()
		if err := b.store.Create(ctx, &n); err != nil {
			observability.NotificationStoreErrors.Inc()
			b.logger.Warn("durable notification write failed", "recipient", n.RecipientID, "category", n.Category, "error", err)
		}
	}(n)
}

// NotifyAll sends the same notification to several recipients.
func (b *Bridge) NotifyAll(recipients []string, n models.Notification) {
	for _, id := range recipients {
		m := n
		m.RecipientID = id
		b.Notify(m)
	}
}
