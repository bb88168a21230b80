package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// RideStore is the durable collaborator for ride records. The engine treats
// it as opaque and calls it fire-and-forget; the in-memory registry remains
// the source of truth for live rides.
type RideStore interface {
	SaveRide(ctx context.Context, r *models.Ride) error
	UpdateRide(ctx context.Context, r *models.Ride) error
}

// NotificationStore is the durable collaborator behind the notification
// bridge.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	MarkRead(ctx context.Context, recipientID, notificationID string) error
	UnreadCount(ctx context.Context, recipientID string) (int, error)
}

// MemoryStore keeps rides and notifications in process memory. Used in tests
// and when no PG_DSN is configured.
type MemoryStore struct {
	mu            sync.RWMutex
	rides         map[string]models.Ride
	notifications map[string][]models.Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:         make(map[string]models.Ride),
		notifications: make(map[string][]models.Notification),
	}
}

func (m *MemoryStore) SaveRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRide(id string) (models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}

func (m *MemoryStore) Create(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.RecipientID] = append(m.notifications[n.RecipientID], *n)
	return nil
}

func (m *MemoryStore) MarkRead(_ context.Context, recipientID, notificationID string) error {
	return nil
}

func (m *MemoryStore) UnreadCount(_ context.Context, recipientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifications[recipientID]), nil
}

// Notifications returns everything stored for a recipient, oldest first.
func (m *MemoryStore) Notifications(recipientID string) []models.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Notification, len(m.notifications[recipientID]))
	copy(out, m.notifications[recipientID])
	return out
}
