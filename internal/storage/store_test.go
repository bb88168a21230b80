package storage

import (
	"context"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestMemoryStoreRideRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	r := &models.Ride{ID: "r1", RiderID: "p1", Status: models.StatusSearching}
	if err := m.SaveRide(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}
	r.Status = models.StatusCancelled
	if err := m.UpdateRide(ctx, r); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok := m.GetRide("r1")
	if !ok || got.Status != models.StatusCancelled {
		t.Fatalf("unexpected stored ride: %+v ok=%v", got, ok)
	}
}

func TestMemoryStoreNotifications(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := m.Create(ctx, &models.Notification{RecipientID: "p1", Title: "t"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := m.Create(ctx, &models.Notification{RecipientID: "p2", Title: "t"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	n, err := m.UnreadCount(ctx, "p1")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 unread for p1, got %d err=%v", n, err)
	}
	if got := m.Notifications("p2"); len(got) != 1 {
		t.Fatalf("expected 1 notification for p2, got %d", len(got))
	}
}
