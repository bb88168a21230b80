package trail

import (
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// History keeps, per driver, the latest known location and a bounded FIFO
// trail of recent samples. The trail is independent of any ride and survives
// across rides for as long as the process does.
type History struct {
	mu     sync.RWMutex
	cap    int
	latest map[string]models.Location
	trails map[string][]models.Location
}

func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = 100
	}
	return &History{
		cap:    cap,
		latest: make(map[string]models.Location),
		trails: make(map[string][]models.Location),
	}
}

// Record appends a sample to the driver's trail, evicting the oldest entry
// once the cap is reached, and updates the latest known location.
func (h *History) Record(driverID string, loc models.Location) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest[driverID] = loc
	t := h.trails[driverID]
	if len(t) >= h.cap {
		t = t[1:]
	}
	h.trails[driverID] = append(t, loc)
}

// Latest returns the driver's most recent sample, if any.
func (h *History) Latest(driverID string) (models.Location, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	loc, ok := h.latest[driverID]
	return loc, ok
}

// Trail returns a copy of the driver's recorded samples, oldest first.
func (h *History) Trail(driverID string) []models.Location {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t := h.trails[driverID]
	out := make([]models.Location, len(t))
	copy(out, t)
	return out
}

// Forget drops all state for a driver. Used when a disconnected driver's
// session is reaped for good; reconnects within the process keep their trail.
func (h *History) Forget(driverID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.latest, driverID)
	delete(h.trails, driverID)
}
