package rides

import (
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geomath"
	"github.com/example/ride-dispatch/internal/models"
)

// Config holds the pricing and retention knobs the registry applies
// uniformly: accumulate distance, apply the per-km rate with rounding, then
// apply the minimum-fare floor at estimate and completion.
type Config struct {
	FarePerKm    float64
	MinimumFare  int64
	Currency     string
	NoiseFloorKm float64
	// Retention is how long terminal rides stay readable before eviction.
	Retention time.Duration
}

// Registry owns the ride lifecycle. Every transition is a synchronous
// check-and-set completed entirely under the registry lock, before any
// persistence or notification I/O runs; that ordering is what makes the
// acceptance race first-writer-wins.
type Registry struct {
	mu    sync.Mutex
	rides map[string]*models.Ride
	cfg   Config
	// now is swappable in tests.
	now func() time.Time
	// afterFunc schedules terminal-ride eviction; swappable in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewRegistry(cfg Config) *Registry {
	if cfg.NoiseFloorKm <= 0 {
		cfg.NoiseFloorKm = 0.01
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * time.Minute
	}
	return &Registry{
		rides:     make(map[string]*models.Ride),
		cfg:       cfg,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Create registers a new ride in the searching state and computes the
// estimate: max(fare(distance), minimum fare).
func (g *Registry) Create(id string, req models.Ride) *models.Ride {
	dist := geomath.DistanceKm(req.Pickup.Location, req.Dropoff.Location)
	fare := geomath.Fare(dist, g.cfg.FarePerKm)
	if fare < g.cfg.MinimumFare {
		fare = g.cfg.MinimumFare
	}

	r := req
	r.ID = id
	r.Status = models.StatusSearching
	r.RequestedAt = g.now()
	r.EstimatedDistanceKm = dist
	r.EstimatedFare = fare
	r.UpdatedFare = 0
	r.ActualDistanceKm = 0
	r.Currency = g.cfg.Currency

	g.mu.Lock()
	g.rides[id] = &r
	g.mu.Unlock()
	return snapshot(&r)
}

// SetCandidates records the drivers who received the offer. Only meaningful
// while the ride is still searching.
func (g *Registry) SetCandidates(rideID string, driverIDs []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return errNotFound(rideID)
	}
	if r.Status != models.StatusSearching {
		return errConflict(rideID, "ride is no longer searching")
	}
	r.Candidates = append([]string(nil), driverIDs...)
	return nil
}

// Accept commits the acceptance race. Valid only while the ride is searching
// and the driver is a candidate; exactly one concurrent caller wins. The
// returned losers are the remaining candidates to be told the ride is taken.
// seed, when known, becomes the first route point.
func (g *Registry) Accept(rideID, driverID string, seed *models.Location) (*models.Ride, []string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return nil, nil, errNotFound(rideID)
	}
	if r.Status != models.StatusSearching {
		return nil, nil, errConflict(rideID, "ride already taken")
	}
	if !r.IsCandidate(driverID) {
		return nil, nil, errUnauthorized(rideID, "driver was not offered this ride")
	}
	now := g.now()
	r.DriverID = driverID
	r.Status = models.StatusDriverAccepted
	r.AcceptedAt = &now
	if seed != nil {
		r.Route = []models.Location{*seed}
	}
	losers := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		if c != driverID {
			losers = append(losers, c)
		}
	}
	r.Candidates = nil
	return snapshot(r), losers, nil
}

// Arrive moves the ride to driverArrived. The route is reseeded to the
// driver's last known location and accrued distance is reset; only
// pickup-to-dropoff distance counts toward the fare.
func (g *Registry) Arrive(rideID, driverID string, seed *models.Location) (*models.Ride, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return nil, errNotFound(rideID)
	}
	if r.Status != models.StatusDriverAccepted {
		return nil, errConflict(rideID, "ride is not awaiting arrival")
	}
	if r.DriverID != driverID {
		return nil, errUnauthorized(rideID, "not the assigned driver")
	}
	now := g.now()
	r.Status = models.StatusDriverArrived
	r.ArrivedAt = &now
	g.reseed(r, seed)
	return snapshot(r), nil
}

// Start moves the ride to inProgress, reseeding the route and resetting
// accrued distance once more.
func (g *Registry) Start(rideID, driverID string, seed *models.Location) (*models.Ride, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return nil, errNotFound(rideID)
	}
	if r.Status != models.StatusDriverArrived {
		return nil, errConflict(rideID, "driver has not arrived")
	}
	if r.DriverID != driverID {
		return nil, errUnauthorized(rideID, "not the assigned driver")
	}
	now := g.now()
	r.Status = models.StatusInProgress
	r.StartedAt = &now
	g.reseed(r, seed)
	return snapshot(r), nil
}

// RecordLocation appends a sample to the active ride's route. Segments above
// the noise floor accrue distance and recompute the running fare; smaller
// movements are GPS jitter and are appended without accrual. The returned
// flag reports whether the fare changed.
func (g *Registry) RecordLocation(rideID string, loc models.Location) (*models.Ride, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return nil, false, errNotFound(rideID)
	}
	if !r.Status.Active() {
		return nil, false, errConflict(rideID, "ride is not active")
	}
	accrued := false
	if n := len(r.Route); n > 0 {
		seg := geomath.DistanceKm(r.Route[n-1], loc)
		if seg > g.cfg.NoiseFloorKm {
			r.ActualDistanceKm += seg
			r.UpdatedFare = geomath.Fare(r.ActualDistanceKm, g.cfg.FarePerKm)
			accrued = true
		}
	}
	r.Route = append(r.Route, loc)
	return snapshot(r), accrued, nil
}

// Complete finishes an in-progress ride. Final fare falls back to the
// estimated distance when no movement was accrued, and the minimum-fare floor
// applies either way. The record stays readable for the retention window.
func (g *Registry) Complete(rideID, driverID string) (*models.Ride, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return nil, errNotFound(rideID)
	}
	if r.Status != models.StatusInProgress {
		return nil, errConflict(rideID, "ride is not in progress")
	}
	if r.DriverID != driverID {
		return nil, errUnauthorized(rideID, "not the assigned driver")
	}
	now := g.now()
	r.Status = models.StatusCompleted
	r.EndedAt = &now

	dist := r.ActualDistanceKm
	if dist <= 0 {
		dist = r.EstimatedDistanceKm
	}
	fare := geomath.Fare(dist, g.cfg.FarePerKm)
	if fare < g.cfg.MinimumFare {
		fare = g.cfg.MinimumFare
	}
	r.FinalFare = fare
	if r.StartedAt != nil {
		r.DurationMinutes = now.Sub(*r.StartedAt).Minutes()
	}
	g.scheduleEvictionLocked(rideID)
	return snapshot(r), nil
}

// Cancel terminates a non-terminal ride. Only the rider or the assigned
// driver may cancel.
func (g *Registry) Cancel(rideID, requesterID, reason string) (*models.Ride, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return nil, errNotFound(rideID)
	}
	if r.Status.Terminal() {
		return nil, errConflict(rideID, "ride already ended")
	}
	if requesterID != r.RiderID && (r.DriverID == "" || requesterID != r.DriverID) {
		return nil, errUnauthorized(rideID, "requester is not part of this ride")
	}
	now := g.now()
	r.Status = models.StatusCancelled
	r.EndedAt = &now
	r.CancelledBy = requesterID
	r.CancellationReason = reason
	r.Candidates = nil
	g.scheduleEvictionLocked(rideID)
	return snapshot(r), nil
}

// ExpireIfSearching is the timeout supervisor's entry point. If the ride is
// still searching it becomes noDriverFound and is evicted immediately; a
// timer that fires after the state advanced re-validates here and no-ops.
func (g *Registry) ExpireIfSearching(rideID string) (*models.Ride, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok || r.Status != models.StatusSearching {
		return nil, false
	}
	now := g.now()
	r.Status = models.StatusNoDriverFound
	r.EndedAt = &now
	r.Candidates = nil
	delete(g.rides, rideID)
	return snapshot(r), true
}

// Get returns a snapshot of a ride.
func (g *Registry) Get(rideID string) (*models.Ride, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rides[rideID]
	if !ok {
		return nil, false
	}
	return snapshot(r), true
}

// Remove drops a ride outright. Used when ride creation fails downstream.
func (g *Registry) Remove(rideID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rides, rideID)
}

// ActiveForDriver finds the ride, if any, holding this driver in an active
// state. Consulted by the disconnect edge handler.
func (g *Registry) ActiveForDriver(driverID string) (*models.Ride, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.rides {
		if r.DriverID == driverID && r.Status.Active() {
			return snapshot(r), true
		}
	}
	return nil, false
}

func (g *Registry) reseed(r *models.Ride, seed *models.Location) {
	r.ActualDistanceKm = 0
	r.UpdatedFare = 0
	if seed != nil {
		r.Route = []models.Location{*seed}
	} else {
		r.Route = nil
	}
}

func (g *Registry) scheduleEvictionLocked(rideID string) {
	g.afterFunc(g.cfg.Retention, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if r, ok := g.rides[rideID]; ok && r.Status.Terminal() {
			delete(g.rides, rideID)
		}
	})
}

// snapshot copies the ride so callers can do I/O without holding the lock.
func snapshot(r *models.Ride) *models.Ride {
	cp := *r
	cp.Route = append([]models.Location(nil), r.Route...)
	cp.Candidates = append([]string(nil), r.Candidates...)
	return &cp
}
