package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/trail"
)

// SamplePublisher pushes accepted driver samples to the location topic.
type SamplePublisher interface {
	PublishSample(s models.DriverSample) error
}

// LocationMirror mirrors the latest driver position to an external store.
type LocationMirror interface {
	Upsert(ctx context.Context, driverID string, loc models.Location, online bool) error
}

// Engine wires the registries together and owns the matching flow: offer
// broadcast, the acceptance race, and timeout supervision. One instance per
// process; everything it touches is injected so tests can run many.
type Engine struct {
	Sessions *session.Registry
	Rides    *rides.Registry
	Trail    *trail.History
	Bridge   *notify.Bridge

	// Collaborators, all optional and fire-and-forget.
	Store     storage.RideStore
	Publisher SamplePublisher
	Mirror    LocationMirror
	Payments  payments.Client

	AcceptTimeout time.Duration
	Logger        *slog.Logger

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	// newID and afterFunc are swappable in tests.
	newID     func() string
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewEngine(sessions *session.Registry, rideReg *rides.Registry, history *trail.History, bridge *notify.Bridge, logger *slog.Logger, acceptTimeout time.Duration) *Engine {
	return &Engine{
		Sessions:      sessions,
		Rides:         rideReg,
		Trail:         history,
		Bridge:        bridge,
		Logger:        logger,
		AcceptTimeout: acceptTimeout,
		timers:        make(map[string]*time.Timer),
		newID:         newID,
		afterFunc:     time.AfterFunc,
	}
}

// Authenticate registers the participant's session and acknowledges it.
func (e *Engine) Authenticate(p *events.Authenticate, conn session.Conn) {
	e.Sessions.Register(p.ParticipantID, p.Kind, conn)
	e.send(p.ParticipantID, events.New(events.TypeAuthenticated, events.Authenticated{
		ParticipantID: p.ParticipantID,
		Kind:          p.Kind,
	}))
}

// DriverStatus flips a driver's availability. An online-to-offline edge while
// the driver holds an active ride synchronously tells that ride's rider.
func (e *Engine) DriverStatus(p *events.DriverStatusUpdate) {
	prev, ok := e.Sessions.SetOnline(p.DriverID, p.IsOnline, p.Location)
	if !ok {
		e.send(p.DriverID, rejectionEvent("", rides.CodeNotFound, "driver is not registered"))
		return
	}
	if p.Location != nil {
		e.Trail.Record(p.DriverID, *p.Location)
		e.publishSample(p.DriverID, *p.Location, p.IsOnline)
	}
	e.send(p.DriverID, events.New(events.TypeDriverStatusUpdated, events.DriverStatusUpdated{
		DriverID: p.DriverID,
		IsOnline: p.IsOnline,
	}))
	if prev && !p.IsOnline {
		e.driverWentOffline(p.DriverID)
	}
}

// DriverLocation ingests one location sample: trail, collaborators, and, when
// the driver holds an active ride, route accrual plus rider-facing updates.
func (e *Engine) DriverLocation(p *events.DriverLocationUpdate) {
	loc := p.Location
	if loc.CapturedAt.IsZero() {
		loc.CapturedAt = p.Timestamp
	}
	e.Sessions.Touch(p.DriverID, &loc)
	e.Trail.Record(p.DriverID, loc)
	e.publishSample(p.DriverID, loc, true)

	r, ok := e.Rides.ActiveForDriver(p.DriverID)
	if !ok {
		return
	}
	updated, fareChanged, err := e.Rides.RecordLocation(r.ID, loc)
	if err != nil {
		// the ride ended between lookup and record; nothing to do
		return
	}
	e.send(updated.RiderID, events.New(events.TypeDriverLocationUpdate, events.DriverLocationUpdate{
		DriverID: p.DriverID,
		Location: loc,
	}))
	if fareChanged {
		fu := events.FareUpdate{
			RideID:           updated.ID,
			ActualDistanceKm: updated.ActualDistanceKm,
			UpdatedFare:      updated.UpdatedFare,
			Currency:         updated.Currency,
		}
		e.send(updated.RiderID, events.New(events.TypeFareUpdate, fu))
		e.send(updated.DriverID, events.New(events.TypeFareUpdate, fu))
	}
}

// RequestRide runs the matching flow: snapshot online drivers, reject
// synchronously when none exist, otherwise flood the offer to every candidate
// and start the single no-acceptance timer.
func (e *Engine) RequestRide(p *events.RideRequest) {
	candidates := e.Sessions.OnlineDrivers()
	if len(candidates) == 0 {
		observability.RidesRejected.Inc()
		e.send(p.RiderID, events.New(events.TypeRideRequestError, events.RideError{
			Code:    "no_drivers_online",
			Message: "no drivers are online right now",
		}))
		return
	}

	r := e.Rides.Create(e.newID(), models.Ride{
		RiderID:       p.RiderID,
		Pickup:        p.Pickup,
		Dropoff:       p.Dropoff,
		RideType:      p.RideType,
		PaymentMethod: p.PaymentMethod,
	})
	if err := e.Rides.SetCandidates(r.ID, candidates); err != nil {
		e.Rides.Remove(r.ID)
		e.send(p.RiderID, rejectionEvent(r.ID, rides.CodeStateConflict, "ride could not be offered"))
		return
	}
	observability.RidesCreated.Inc()
	e.persistCreate(r)

	e.send(p.RiderID, events.New(events.TypeRideRequestReceived, r))

	offer := events.RideOffer{
		RideID:              r.ID,
		RiderID:             r.RiderID,
		Pickup:              r.Pickup,
		Dropoff:             r.Dropoff,
		RideType:            r.RideType,
		EstimatedDistanceKm: r.EstimatedDistanceKm,
		EstimatedFare:       r.EstimatedFare,
		Currency:            r.Currency,
	}
	for _, driverID := range candidates {
		e.send(driverID, events.New(events.TypeRideAssigned, offer))
	}
	e.startAcceptTimer(r.ID, r.RiderID)
}

// AcceptRide commits the acceptance race for one driver. The winner's route
// is seeded from its movement trail; losers get ride_taken.
func (e *Engine) AcceptRide(p *events.RideAction) {
	var seed *models.Location
	if loc, ok := e.Trail.Latest(p.DriverID); ok {
		seed = &loc
	}
	r, losers, err := e.Rides.Accept(p.RideID, p.DriverID, seed)
	if err != nil {
		var ae *rides.ActionError
		if errors.As(err, &ae) && ae.Code == rides.CodeStateConflict {
			// ride_taken is reserved for genuine race losses; a ride that
			// was cancelled or timed out (still visible during retention)
			// reports a plain conflict instead.
			if cur, ok := e.Rides.Get(p.RideID); ok && cur.Status.Active() {
				observability.AcceptRaceLosses.Inc()
				e.send(p.DriverID, events.New(events.TypeRideTaken, events.RideError{
					RideID:  p.RideID,
					Code:    string(rides.CodeStateConflict),
					Message: "ride was taken by another driver",
				}))
				return
			}
			e.send(p.DriverID, events.New(events.TypeRideActionError, events.RideError{
				RideID:  p.RideID,
				Code:    string(rides.CodeStateConflict),
				Message: "ride is no longer available",
			}))
			return
		}
		e.reject(p.DriverID, err)
		return
	}

	e.cancelAcceptTimer(r.ID)
	e.persistUpdate(r)

	e.send(r.RiderID, events.New(events.TypeDriverAccepted, r))
	e.send(r.DriverID, events.New(events.TypeDriverAccepted, r))
	for _, loser := range losers {
		e.send(loser, events.New(events.TypeRideTaken, events.RideError{
			RideID:  r.ID,
			Code:    string(rides.CodeStateConflict),
			Message: "ride was taken by another driver",
		}))
	}
	e.Bridge.Notify(models.Notification{
		RecipientID: r.RiderID,
		Title:       "Driver on the way",
		Body:        fmt.Sprintf("Driver %s accepted your ride.", r.DriverID),
		Category:    "ride_update",
		RideID:      r.ID,
		Payload:     map[string]any{"status": string(r.Status), "driver_id": r.DriverID},
	})
}

// DriverArrived marks the pickup arrival, reseeding the route from the
// driver's last known position.
func (e *Engine) DriverArrived(p *events.RideAction) {
	r, err := e.Rides.Arrive(p.RideID, p.DriverID, e.seedFor(p.DriverID))
	if err != nil {
		e.reject(p.DriverID, err)
		return
	}
	e.persistUpdate(r)
	e.send(r.RiderID, events.New(events.TypeDriverArrived, r))
	e.send(r.DriverID, events.New(events.TypeDriverArrived, r))
	e.Bridge.Notify(models.Notification{
		RecipientID: r.RiderID,
		Title:       "Driver arrived",
		Body:        "Your driver is waiting at the pickup point.",
		Category:    "ride_update",
		RideID:      r.ID,
		Payload:     map[string]any{"status": string(r.Status)},
	})
}

// StartRide begins the trip.
func (e *Engine) StartRide(p *events.RideAction) {
	r, err := e.Rides.Start(p.RideID, p.DriverID, e.seedFor(p.DriverID))
	if err != nil {
		e.reject(p.DriverID, err)
		return
	}
	e.persistUpdate(r)
	e.send(r.RiderID, events.New(events.TypeRideStarted, r))
	e.send(r.DriverID, events.New(events.TypeRideStarted, r))
}

// CompleteRide finishes the trip, settles the fare, and pokes the payment
// collaborator for card rides.
func (e *Engine) CompleteRide(p *events.CompleteRide) {
	r, err := e.Rides.Complete(p.RideID, p.DriverID)
	if err != nil {
		e.reject(p.DriverID, err)
		return
	}
	observability.RidesCompleted.Inc()
	e.persistUpdate(r)

	e.send(r.RiderID, events.New(events.TypeRideCompleted, r))
	e.send(r.DriverID, events.New(events.TypeRideCompleted, r))
	e.Bridge.Notify(models.Notification{
		RecipientID: r.RiderID,
		Title:       "Ride completed",
		Body:        fmt.Sprintf("Total fare %d %s for %.2f km.", r.FinalFare, r.Currency, r.ActualDistanceKm),
		Category:    "ride_receipt",
		RideID:      r.ID,
		Payload:     map[string]any{"final_fare": r.FinalFare, "duration_minutes": r.DurationMinutes},
	})

	if e.Payments != nil && r.PaymentMethod == "card" {
		go e.settleCard(r)
	}
}

// CancelRide terminates the ride on behalf of the rider or assigned driver
// and tells the counterparty.
func (e *Engine) CancelRide(p *events.CancelRide) {
	r, err := e.Rides.Cancel(p.RideID, p.RequesterID, p.Reason)
	if err != nil {
		e.reject(p.RequesterID, err)
		return
	}
	e.cancelAcceptTimer(r.ID)
	e.persistUpdate(r)

	e.send(r.RiderID, events.New(events.TypeRideCancelled, r))
	if r.DriverID != "" {
		e.send(r.DriverID, events.New(events.TypeRideCancelled, r))
	}
	counterparty := r.RiderID
	if p.RequesterID == r.RiderID {
		counterparty = r.DriverID
	}
	if counterparty != "" {
		e.Bridge.Notify(models.Notification{
			RecipientID: counterparty,
			Title:       "Ride cancelled",
			Body:        fmt.Sprintf("The ride was cancelled by the other party. %s", p.Reason),
			Category:    "ride_update",
			RideID:      r.ID,
			Payload:     map[string]any{"cancelled_by": r.CancelledBy, "reason": r.CancellationReason},
		})
	}
}

// DriverMovement answers a rider's request for the trail of the driver
// currently assigned to their own active ride.
func (e *Engine) DriverMovement(requesterID string, p *events.RequestMovement) {
	r, ok := e.Rides.Get(p.RideID)
	if !ok {
		e.send(requesterID, rejectionEvent(p.RideID, rides.CodeNotFound, "unknown ride"))
		return
	}
	if r.RiderID != requesterID || r.DriverID != p.DriverID || !r.Status.Active() {
		e.send(requesterID, rejectionEvent(p.RideID, rides.CodeAuthorization, "movement history is only visible for your own active ride"))
		return
	}
	e.send(requesterID, events.New(events.TypeDriverMovement, events.DriverMovement{
		DriverID: p.DriverID,
		Trail:    e.Trail.Trail(p.DriverID),
	}))
}

// Disconnect handles the socket going away: liveness bookkeeping plus the
// edge-triggered rider notification when a driver drops mid-ride.
func (e *Engine) Disconnect(participantID string) {
	wasOnline, kind, ok := e.Sessions.MarkDisconnected(participantID)
	if !ok || kind != models.KindDriver || !wasOnline {
		return
	}
	e.driverWentOffline(participantID)
}

func (e *Engine) driverWentOffline(driverID string) {
	r, ok := e.Rides.ActiveForDriver(driverID)
	if !ok {
		return
	}
	e.send(r.RiderID, events.New(events.TypeDriverOffline, events.DriverStatusUpdated{
		DriverID: driverID,
		IsOnline: false,
	}))
	e.Bridge.Notify(models.Notification{
		RecipientID: r.RiderID,
		Title:       "Driver offline",
		Body:        "Your driver lost connection. Hold on while they reconnect.",
		Category:    "ride_alert",
		RideID:      r.ID,
		Payload:     map[string]any{"driver_id": driverID},
	})
}

func (e *Engine) startAcceptTimer(rideID, riderID string) {
	t := e.afterFunc(e.AcceptTimeout, func() {
		e.timersMu.Lock()
		delete(e.timers, rideID)
		e.timersMu.Unlock()

		r, expired := e.Rides.ExpireIfSearching(rideID)
		if !expired {
			return
		}
		observability.RidesTimedOut.Inc()
		e.persistUpdate(r)
		e.send(riderID, events.New(events.TypeRideRequestError, events.RideError{
			RideID:  rideID,
			Code:    "no_driver_found",
			Message: "no driver accepted your ride in time",
		}))
		e.Bridge.Notify(models.Notification{
			RecipientID: riderID,
			Title:       "No driver found",
			Body:        "No driver accepted your request. Please try again.",
			Category:    "ride_alert",
			RideID:      rideID,
		})
	})
	e.timersMu.Lock()
	e.timers[rideID] = t
	e.timersMu.Unlock()
}

func (e *Engine) cancelAcceptTimer(rideID string) {
	e.timersMu.Lock()
	defer e.timersMu.Unlock()
	if t, ok := e.timers[rideID]; ok {
		t.Stop()
		delete(e.timers, rideID)
	}
}

func (e *Engine) seedFor(driverID string) *models.Location {
	if loc, ok := e.Trail.Latest(driverID); ok {
		return &loc
	}
	if loc, ok := e.Sessions.LastLocation(driverID); ok {
		return &loc
	}
	return nil
}

func (e *Engine) publishSample(driverID string, loc models.Location, online bool) {
	if e.Mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := e.Mirror.Upsert(ctx, driverID, loc, online); err != nil {
			e.Logger.Debug("redis mirror write failed", "driver", driverID, "error", err)
		}
		cancel()
	}
	if e.Publisher != nil {
		if err := e.Publisher.PublishSample(models.DriverSample{DriverID: driverID, Loc: loc, Online: online}); err != nil {
			e.Logger.Debug("location publish failed", "driver", driverID, "error", err)
		}
	}
}

func (e *Engine) persistCreate(r *models.Ride) {
	if e.Store == nil {
		return
	}
	go func(r models.Ride) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.Store.SaveRide(ctx, &r); err != nil {
			e.Logger.Warn("ride save failed", "ride", r.ID, "error", err)
		}
	}(*r)
}

func (e *Engine) persistUpdate(r *models.Ride) {
	if e.Store == nil {
		return
	}
	go func(r models.Ride) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.Store.UpdateRide(ctx, &r); err != nil {
			e.Logger.Warn("ride update failed", "ride", r.ID, "status", string(r.Status), "error", err)
		}
	}(*r)
}

func (e *Engine) settleCard(r *models.Ride) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := e.Payments.Hold(ctx, r.FinalFare, r.Currency, r.RiderID)
	if err != nil {
		e.Logger.Warn("payment hold failed", "ride", r.ID, "error", err)
		return
	}
	if err := e.Payments.Capture(ctx, id); err != nil {
		e.Logger.Warn("payment capture failed", "ride", r.ID, "intent", id, "error", err)
	}
}

// reject translates a local ActionError into an event addressed only to the
// actor; nothing ever crosses the boundary as a raw error.
func (e *Engine) reject(participantID string, err error) {
	var ae *rides.ActionError
	if errors.As(err, &ae) {
		e.send(participantID, rejectionEvent(ae.RideID, ae.Code, ae.Reason))
		return
	}
	e.send(participantID, rejectionEvent("", rides.CodeValidation, err.Error()))
}

func (e *Engine) send(participantID string, env events.Envelope) {
	// at-most-once: a failed or absent session just drops the event
	_ = e.Sessions.Send(participantID, env)
}

func rejectionEvent(rideID string, code rides.ErrorCode, msg string) events.Envelope {
	return events.New(events.TypeRideActionError, events.RideError{
		RideID:  rideID,
		Code:    string(code),
		Message: msg,
	})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
