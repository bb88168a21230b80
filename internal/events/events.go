package events

import (
	"encoding/json"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Envelope is the wire format for every message in both directions:
// a type discriminator plus a kind-specific payload.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Type enumerates every event kind the engine speaks. The set is closed;
// the router rejects anything else before touching state.
type Type string

// Inbound (participant -> engine).
const (
	TypeAuthenticate         Type = "authenticate"
	TypeDriverStatusUpdate   Type = "driver_status_update"
	TypeDriverLocationUpdate Type = "driver_location_update"
	TypeRideRequest          Type = "ride_request"
	TypeDriverAcceptRide     Type = "driver_accept_ride"
	TypeDriverArrived        Type = "driver_arrived"
	TypeStartRide            Type = "start_ride"
	TypeCompleteRide         Type = "complete_ride"
	TypeCancelRide           Type = "cancel_ride"
	TypeRequestMovement      Type = "request_driver_movement"
)

// Outbound (engine -> participant).
const (
	TypeAuthenticated       Type = "authenticated"
	TypeDriverStatusUpdated Type = "driver_status_updated"
	TypeRideAssigned        Type = "ride_assigned"
	TypeRideRequestReceived Type = "ride_request_received"
	TypeRideRequestError    Type = "ride_request_error"
	TypeDriverAccepted      Type = "driver_accepted"
	TypeRideTaken           Type = "ride_taken"
	TypeRideStarted         Type = "ride_started"
	TypeFareUpdate          Type = "fare_update"
	TypeRideCompleted       Type = "ride_completed"
	TypeRideCancelled       Type = "ride_cancelled"
	TypeDriverOffline       Type = "driver_offline"
	TypeNotification        Type = "notification"
	TypeRideActionError     Type = "ride_action_error"
	TypeDriverMovement      Type = "driver_movement"
)

// Inbound reports whether t is a kind participants may send.
func (t Type) Inbound() bool {
	switch t {
	case TypeAuthenticate, TypeDriverStatusUpdate, TypeDriverLocationUpdate,
		TypeRideRequest, TypeDriverAcceptRide, TypeDriverArrived,
		TypeStartRide, TypeCompleteRide, TypeCancelRide, TypeRequestMovement:
		return true
	}
	return false
}

// Inbound payloads.

type Authenticate struct {
	ParticipantID string                 `json:"participant_id"`
	Kind          models.ParticipantKind `json:"kind"`
}

type DriverStatusUpdate struct {
	DriverID string           `json:"driver_id"`
	IsOnline bool             `json:"is_online"`
	Location *models.Location `json:"location,omitempty"`
}

type DriverLocationUpdate struct {
	DriverID  string          `json:"driver_id"`
	Location  models.Location `json:"location"`
	Timestamp time.Time       `json:"timestamp"`
}

type RideRequest struct {
	RiderID           string      `json:"rider_id"`
	Pickup            models.Stop `json:"pickup"`
	Dropoff           models.Stop `json:"dropoff"`
	RideType          string      `json:"ride_type"`
	PaymentMethod     string      `json:"payment_method"`
	EstimatedFare     int64       `json:"estimated_fare,omitempty"`
	EstimatedDistance float64     `json:"estimated_distance,omitempty"`
}

type RideAction struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
}

type CompleteRide struct {
	RideID     string `json:"ride_id"`
	DriverID   string `json:"driver_id"`
	ActualFare int64  `json:"actual_fare,omitempty"`
}

type CancelRide struct {
	RideID      string `json:"ride_id"`
	RequesterID string `json:"requester_id"`
	Reason      string `json:"reason,omitempty"`
}

type RequestMovement struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
}

// Outbound payloads.

type Authenticated struct {
	ParticipantID string                 `json:"participant_id"`
	Kind          models.ParticipantKind `json:"kind"`
}

type DriverStatusUpdated struct {
	DriverID string `json:"driver_id"`
	IsOnline bool   `json:"is_online"`
}

type RideOffer struct {
	RideID              string      `json:"ride_id"`
	RiderID             string      `json:"rider_id"`
	Pickup              models.Stop `json:"pickup"`
	Dropoff             models.Stop `json:"dropoff"`
	RideType            string      `json:"ride_type"`
	EstimatedDistanceKm float64     `json:"estimated_distance_km"`
	EstimatedFare       int64       `json:"estimated_fare"`
	Currency            string      `json:"currency"`
}

type RideError struct {
	RideID  string `json:"ride_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type FareUpdate struct {
	RideID           string  `json:"ride_id"`
	ActualDistanceKm float64 `json:"actual_distance_km"`
	UpdatedFare      int64   `json:"updated_fare"`
	Currency         string  `json:"currency"`
}

type DriverMovement struct {
	DriverID string            `json:"driver_id"`
	Trail    []models.Location `json:"trail"`
}

// New builds an envelope from a payload, panicking only on marshal failure
// of our own types, which would be a programming error.
func New(t Type, payload any) Envelope {
	if payload == nil {
		return Envelope{Type: t}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		panic("events: marshal " + string(t) + ": " + err.Error())
	}
	return Envelope{Type: t, Data: b}
}
