package events

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

// ValidationError marks a payload that was rejected before any state was
// touched. It is only ever shown to the sender.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error { return &ValidationError{Field: field, Reason: reason} }

// Decode unmarshals and validates the payload for an inbound envelope,
// returning the concrete payload struct. Unknown or outbound-only types are
// rejected.
func Decode(env Envelope) (any, error) {
	if !env.Type.Inbound() {
		return nil, invalid("type", fmt.Sprintf("unknown event %q", env.Type))
	}
	switch env.Type {
	case TypeAuthenticate:
		var p Authenticate
		if err := unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ParticipantID == "" {
			return nil, invalid("participant_id", "required")
		}
		if p.Kind != models.KindRider && p.Kind != models.KindDriver {
			return nil, invalid("kind", "must be rider or driver")
		}
		return &p, nil

	case TypeDriverStatusUpdate:
		var p DriverStatusUpdate
		if err := unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		if p.DriverID == "" {
			return nil, invalid("driver_id", "required")
		}
		if p.Location != nil {
			if err := checkCoords(*p.Location); err != nil {
				return nil, err
			}
		}
		return &p, nil

	case TypeDriverLocationUpdate:
		var p DriverLocationUpdate
		if err := unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		if p.DriverID == "" {
			return nil, invalid("driver_id", "required")
		}
		if err := checkCoords(p.Location); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeRideRequest:
		var p RideRequest
		if err := unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		if p.RiderID == "" {
			return nil, invalid("rider_id", "required")
		}
		if err := checkCoords(p.Pickup.Location); err != nil {
			return nil, err
		}
		if err := checkCoords(p.Dropoff.Location); err != nil {
			return nil, err
		}
		return &p, nil

	case TypeDriverAcceptRide, TypeDriverArrived, TypeStartRide:
		var p RideAction
		if err := unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		if p.RideID == "" {
			return nil, invalid("ride_id", "required")
		}
		if p.DriverID == "" {
			return nil, invalid("driver_id", "required")
		}
		return &p, nil

	case TypeCompleteRide:
		var p CompleteRide
		if err := unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		if p.RideID == "" {
			return nil, invalid("ride_id", "required")
		}
		if p.DriverID == "" {
			return nil, invalid("driver_id", "required")
		}
		return &p, nil

	case TypeCancelRide:
		var p CancelRide
		if err := unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		if p.RideID == "" {
			return nil, invalid("ride_id", "required")
		}
		if p.RequesterID == "" {
			return nil, invalid("requester_id", "required")
		}
		return &p, nil

	case TypeRequestMovement:
		var p RequestMovement
		if err := unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		if p.RideID == "" {
			return nil, invalid("ride_id", "required")
		}
		if p.DriverID == "" {
			return nil, invalid("driver_id", "required")
		}
		return &p, nil
	}
	return nil, invalid("type", fmt.Sprintf("unknown event %q", env.Type))
}

func unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return invalid("data", "required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalid("data", "malformed json")
	}
	return nil
}

func checkCoords(l models.Location) error {
	if math.IsNaN(l.Lat) || math.IsInf(l.Lat, 0) || l.Lat < -90 || l.Lat > 90 {
		return invalid("lat", "out of range")
	}
	if math.IsNaN(l.Lon) || math.IsInf(l.Lon, 0) || l.Lon < -180 || l.Lon > 180 {
		return invalid("lon", "out of range")
	}
	return nil
}
