package models

import "time"

// Location is an immutable GPS sample.
type Location struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	CapturedAt time.Time `json:"captured_at"`
}

// ParticipantKind distinguishes the two sides of a ride.
type ParticipantKind string

const (
	KindRider  ParticipantKind = "rider"
	KindDriver ParticipantKind = "driver"
)

// RideStatus is the lifecycle state of a ride. Transitions are monotonic:
// searching -> driverAccepted -> driverArrived -> inProgress -> completed,
// with cancelled and noDriverFound as terminal alternates.
type RideStatus string

const (
	StatusSearching      RideStatus = "searching"
	StatusDriverAccepted RideStatus = "driver_accepted"
	StatusDriverArrived  RideStatus = "driver_arrived"
	StatusInProgress     RideStatus = "in_progress"
	StatusCompleted      RideStatus = "completed"
	StatusCancelled      RideStatus = "cancelled"
	StatusNoDriverFound  RideStatus = "no_driver_found"
)

// Active reports whether a driver is currently bound to the ride.
func (s RideStatus) Active() bool {
	switch s {
	case StatusDriverAccepted, StatusDriverArrived, StatusInProgress:
		return true
	}
	return false
}

// Terminal reports whether the ride can no longer transition.
func (s RideStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoDriverFound:
		return true
	}
	return false
}

// Stop is a location with a human-readable address, used for pickup/dropoff.
type Stop struct {
	Location
	Address string `json:"address"`
}

// Ride is the full lifecycle record owned by the ride registry.
type Ride struct {
	ID            string     `json:"id"`
	RiderID       string     `json:"rider_id"`
	DriverID      string     `json:"driver_id,omitempty"`
	Pickup        Stop       `json:"pickup"`
	Dropoff       Stop       `json:"dropoff"`
	RideType      string     `json:"ride_type"`
	PaymentMethod string     `json:"payment_method"`
	Status        RideStatus `json:"status"`

	RequestedAt time.Time  `json:"requested_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	EstimatedDistanceKm float64 `json:"estimated_distance_km"`
	EstimatedFare       int64   `json:"estimated_fare"`
	ActualDistanceKm    float64 `json:"actual_distance_km"`
	UpdatedFare         int64   `json:"updated_fare"`
	FinalFare           int64   `json:"final_fare,omitempty"`
	DurationMinutes     float64 `json:"duration_minutes,omitempty"`
	Currency            string  `json:"currency"`

	Route      []Location `json:"route,omitempty"`
	Candidates []string   `json:"-"`

	CancelledBy        string `json:"cancelled_by,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
}

// IsCandidate reports whether driverID received the offer for this ride.
func (r *Ride) IsCandidate(driverID string) bool {
	for _, c := range r.Candidates {
		if c == driverID {
			return true
		}
	}
	return false
}

// Notification is the ephemeral message handed to the notification bridge.
// Durability is the notification store's problem, not ours.
type Notification struct {
	RecipientID string         `json:"recipient_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Category    string         `json:"category"`
	RideID      string         `json:"ride_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// DriverSample is the record published to the location topic for every
// accepted driver location update.
type DriverSample struct {
	DriverID string   `json:"driver_id"`
	Loc      Location `json:"loc"`
	Online   bool     `json:"online"`
}
