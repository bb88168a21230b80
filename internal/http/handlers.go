package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/events"
)

// handleGetRide returns the live registry snapshot of one ride. Only the
// rider or assigned driver may read it; the caller identifies itself with
// the X-Participant-ID header.
func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	requester := r.Header.Get("X-Participant-ID")

	ride, ok := s.Engine.Rides.Get(rideID)
	if !ok {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	if requester == "" || (requester != ride.RiderID && requester != ride.DriverID) {
		http.Error(w, "not a participant of this ride", http.StatusForbidden)
		return
	}
	writeJSON(w, ride)
}

// handleGetTrail returns a driver's movement trail, under the same
// authorization rule as the websocket movement request: the requester must be
// the rider of an active ride assigned to that driver.
func (s *Server) handleGetTrail(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	requester := r.Header.Get("X-Participant-ID")

	ride, ok := s.Engine.Rides.ActiveForDriver(driverID)
	if !ok || ride.RiderID != requester {
		http.Error(w, "movement history is only visible for your own active ride", http.StatusForbidden)
		return
	}
	writeJSON(w, events.DriverMovement{DriverID: driverID, Trail: s.Engine.Trail.Trail(driverID)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
