package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/observability"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	maxMessageBytes = 16 * 1024
	authDeadline    = 10 * time.Second
)

// handleWS upgrades the connection and runs the event loop for one
// participant. The first event must be authenticate; everything after is
// validated and routed to the engine.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)
	go s.readLoop(conn)
}

func (s *Server) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	// authentication handshake
	_ = conn.SetReadDeadline(time.Now().Add(authDeadline))
	var env events.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return
	}
	payload, err := events.Decode(env)
	if err != nil {
		_ = conn.WriteJSON(errorEnvelope("", err))
		return
	}
	auth, ok := payload.(*events.Authenticate)
	if !ok {
		_ = conn.WriteJSON(errorEnvelope("", &events.ValidationError{Field: "type", Reason: "first event must be authenticate"}))
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	s.Engine.Authenticate(auth, conn)
	participantID := auth.ParticipantID
	s.logger.Info("participant connected", "participant", participantID, "kind", string(auth.Kind))

	defer func() {
		s.Engine.Disconnect(participantID)
		s.logger.Info("participant disconnected", "participant", participantID)
	}()

	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws read error", "participant", participantID, "error", err)
			}
			return
		}
		observability.WSMessagesIn.Inc()
		s.route(participantID, conn, env)
	}
}

// route validates one inbound event and hands it to the engine. Validation
// and identity failures are answered to the sender only; nothing here can
// crash the loop.
func (s *Server) route(participantID string, conn *websocket.Conn, env events.Envelope) {
	payload, err := events.Decode(env)
	if err != nil {
		_ = conn.WriteJSON(errorEnvelope("", err))
		return
	}

	switch p := payload.(type) {
	case *events.Authenticate:
		// re-authentication replaces the session handle
		s.Engine.Authenticate(p, conn)
	case *events.DriverStatusUpdate:
		if !s.fromActor(conn, participantID, p.DriverID) {
			return
		}
		s.Engine.DriverStatus(p)
	case *events.DriverLocationUpdate:
		if !s.fromActor(conn, participantID, p.DriverID) {
			return
		}
		s.Engine.DriverLocation(p)
	case *events.RideRequest:
		if !s.fromActor(conn, participantID, p.RiderID) {
			return
		}
		s.Engine.RequestRide(p)
	case *events.RideAction:
		if !s.fromActor(conn, participantID, p.DriverID) {
			return
		}
		switch env.Type {
		case events.TypeDriverAcceptRide:
			s.Engine.AcceptRide(p)
		case events.TypeDriverArrived:
			s.Engine.DriverArrived(p)
		case events.TypeStartRide:
			s.Engine.StartRide(p)
		}
	case *events.CompleteRide:
		if !s.fromActor(conn, participantID, p.DriverID) {
			return
		}
		s.Engine.CompleteRide(p)
	case *events.CancelRide:
		if !s.fromActor(conn, participantID, p.RequesterID) {
			return
		}
		s.Engine.CancelRide(p)
	case *events.RequestMovement:
		s.Engine.DriverMovement(participantID, p)
	}
}

// fromActor rejects events that claim an identity other than the
// authenticated one. Visible only to the sender.
func (s *Server) fromActor(conn *websocket.Conn, participantID, claimed string) bool {
	if participantID == claimed {
		return true
	}
	_ = conn.WriteJSON(events.New(events.TypeRideActionError, events.RideError{
		Code:    "authorization",
		Message: "event identity does not match this session",
	}))
	return false
}

func errorEnvelope(rideID string, err error) events.Envelope {
	return events.New(events.TypeRideActionError, events.RideError{
		RideID:  rideID,
		Code:    "validation",
		Message: err.Error(),
	})
}
