package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Conn is the slice of a websocket connection the registry needs.
// *websocket.Conn satisfies it; tests substitute fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

var ErrNoSession = errors.New("no live session")

// Session wraps one participant connection with a write mutex, since
// gorilla/websocket allows only one concurrent writer.
type Session struct {
	conn Conn
	mu   sync.Mutex
}

func (s *Session) send(env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(env)
}

// Participant is the registry's view of one connected rider or driver.
type participant struct {
	id           string
	kind         models.ParticipantKind
	sess         *Session
	online       bool
	lastLocation *models.Location
	lastActiveAt time.Time
	connected    bool
}

// Registry owns participant sessions and driver liveness. All writes come
// from connect/disconnect/status events; ride state lives elsewhere.
type Registry struct {
	mu           sync.RWMutex
	participants map[string]*participant
	logger       *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{participants: make(map[string]*participant), logger: logger}
}

// Register upserts a participant on authenticate. On reconnect the connection
// handle is replaced; a driver's online flag and last location are preserved.
func (r *Registry) Register(id string, kind models.ParticipantKind, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[id]
	if !ok {
		p = &participant{id: id, kind: kind}
		r.participants[id] = p
	}
	p.kind = kind
	p.sess = &Session{conn: conn}
	p.connected = true
	p.lastActiveAt = time.Now()
}

// SetOnline updates a driver's availability and optionally its location,
// returning the previous flag so callers can detect an edge transition.
func (r *Registry) SetOnline(id string, online bool, loc *models.Location) (prev bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, found := r.participants[id]
	if !found || p.kind != models.KindDriver {
		return false, false
	}
	prev = p.online
	p.online = online
	if loc != nil {
		p.lastLocation = loc
	}
	p.lastActiveAt = time.Now()
	if online && !prev {
		observability.DriversOnline.Inc()
	} else if !online && prev {
		observability.DriversOnline.Dec()
	}
	return prev, true
}

// Touch records activity and the latest location for a driver.
func (r *Registry) Touch(id string, loc *models.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		if loc != nil {
			p.lastLocation = loc
		}
		p.lastActiveAt = time.Now()
	}
}

// MarkDisconnected flags the participant as gone. For drivers, disconnection
// implies unavailability, so the online flag is forced off. The previous
// online value is returned for edge detection.
func (r *Registry) MarkDisconnected(id string) (wasOnline bool, kind models.ParticipantKind, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, found := r.participants[id]
	if !found {
		return false, "", false
	}
	p.connected = false
	wasOnline = p.online
	if p.kind == models.KindDriver && p.online {
		p.online = false
		observability.DriversOnline.Dec()
	}
	return wasOnline, p.kind, true
}

// Kind returns the registered kind of a participant.
func (r *Registry) Kind(id string) (models.ParticipantKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return "", false
	}
	return p.kind, true
}

// LastLocation returns the most recent location seen for a driver.
func (r *Registry) LastLocation(id string) (models.Location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok || p.lastLocation == nil {
		return models.Location{}, false
	}
	return *p.lastLocation, true
}

// OnlineDrivers snapshots the ids of every connected, online driver.
func (r *Registry) OnlineDrivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.participants))
	for id, p := range r.participants {
		if p.kind == models.KindDriver && p.connected && p.online {
			out = append(out, id)
		}
	}
	return out
}

// Send delivers one event to a participant's live session. At-most-once:
// write errors are logged and reported, never retried.
func (r *Registry) Send(id string, env events.Envelope) error {
	r.mu.RLock()
	p, ok := r.participants[id]
	var sess *Session
	if ok && p.connected {
		sess = p.sess
	}
	r.mu.RUnlock()
	if sess == nil {
		return ErrNoSession
	}
	if err := sess.send(env); err != nil {
		observability.WSSendErrors.Inc()
		r.logger.Warn("ws send failed", "participant", id, "event", string(env.Type), "error", err)
		return err
	}
	observability.WSMessagesOut.Inc()
	return nil
}
