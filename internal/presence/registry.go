package presence

import (
	"log"
	"sync"
	"time"

	"dmserver/internal/domain"
	"dmserver/internal/metrics"
)

// Session is an opaque handle to one live bidirectional connection for a
// user. A user may hold several at once (multi-device).
type Session interface {
	UserID() string
	Send(payload any) error
	Close() error
}

// Registry is the process-wide map of user id to active session handles.
// Every connection goroutine touches it, so all mutation happens under a
// single lock; the membership change and the first/last-handle check are one
// atomic step.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[Session]struct{}),
	}
}

// Register adds a session handle for the given user. It reports whether the
// user just came online (first handle), in which case a presence:changed
// event has been broadcast to all connected sessions.
func (r *Registry) Register(userID string, s Session) (wentOnline bool) {
	r.mu.Lock()
	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[Session]struct{})
		r.sessions[userID] = set
	}
	if _, dup := set[s]; !dup {
		set[s] = struct{}{}
		metrics.OpenSessions.Inc()
	}
	wentOnline = !ok
	r.mu.Unlock()

	if wentOnline {
		metrics.OnlineUsers.Inc()
		r.BroadcastAll(map[string]any{
			"type":    "presence:changed",
			"user_id": userID,
			"status":  domain.UserOnline,
		})
	}
	return wentOnline
}

// Unregister removes a session handle. When the last handle for the user is
// removed the user flips offline, lastSeen is stamped, and a
// presence:changed event is broadcast.
func (r *Registry) Unregister(userID string, s Session) (wentOffline bool, lastSeen time.Time) {
	r.mu.Lock()
	if set, ok := r.sessions[userID]; ok {
		if _, present := set[s]; present {
			delete(set, s)
			metrics.OpenSessions.Dec()
		}
		if len(set) == 0 {
			delete(r.sessions, userID)
			wentOffline = true
		}
	}
	r.mu.Unlock()

	if wentOffline {
		lastSeen = time.Now().UTC()
		metrics.OnlineUsers.Dec()
		r.BroadcastAll(map[string]any{
			"type":      "presence:changed",
			"user_id":   userID,
			"status":    domain.UserOffline,
			"last_seen": lastSeen,
		})
	}
	return wentOffline, lastSeen
}

// SessionsFor returns a snapshot of the user's active session handles,
// possibly empty. Callers may iterate and send without holding any lock.
func (r *Registry) SessionsFor(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[userID]
	if len(set) == 0 {
		return nil
	}
	res := make([]Session, 0, len(set))
	for s := range set {
		res = append(res, s)
	}
	return res
}

// IsOnline reports whether the user has at least one active session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

// SendToUser pushes the payload to every session of the given user and
// returns the number of handles that accepted it. A handle that fails the
// write is logged, closed and unregistered; other handles are unaffected.
func (r *Registry) SendToUser(userID string, payload any) int {
	delivered := 0
	for _, s := range r.SessionsFor(userID) {
		if err := s.Send(payload); err != nil {
			log.Printf("presence: push to session of %s: %v", userID, err)
			metrics.DeliveryFailures.Inc()
			_ = s.Close()
			r.Unregister(userID, s)
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastAll sends the payload to every connected session, best effort.
func (r *Registry) BroadcastAll(payload any) {
	r.mu.RLock()
	all := make([]Session, 0, len(r.sessions))
	for _, set := range r.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range all {
		if err := s.Send(payload); err != nil {
			// cleanup happens on the connection's own read loop exit
			log.Printf("presence: broadcast to session of %s: %v", s.UserID(), err)
		}
	}
}
