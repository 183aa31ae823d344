package presence_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"dmserver/internal/domain"
	"dmserver/internal/presence"
)

// fakeSession records everything pushed to it.
type fakeSession struct {
	userID string
	failed bool

	mu     sync.Mutex
	events []any
	closed bool
}

func newFakeSession(userID string) *fakeSession {
	return &fakeSession{userID: userID}
}

func (s *fakeSession) UserID() string { return s.userID }

func (s *fakeSession) Send(payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return errors.New("connection gone")
	}
	s.events = append(s.events, payload)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) eventsOfType(typ string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []map[string]any
	for _, e := range s.events {
		if m, ok := e.(map[string]any); ok && m["type"] == typ {
			res = append(res, m)
		}
	}
	return res
}

func TestRegisterFirstHandleGoesOnline(t *testing.T) {
	reg := presence.NewRegistry()

	s1 := newFakeSession("alice")
	assert.True(t, reg.Register("alice", s1))
	assert.True(t, reg.IsOnline("alice"))

	// second device: already online
	s2 := newFakeSession("alice")
	assert.False(t, reg.Register("alice", s2))
}

func TestUnregisterLastHandleGoesOffline(t *testing.T) {
	reg := presence.NewRegistry()

	s1 := newFakeSession("alice")
	s2 := newFakeSession("alice")
	reg.Register("alice", s1)
	reg.Register("alice", s2)

	wentOffline, _ := reg.Unregister("alice", s1)
	assert.False(t, wentOffline)
	assert.True(t, reg.IsOnline("alice"))

	wentOffline, lastSeen := reg.Unregister("alice", s2)
	assert.True(t, wentOffline)
	assert.False(t, lastSeen.IsZero())
	assert.False(t, reg.IsOnline("alice"))
}

func TestSendToUserCountsDeliveries(t *testing.T) {
	reg := presence.NewRegistry()

	s1 := newFakeSession("bob")
	s2 := newFakeSession("bob")
	reg.Register("bob", s1)
	reg.Register("bob", s2)

	delivered := reg.SendToUser("bob", map[string]any{"type": "test"})
	assert.Equal(t, 2, delivered)
	// count only the pushed payload; s1 also saw the presence broadcast
	// from the first register
	assert.Len(t, s1.eventsOfType("test"), 1)
	assert.Len(t, s2.eventsOfType("test"), 1)
	assert.Len(t, s1.eventsOfType("presence:changed"), 1)
	assert.Empty(t, s2.eventsOfType("presence:changed"))

	assert.Equal(t, 0, reg.SendToUser("nobody", map[string]any{"type": "test"}))
}

func TestSendToUserDropsFailedHandle(t *testing.T) {
	reg := presence.NewRegistry()

	good := newFakeSession("bob")
	bad := newFakeSession("bob")
	bad.failed = true
	reg.Register("bob", good)
	reg.Register("bob", bad)

	delivered := reg.SendToUser("bob", map[string]any{"type": "test"})
	assert.Equal(t, 1, delivered)
	assert.True(t, bad.closed)

	// the failed handle is gone but the user stays online via the good one
	assert.True(t, reg.IsOnline("bob"))
	assert.Len(t, reg.SessionsFor("bob"), 1)
}

func TestRegisterBroadcastsPresence(t *testing.T) {
	reg := presence.NewRegistry()

	watcher := newFakeSession("alice")
	reg.Register("alice", watcher)

	bob := newFakeSession("bob")
	reg.Register("bob", bob)
	reg.Unregister("bob", bob)

	// watcher saw bob come online and go offline
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	var sawOnline, sawOffline bool
	for _, e := range watcher.events {
		m, ok := e.(map[string]any)
		if !ok || m["type"] != "presence:changed" || m["user_id"] != "bob" {
			continue
		}
		switch m["status"] {
		case domain.UserOnline:
			sawOnline = true
		case domain.UserOffline:
			sawOffline = true
		}
	}
	assert.True(t, sawOnline)
	assert.True(t, sawOffline)
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	reg := presence.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := newFakeSession("alice")
			reg.Register("alice", s)
			reg.SendToUser("alice", map[string]any{"type": "test"})
			reg.Unregister("alice", s)
		}()
	}
	wg.Wait()

	assert.False(t, reg.IsOnline("alice"))
	assert.Empty(t, reg.SessionsFor("alice"))
}
