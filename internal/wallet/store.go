package wallet

import (
	"sync"

	"SageChain/internal/observability/metrics"
)

type subscriber struct {
	id uint64
	fn func(WalletSession)
}

// store holds the session snapshot and delivers change notifications.
//
// Notifications are queued and drained by whichever goroutine committed
// first, so subscribers run outside the lock, in registration order, one
// notification at a time. A subscriber that mutates the session from inside
// its callback gets its change delivered after the current one.
type store struct {
	mu          sync.Mutex
	session     WalletSession
	generation  uint64
	subscribers []subscriber
	nextSubID   uint64
	pending     []WalletSession
	draining    bool
}

func newStore() *store {
	return &store{session: disconnectedSession()}
}

func (s *store) snapshot() WalletSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// advance starts a new generation; results computed for older generations
// are dropped by commitIf.
func (s *store) advance() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// current returns the live generation together with the snapshot.
func (s *store) current() (uint64, WalletSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation, s.session
}

// commitIf applies fn when gen is still current. It reports whether the
// generation matched; subscribers are notified only if the snapshot changed.
func (s *store) commitIf(gen uint64, fn func(*WalletSession)) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.applyLocked(fn)
	s.drainLocked()
	return true
}

// reset moves to a new generation and clears the session. It reports whether
// anything changed.
func (s *store) reset() bool {
	s.mu.Lock()
	s.generation++
	changed := s.applyLocked(func(ws *WalletSession) { *ws = disconnectedSession() })
	s.drainLocked()
	return changed
}

func (s *store) applyLocked(fn func(*WalletSession)) bool {
	before := s.session
	fn(&s.session)
	if s.session.ConnectionState != StateConnected {
		s.session.Address = ""
		if s.session.ConnectionState == StateDisconnected {
			s.session.BalanceDisplay = ""
		}
	}
	if s.session == before {
		return false
	}
	s.pending = append(s.pending, s.session)
	metrics.SetSessionConnected(s.session.Connected())
	return true
}

// drainLocked must be called with mu held and releases it.
func (s *store) drainLocked() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		subs := append([]subscriber(nil), s.subscribers...)
		s.mu.Unlock()
		for _, sub := range subs {
			sub.fn(next)
		}
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *store) subscribe(fn func(WalletSession)) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subscribers {
				if sub.id == id {
					s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}
