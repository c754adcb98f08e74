// Package offline implements the single shared "is this backend reachable"
// bit described by the data model: an offline flag with a timestamp and a
// timeout, consulted (and set) by both the Kerberos and directory providers
// of one backend instance.
//
// This is the spec's simplified relative of a circuit breaker: there is no
// half-open probe state, because the spec's recovery rule is purely
// time-based (once "now > offline_since + offline_timeout", the flag reads
// as clear, without a trial request). Preserve that exact rule rather than
// reintroducing a half-open state the spec doesn't call for.
package offline

import (
	"sync"
	"time"

	"github.com/smnsjas/go-identd/internal/clockutil"
)

// Tracker holds the offline bit shared by a backend's providers.
type Tracker struct {
	mu sync.Mutex

	clock   clockutil.Clock
	timeout time.Duration

	offline      bool
	offlineSince time.Time
}

// New creates a Tracker with the given offline window.
func New(clock clockutil.Clock, timeout time.Duration) *Tracker {
	if clock == nil {
		clock = clockutil.Real{}
	}
	return &Tracker{clock: clock, timeout: timeout}
}

// MarkOffline records a connectivity failure, starting (or restarting) the
// offline window from now.
func (t *Tracker) MarkOffline() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offline = true
	t.offlineSince = t.clock.Now()
}

// MarkOnline clears the flag immediately, e.g. after an operation succeeds.
func (t *Tracker) MarkOnline() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offline = false
}

// IsOffline reports whether the backend should currently be treated as
// unreachable: the flag is set AND the offline window has not yet elapsed.
// Once the window elapses the flag reads false here without being cleared
// on disk — the next failed operation starts a fresh window via MarkOffline.
func (t *Tracker) IsOffline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.offline {
		return false
	}
	return t.clock.Now().Before(t.offlineSince.Add(t.timeout)) || t.clock.Now().Equal(t.offlineSince.Add(t.timeout))
}

// OfflineSince returns the timestamp of the most recent MarkOffline call.
// The zero value means the tracker has never been marked offline.
func (t *Tracker) OfflineSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offlineSince
}
