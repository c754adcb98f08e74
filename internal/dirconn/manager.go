// Package dirconn implements the Directory Connection Manager (spec §4.4):
// it maintains at most one live authenticated handle to the directory,
// detects disconnection, and lazily reconnects with a bind step before the
// next query.
package dirconn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smnsjas/go-identd/internal/backoff"
	"github.com/smnsjas/go-identd/internal/dirproto"
	"github.com/smnsjas/go-identd/internal/obslog"
	"github.com/smnsjas/go-identd/internal/offline"
)

// Config holds the directory provider's connection options (part of the
// directory provider context in spec §3).
type Config struct {
	Address  string
	StartTLS bool
	BindDN   string
	BindPW   string
}

// Manager owns the single current authenticated handle for one backend's
// directory provider. Invariant: at most one live handle exists at a time
// (§3); a new connect-and-bind always replaces (and releases) any prior
// handle rather than accumulating them.
type Manager struct {
	mu sync.Mutex

	cfg     Config
	dialer  dirproto.Dialer
	offline *offline.Tracker
	backoff backoff.Policy
	logger  *slog.Logger

	handle  dirproto.Handle
	attempt int
}

// New creates a Manager. offline is the backend's single shared offline
// tracker, consulted and set the same way the Kerberos state machine does
// (§9 design note).
func New(cfg Config, dialer dirproto.Dialer, offlineTracker *offline.Tracker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, dialer: dialer, offline: offlineTracker, backoff: backoff.DefaultPolicy, logger: logger}
}

// IsConnected reports whether a live handle is currently held.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil
}

// IsOffline reports the shared backend offline bit (§4.4, §9).
func (m *Manager) IsOffline() bool {
	return m.offline.IsOffline()
}

// ConnectAndBind issues a connect (optionally with STARTTLS) and a simple
// bind using the configured default bind DN/token. On success the new
// handle replaces — and releases — any prior handle. On bind failure no
// handle is retained and the backend is marked offline so concurrent
// callers short-circuit per §4.4/§7.
func (m *Manager) ConnectAndBind(ctx context.Context) (dirproto.Handle, error) {
	handle, err := m.dialer.DialAndBind(ctx, m.cfg.Address, m.cfg.StartTLS, m.cfg.BindDN, m.cfg.BindPW)

	m.mu.Lock()
	defer m.mu.Unlock()

	sl := obslog.NewSecurityLogger(m.logger, m.cfg.BindDN)
	if err != nil {
		m.attempt++
		m.offline.MarkOffline()
		if m.handle != nil {
			m.handle.Close()
			m.handle = nil
		}
		sl.LogConnection(obslog.SubtypeConnBind, obslog.OutcomeFailure, obslog.SeverityError, map[string]any{"error": err.Error()})
		return nil, fmt.Errorf("dirconn: bind: %w", err)
	}

	m.attempt = 0
	m.offline.MarkOnline()
	if m.handle != nil {
		m.handle.Close()
	}
	m.handle = handle
	sl.LogConnection(obslog.SubtypeConnBind, obslog.OutcomeSuccess, obslog.SeverityInfo, nil)
	return handle, nil
}

// EnsureConnected returns the current handle, connecting first if none is
// held. Callers are expected to have already checked IsOffline — this
// method does not consult the offline flag itself, matching §4.4's
// "callers check is_connected, then chain a connect-and-bind" sequencing.
func (m *Manager) EnsureConnected(ctx context.Context) (dirproto.Handle, error) {
	if m.IsConnected() {
		m.mu.Lock()
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	return m.ConnectAndBind(ctx)
}

// ReconnectDelay returns how long to wait before the next reconnect
// attempt, growing exponentially with each consecutive failure (this is
// the directory manager's own backoff — the enumeration scheduler
// explicitly does not share it, per spec §4.6).
func (m *Manager) ReconnectDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return backoff.Delay(m.attempt, m.backoff)
}

// Release drops the current handle without dialing a replacement, e.g.
// when a query observes the handle has gone bad.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		m.handle.Close()
		m.handle = nil
	}
}
