package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agendaautomatizada/whatsapp/api"
)

const (
	// settleWindow blocks further exclusive actions after a lock or
	// unlock, absorbing propagation lag in the automation engine.
	settleWindow = 10 * time.Second
	// tickInterval drives the local expiry countdown.
	tickInterval = time.Second
	// reconcileInterval is the periodic authoritative re-read cadence.
	reconcileInterval = 60 * time.Second
	// expirySkewTolerance keeps the local expiry when the remote one
	// agrees within this bound, avoiding visible countdown jitter.
	expirySkewTolerance = 5 * time.Second
	// defaultExtendHours is added per extend when the caller passes 0.
	defaultExtendHours = 4
	// maxLeaseHours caps the total lease duration from issuance.
	maxLeaseHours = api.MaxTTLHours
)

// ErrActionPending is returned when a lock or unlock is dispatched while
// a previous exclusive action's settle window is still open.
var ErrActionPending = errors.New("livechat: action pending, settle window active")

// ErrNotLocked is returned when extend is requested for a session the
// monitor believes is routed to the bot.
var ErrNotLocked = errors.New("livechat: session not locked")

// SessionState is a point-in-time snapshot of a monitored session.
type SessionState struct {
	SessionID string
	Route     api.Route
	// ExpiresAt is the lease expiry. Zero when Route is RouteBot.
	ExpiresAt time.Time
	// Pending reports whether a settle window is active; exclusive
	// actions are refused until it closes.
	Pending bool
	// LastError holds the most recent action or reconciliation failure,
	// cleared by the next successful reconciliation.
	LastError error
	// LastSync is the time of the last successful reconciliation.
	LastSync time.Time
}

// SessionMonitor mirrors one conversation's lease state. The local view
// is advisory: actions apply optimistically and roll back on failure,
// and every reconciliation overwrites the mirror with the remote state.
type SessionMonitor struct {
	cli       *Client
	sessionID string
	onChange  func(SessionState)

	mu           sync.Mutex
	route        api.Route
	expiresAt    time.Time
	issuedAt     time.Time
	pendingUntil time.Time
	lastErr      error
	lastSync     time.Time
	nextPollAt   time.Time
	started      bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// MonitorOption customises SessionMonitor construction.
type MonitorOption func(*SessionMonitor)

// WithOnChange registers a callback fired after every state change.
// Called outside the monitor lock; the snapshot is a copy.
func WithOnChange(fn func(SessionState)) MonitorOption {
	return func(m *SessionMonitor) {
		m.onChange = fn
	}
}

// NewSessionMonitor creates a monitor for sessionID backed by cli. The
// mirror starts at RouteBot until the first reconciliation.
func NewSessionMonitor(cli *Client, sessionID string, opts ...MonitorOption) *SessionMonitor {
	m := &SessionMonitor{
		cli:       cli,
		sessionID: sessionID,
		route:     api.RouteBot,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start performs the initial reconciliation and launches the background
// countdown/poll loop. It returns after the initial read completes; a
// failed initial read is recorded in the snapshot, not fatal.
func (m *SessionMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("livechat: monitor already started")
	}
	m.started = true
	m.mu.Unlock()

	m.Refresh(ctx)
	go m.run(ctx)
	return nil
}

// Stop halts the background loop. Safe to call more than once.
func (m *SessionMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *SessionMonitor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.cli.clk.After(tickInterval):
			m.tick(ctx)
		}
	}
}

// tick advances the countdown: local auto-expiry, settle-window close
// (with its forced reconciliation) and the periodic poll.
func (m *SessionMonitor) tick(ctx context.Context) {
	now := m.cli.clk.Now()
	var (
		changed       bool
		settleElapsed bool
		pollDue       bool
	)
	m.mu.Lock()
	if !m.pendingUntil.IsZero() && !now.Before(m.pendingUntil) {
		m.pendingUntil = time.Time{}
		settleElapsed = true
		changed = true
	}
	if m.route == api.RouteInbox && !m.expiresAt.IsZero() && !now.Before(m.expiresAt) {
		// Local countdown hit zero: revert to bot without waiting for
		// the network. The next reconciliation corrects any disagreement.
		m.route = api.RouteBot
		m.expiresAt = time.Time{}
		m.issuedAt = time.Time{}
		changed = true
	}
	if !now.Before(m.nextPollAt) {
		pollDue = true
	}
	m.mu.Unlock()

	if changed {
		m.notify()
	}
	if settleElapsed || pollDue {
		m.Refresh(ctx)
	}
}

// Lock routes the session to the inbox for ttlHours (0 selects the
// operator/gateway default). The transition applies optimistically and
// rolls back when the gateway reports failure.
func (m *SessionMonitor) Lock(ctx context.Context, ttlHours int) error {
	now := m.cli.clk.Now()
	effective := ttlHours
	if effective <= 0 {
		effective = api.DefaultTTLHours
	}
	m.mu.Lock()
	if m.settleActive(now) {
		m.mu.Unlock()
		return ErrActionPending
	}
	prev := m.captureLocked()
	m.route = api.RouteInbox
	m.expiresAt = now.Add(time.Duration(effective) * time.Hour)
	m.issuedAt = now
	m.pendingUntil = now.Add(settleWindow)
	m.mu.Unlock()
	m.notify()

	if err := m.cli.Lock(ctx, m.sessionID, ttlHours); err != nil {
		m.rollback(prev, err)
		return err
	}
	return nil
}

// Unlock routes the session back to the bot. Optimistic with rollback,
// gated by the settle window like Lock.
func (m *SessionMonitor) Unlock(ctx context.Context) error {
	now := m.cli.clk.Now()
	m.mu.Lock()
	if m.settleActive(now) {
		m.mu.Unlock()
		return ErrActionPending
	}
	prev := m.captureLocked()
	m.route = api.RouteBot
	m.expiresAt = time.Time{}
	m.issuedAt = time.Time{}
	m.pendingUntil = now.Add(settleWindow)
	m.mu.Unlock()
	m.notify()

	if err := m.cli.Unlock(ctx, m.sessionID); err != nil {
		m.rollback(prev, err)
		return err
	}
	return nil
}

// Extend pushes the expiry out by extendHours (0 selects 4 hours) from
// max(currentExpiry, now), never past the maximum lease window from
// issuance. Extend is non-exclusive: it skips the settle window and may
// be issued mid-lease.
func (m *SessionMonitor) Extend(ctx context.Context, extendHours int) error {
	now := m.cli.clk.Now()
	hours := extendHours
	if hours <= 0 {
		hours = defaultExtendHours
	}
	m.mu.Lock()
	if m.route != api.RouteInbox {
		m.mu.Unlock()
		return ErrNotLocked
	}
	prev := m.captureLocked()
	base := m.expiresAt
	if base.Before(now) {
		base = now
	}
	next := base.Add(time.Duration(hours) * time.Hour)
	issued := m.issuedAt
	if issued.IsZero() {
		// Issuance unknown (lease adopted via reconciliation); anchor
		// the cap at now so the total window stays bounded.
		issued = now
	}
	if limit := issued.Add(maxLeaseHours * time.Hour); next.After(limit) {
		next = limit
	}
	m.expiresAt = next
	m.mu.Unlock()
	m.notify()

	// Forward the resolved duration so the optimistic expiry and the
	// webhook's extension agree even when the caller asked for the
	// default.
	if err := m.cli.Extend(ctx, m.sessionID, hours); err != nil {
		m.rollback(prev, err)
		return err
	}
	return nil
}

// Focus triggers an immediate reconciliation, mirroring a window-focus
// regain in the operator UI.
func (m *SessionMonitor) Focus(ctx context.Context) {
	m.Refresh(ctx)
}

// Refresh reads the authoritative state and overwrites the mirror.
// Remote wins wholesale; when both sides agree on RouteInbox and the
// expiries differ by no more than the skew tolerance the local expiry
// is kept to avoid countdown jitter.
func (m *SessionMonitor) Refresh(ctx context.Context) {
	st, err := m.cli.Status(ctx, m.sessionID)
	now := m.cli.clk.Now()
	m.mu.Lock()
	m.scheduleNextPollLocked(now)
	if err != nil {
		m.lastErr = err
		m.mu.Unlock()
		m.notify()
		return
	}
	m.lastSync = now
	m.lastErr = nil
	switch st.Route {
	case api.RouteInbox:
		remoteExpiry := time.Unix(st.ExpiresAt, 0)
		keepLocal := m.route == api.RouteInbox && absDuration(remoteExpiry.Sub(m.expiresAt)) <= expirySkewTolerance
		if !keepLocal {
			m.expiresAt = remoteExpiry
		}
		m.route = api.RouteInbox
	default:
		m.route = api.RouteBot
		m.expiresAt = time.Time{}
		m.issuedAt = time.Time{}
	}
	m.mu.Unlock()
	m.notify()
}

// Snapshot returns a copy of the current mirror state.
func (m *SessionMonitor) Snapshot() SessionState {
	now := m.cli.clk.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return SessionState{
		SessionID: m.sessionID,
		Route:     m.route,
		ExpiresAt: m.expiresAt,
		Pending:   m.settleActive(now),
		LastError: m.lastErr,
		LastSync:  m.lastSync,
	}
}

func (m *SessionMonitor) settleActive(now time.Time) bool {
	return !m.pendingUntil.IsZero() && now.Before(m.pendingUntil)
}

type capturedState struct {
	route     api.Route
	expiresAt time.Time
	issuedAt  time.Time
}

func (m *SessionMonitor) captureLocked() capturedState {
	return capturedState{route: m.route, expiresAt: m.expiresAt, issuedAt: m.issuedAt}
}

func (m *SessionMonitor) rollback(prev capturedState, cause error) {
	m.mu.Lock()
	m.route = prev.route
	m.expiresAt = prev.expiresAt
	m.issuedAt = prev.issuedAt
	m.pendingUntil = time.Time{}
	m.lastErr = cause
	m.mu.Unlock()
	m.notify()
}

func (m *SessionMonitor) scheduleNextPollLocked(now time.Time) {
	m.nextPollAt = now.Add(reconcileInterval)
}

func (m *SessionMonitor) notify() {
	if m.onChange == nil {
		return
	}
	m.onChange(m.Snapshot())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
