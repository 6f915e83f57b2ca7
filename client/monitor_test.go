package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agendaautomatizada/whatsapp/api"
	"github.com/agendaautomatizada/whatsapp/internal/clock"
)

// fakeGateway serves /v1/lease and /v1/lease/status with scripted
// responses and counts calls per path.
type fakeGateway struct {
	mu          sync.Mutex
	status      api.LeaseStatus
	leaseStatus int
	leaseBody   string
	leaseCalls  int
	statusCalls int
	lastLease   api.LeaseRequest
}

func (f *fakeGateway) setStatus(st api.LeaseStatus) {
	f.mu.Lock()
	f.status = st
	f.mu.Unlock()
}

func (f *fakeGateway) failLease(status int, body string) {
	f.mu.Lock()
	f.leaseStatus = status
	f.leaseBody = body
	f.mu.Unlock()
}

func (f *fakeGateway) counts() (lease, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaseCalls, f.statusCalls
}

func (f *fakeGateway) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/lease":
			f.leaseCalls++
			_ = json.NewDecoder(r.Body).Decode(&f.lastLease)
			if f.leaseStatus != 0 {
				w.WriteHeader(f.leaseStatus)
				w.Write([]byte(f.leaseBody))
				return
			}
			w.Write([]byte(`{"ok":true}`))
		case "/v1/lease/status":
			f.statusCalls++
			_ = json.NewEncoder(w).Encode(f.status)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newMonitorFixture(t *testing.T) (*SessionMonitor, *fakeGateway, *clock.Manual) {
	t.Helper()
	gw := &fakeGateway{}
	gw.status = api.LeaseStatus{SessionID: "5511999887766", Route: api.RouteBot}
	ts := httptest.NewServer(gw.handler())
	t.Cleanup(ts.Close)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cli, err := New(ts.URL, WithToken("tok-1"), WithClock(clk))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewSessionMonitor(cli, "5511999887766"), gw, clk
}

func TestMonitorLockOptimisticTransition(t *testing.T) {
	m, gw, clk := newMonitorFixture(t)
	start := clk.Now()
	if err := m.Lock(context.Background(), 24); err != nil {
		t.Fatalf("lock: %v", err)
	}
	st := m.Snapshot()
	if st.Route != api.RouteInbox {
		t.Fatalf("route = %q, want inbox", st.Route)
	}
	if !st.ExpiresAt.Equal(start.Add(24 * time.Hour)) {
		t.Fatalf("expiry = %v, want %v", st.ExpiresAt, start.Add(24*time.Hour))
	}
	if !st.Pending {
		t.Fatal("expected settle window active after lock")
	}
	gw.mu.Lock()
	last := gw.lastLease
	gw.mu.Unlock()
	if last.Action != api.ActionLock || last.TTLHours == nil || *last.TTLHours != 24 {
		t.Fatalf("forwarded request = %+v", last)
	}
}

func TestMonitorSettleWindowBlocksSecondAction(t *testing.T) {
	m, gw, clk := newMonitorFixture(t)
	if err := m.Lock(context.Background(), 0); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := m.Unlock(context.Background()); !errors.Is(err, ErrActionPending) {
		t.Fatalf("unlock during settle window = %v, want ErrActionPending", err)
	}
	leaseCalls, _ := gw.counts()
	if leaseCalls != 1 {
		t.Fatalf("expected one forwarded lease call, got %d", leaseCalls)
	}

	// Window closes after 10s; the close performs a forced reconciliation.
	gw.setStatus(api.LeaseStatus{SessionID: "5511999887766", Route: api.RouteInbox, ExpiresAt: clk.Now().Add(24 * time.Hour).Unix()})
	clk.Advance(settleWindow)
	m.tick(context.Background())
	if st := m.Snapshot(); st.Pending {
		t.Fatal("settle window should have closed")
	}
	_, statusCalls := gw.counts()
	if statusCalls == 0 {
		t.Fatal("expected forced reconciliation at settle window close")
	}
	if err := m.Unlock(context.Background()); err != nil {
		t.Fatalf("unlock after window: %v", err)
	}
}

func TestMonitorLockRollbackOnFailure(t *testing.T) {
	m, gw, _ := newMonitorFixture(t)
	gw.failLease(http.StatusBadGateway, `{"ok":false,"error":"Webhook error (HTTP 502)"}`)
	err := m.Lock(context.Background(), 24)
	if err == nil {
		t.Fatal("expected lock failure")
	}
	st := m.Snapshot()
	if st.Route != api.RouteBot {
		t.Fatalf("route after rollback = %q, want bot", st.Route)
	}
	if !st.ExpiresAt.IsZero() {
		t.Fatalf("expiry after rollback = %v, want zero", st.ExpiresAt)
	}
	if st.Pending {
		t.Fatal("settle window should clear on failure")
	}
	if st.LastError == nil {
		t.Fatal("expected failure recorded in snapshot")
	}
}

func TestMonitorLocalExpiryWithoutNetwork(t *testing.T) {
	m, gw, clk := newMonitorFixture(t)
	gw.setStatus(api.LeaseStatus{SessionID: "5511999887766", Route: api.RouteInbox, ExpiresAt: clk.Now().Add(2 * time.Second).Unix()})
	m.Refresh(context.Background())
	if st := m.Snapshot(); st.Route != api.RouteInbox {
		t.Fatalf("route after reconcile = %q, want inbox", st.Route)
	}
	_, statusBefore := gw.counts()

	clk.Advance(2 * time.Second)
	m.tick(context.Background())
	st := m.Snapshot()
	if st.Route != api.RouteBot {
		t.Fatalf("route after countdown = %q, want bot", st.Route)
	}
	if !st.ExpiresAt.IsZero() {
		t.Fatalf("expiry after countdown = %v, want zero", st.ExpiresAt)
	}
	if _, statusAfter := gw.counts(); statusAfter != statusBefore {
		t.Fatal("local expiry must not require a network round trip")
	}
}

func TestMonitorReconcileRemoteWins(t *testing.T) {
	m, gw, clk := newMonitorFixture(t)
	if err := m.Lock(context.Background(), 24); err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Remote disagrees: the engine still routes to the bot.
	gw.setStatus(api.LeaseStatus{SessionID: "5511999887766", Route: api.RouteBot})
	m.Refresh(context.Background())
	st := m.Snapshot()
	if st.Route != api.RouteBot {
		t.Fatalf("route after reconcile = %q, want bot (remote wins)", st.Route)
	}
	if !st.ExpiresAt.IsZero() {
		t.Fatalf("expiry after reconcile = %v, want zero", st.ExpiresAt)
	}
	_ = clk
}

func TestMonitorReconcileExpirySkewTolerance(t *testing.T) {
	m, gw, clk := newMonitorFixture(t)
	if err := m.Lock(context.Background(), 24); err != nil {
		t.Fatalf("lock: %v", err)
	}
	localExpiry := m.Snapshot().ExpiresAt

	// Remote expiry within tolerance: keep local to avoid jitter.
	gw.setStatus(api.LeaseStatus{SessionID: "5511999887766", Route: api.RouteInbox, ExpiresAt: localExpiry.Add(3 * time.Second).Unix()})
	m.Refresh(context.Background())
	if st := m.Snapshot(); !st.ExpiresAt.Equal(localExpiry) {
		t.Fatalf("expiry = %v, want local %v kept within skew tolerance", st.ExpiresAt, localExpiry)
	}

	// Remote expiry far off: adopt it.
	remote := localExpiry.Add(2 * time.Hour)
	gw.setStatus(api.LeaseStatus{SessionID: "5511999887766", Route: api.RouteInbox, ExpiresAt: remote.Unix()})
	m.Refresh(context.Background())
	if st := m.Snapshot(); !st.ExpiresAt.Equal(remote) {
		t.Fatalf("expiry = %v, want remote %v adopted", st.ExpiresAt, remote)
	}
	_ = clk
}

func TestMonitorExtendComputesExpiry(t *testing.T) {
	m, gw, clk := newMonitorFixture(t)
	if err := m.Lock(context.Background(), 2); err != nil {
		t.Fatalf("lock: %v", err)
	}
	start := clk.Now()
	if err := m.Extend(context.Background(), 0); err != nil {
		t.Fatalf("extend: %v", err)
	}
	want := start.Add((2 + defaultExtendHours) * time.Hour)
	if st := m.Snapshot(); !st.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", st.ExpiresAt, want)
	}
	gw.mu.Lock()
	last := gw.lastLease
	gw.mu.Unlock()
	if last.Action != api.ActionExtend {
		t.Fatalf("forwarded action = %q", last.Action)
	}
	if last.TTLHours == nil || *last.TTLHours != defaultExtendHours {
		t.Fatalf("forwarded ttlHours = %v, want resolved default %d", last.TTLHours, defaultExtendHours)
	}
}

func TestMonitorExtendClampsToMaxWindow(t *testing.T) {
	m, _, clk := newMonitorFixture(t)
	if err := m.Lock(context.Background(), 47); err != nil {
		t.Fatalf("lock: %v", err)
	}
	issued := clk.Now()
	if err := m.Extend(context.Background(), 4); err != nil {
		t.Fatalf("extend: %v", err)
	}
	want := issued.Add(maxLeaseHours * time.Hour)
	if st := m.Snapshot(); !st.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want clamp at %v", st.ExpiresAt, want)
	}
}

func TestMonitorExtendFromLapsedExpiryUsesNow(t *testing.T) {
	m, gw, clk := newMonitorFixture(t)
	gw.setStatus(api.LeaseStatus{SessionID: "5511999887766", Route: api.RouteInbox, ExpiresAt: clk.Now().Add(30 * time.Minute).Unix()})
	m.Refresh(context.Background())

	// Let the lease lapse locally less than a tick ago, then extend.
	clk.Advance(31 * time.Minute)
	now := clk.Now()
	if err := m.Extend(context.Background(), 4); err != nil {
		t.Fatalf("extend: %v", err)
	}
	want := now.Add(4 * time.Hour)
	if st := m.Snapshot(); !st.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v (anchored at now)", st.ExpiresAt, want)
	}
}

func TestMonitorExtendRequiresInboxRoute(t *testing.T) {
	m, _, _ := newMonitorFixture(t)
	if err := m.Extend(context.Background(), 4); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("extend on bot route = %v, want ErrNotLocked", err)
	}
}

func TestMonitorExtendRollbackOnFailure(t *testing.T) {
	m, gw, _ := newMonitorFixture(t)
	if err := m.Lock(context.Background(), 24); err != nil {
		t.Fatalf("lock: %v", err)
	}
	before := m.Snapshot().ExpiresAt
	gw.failLease(http.StatusInternalServerError, `{"ok":false,"error":"webhook_unreachable"}`)
	if err := m.Extend(context.Background(), 4); err == nil {
		t.Fatal("expected extend failure")
	}
	st := m.Snapshot()
	if !st.ExpiresAt.Equal(before) {
		t.Fatalf("expiry = %v, want rollback to %v", st.ExpiresAt, before)
	}
	if st.Route != api.RouteInbox {
		t.Fatalf("route = %q, want inbox preserved", st.Route)
	}
}

func TestMonitorPeriodicReconcile(t *testing.T) {
	m, gw, clk := newMonitorFixture(t)
	m.Refresh(context.Background())
	_, before := gw.counts()

	clk.Advance(reconcileInterval)
	m.tick(context.Background())
	if _, after := gw.counts(); after != before+1 {
		t.Fatalf("expected one periodic reconciliation, got %d calls", after-before)
	}

	// A fresh reconciliation pushes the next poll out again.
	clk.Advance(time.Second)
	m.tick(context.Background())
	if _, after := gw.counts(); after != before+1 {
		t.Fatal("poll fired again before its interval elapsed")
	}
}

func TestMonitorChangeCallback(t *testing.T) {
	gw := &fakeGateway{status: api.LeaseStatus{SessionID: "5511999887766", Route: api.RouteBot}}
	ts := httptest.NewServer(gw.handler())
	defer ts.Close()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cli, err := New(ts.URL, WithToken("tok-1"), WithClock(clk))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	var mu sync.Mutex
	var routes []api.Route
	m := NewSessionMonitor(cli, "5511999887766", WithOnChange(func(st SessionState) {
		mu.Lock()
		routes = append(routes, st.Route)
		mu.Unlock()
	}))
	if err := m.Lock(context.Background(), 24); err != nil {
		t.Fatalf("lock: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(routes) == 0 || routes[0] != api.RouteInbox {
		t.Fatalf("expected inbox notification after optimistic lock, got %v", routes)
	}
}

func TestMonitorStartStop(t *testing.T) {
	m, gw, _ := newMonitorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Fatal("expected error on double start")
	}
	if _, statusCalls := gw.counts(); statusCalls == 0 {
		t.Fatal("expected reconciliation on start")
	}
	if st := m.Snapshot(); st.LastSync.IsZero() {
		t.Fatal("expected last sync recorded after start")
	}
	m.Stop()
	m.Stop()
}
