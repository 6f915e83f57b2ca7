package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/internal/auth"
	"github.com/agendaautomatizada/whatsapp/internal/clock"
	"github.com/agendaautomatizada/whatsapp/internal/httpapi"
	"github.com/agendaautomatizada/whatsapp/internal/settings"
)

// Server hosts the lease gateway HTTP API plus its optional telemetry
// listeners. Construct with NewServer and run with Start.
type Server struct {
	cfg      Config
	logger   pslog.Logger
	clock    clock.Clock
	store    settings.Store
	ownStore bool
	verifier auth.Verifier
	handler  *httpapi.Handler
	mux      *http.ServeMux

	telemetry *telemetryBundle

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	readyCh  chan struct{}
	started  bool
	closed   bool
}

// Option customizes Server construction.
type Option func(*Server)

// WithLogger sets the logger used by the server and all subsystems.
func WithLogger(logger pslog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithStore injects a settings store, bypassing the configured SQLite
// path. The caller retains ownership and must close it.
func WithStore(store settings.Store) Option {
	return func(s *Server) {
		if store != nil {
			s.store = store
		}
	}
}

// WithVerifier injects a token verifier, bypassing the configured
// JWT secret and static token table.
func WithVerifier(v auth.Verifier) Option {
	return func(s *Server) {
		if v != nil {
			s.verifier = v
		}
	}
}

// NewServer validates cfg and assembles the gateway. Telemetry
// listeners (metrics, pprof, OTLP export) are started here when
// configured; the API listener starts in Start.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		logger:  pslog.NoopLogger(),
		clock:   clock.Real{},
		readyCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := pslog.ContextWithLogger(context.Background(), s.logger)

	if s.store == nil {
		if strings.TrimSpace(cfg.SettingsPath) != "" {
			store, err := settings.OpenSQLite(cfg.SettingsPath, s.logger)
			if err != nil {
				return nil, fmt.Errorf("open settings store: %w", err)
			}
			s.store = store
		} else {
			s.store = settings.NewMemory()
		}
		s.ownStore = true
	}

	if s.verifier == nil {
		if strings.TrimSpace(cfg.JWTSecret) != "" {
			s.verifier = auth.NewJWT([]byte(cfg.JWTSecret))
		} else {
			s.verifier = auth.Static(cfg.StaticTokens)
		}
	}

	telemetry, err := setupTelemetry(ctx, cfg.OTLPEndpoint, cfg.MetricsListen, cfg.PprofListen, cfg.EnableProfilingMetrics, s.logger)
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.telemetry = telemetry

	handler := httpapi.New(httpapi.Config{
		Store:              s.store,
		Verifier:           s.verifier,
		Logger:             s.logger,
		Clock:              s.clock,
		DefaultTTLHours:    cfg.DefaultTTLHours,
		WebhookTimeout:     cfg.WebhookTimeout,
		GraphBaseURL:       cfg.GraphBaseURL,
		VerifyToken:        cfg.VerifyToken,
		DefaultWebhookURL:  cfg.DefaultWebhookURL,
		DefaultWebhookAuth: cfg.DefaultWebhookAuth,
		DisableHTTPTracing: cfg.DisableHTTPTracing,
		Metrics:            telemetry.Registerer(),
	})
	s.handler = handler

	mux := http.NewServeMux()
	handler.Register(mux)
	s.mux = mux

	return s, nil
}

// Handler returns the assembled HTTP handler. Useful for embedding the
// gateway in an existing server or for httptest.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured address and serves until ctx is
// canceled or Shutdown is called. It blocks.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	if s.closed {
		s.mu.Unlock()
		return errors.New("server closed")
	}
	s.started = true

	ln, err := s.listen()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.listener = ln
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpSrv = srv
	close(s.readyCh)
	s.mu.Unlock()

	s.logger.Info("server.listening", "addr", ln.Addr().String(), "proto", s.cfg.ListenProto)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) listen() (net.Listener, error) {
	proto := s.cfg.ListenProto
	addr := s.cfg.Listen
	if proto == "unix" {
		// A stale socket from an unclean shutdown blocks bind; remove
		// it when nothing is listening on the other side.
		if _, err := os.Stat(addr); err == nil {
			if conn, dialErr := net.DialTimeout("unix", addr, time.Second); dialErr == nil {
				conn.Close()
				return nil, fmt.Errorf("listen unix %s: socket in use", addr)
			}
			if err := os.Remove(addr); err != nil {
				return nil, fmt.Errorf("listen unix %s: remove stale socket: %w", addr, err)
			}
		}
	}
	ln, err := net.Listen(proto, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", proto, addr, err)
	}
	return ln, nil
}

// WaitUntilReady blocks until the API listener is bound or ctx expires.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr reports the bound address once Start has bound the
// listener, or "" before that.
func (s *Server) ListenerAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the API listener, telemetry listeners and
// the settings store. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpSrv
	ln := s.listener
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if ln != nil {
		_ = ln.Close()
		if s.cfg.ListenProto == "unix" {
			_ = os.Remove(s.cfg.Listen)
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.closeStore(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("server.shutdown.complete")
	return nil
}

func (s *Server) closeStore() error {
	if !s.ownStore || s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	if err != nil {
		return fmt.Errorf("close settings store: %w", err)
	}
	return nil
}
