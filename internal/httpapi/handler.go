// Package httpapi wires the gateway's HTTP endpoints: lease forwarding,
// outbound message sends, the Meta webhook and feature flags.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/api"
	"github.com/agendaautomatizada/whatsapp/internal/auth"
	"github.com/agendaautomatizada/whatsapp/internal/clock"
	"github.com/agendaautomatizada/whatsapp/internal/correlation"
	"github.com/agendaautomatizada/whatsapp/internal/settings"
	"github.com/agendaautomatizada/whatsapp/internal/svcfields"
	"github.com/agendaautomatizada/whatsapp/internal/uuidv7"
)

const headerCorrelationID = "X-Correlation-Id"

const (
	// DefaultWebhookTimeout bounds a single upstream webhook call. The
	// gateway never retries.
	DefaultWebhookTimeout = 15 * time.Second
	// DefaultGraphBaseURL is the WhatsApp Cloud API endpoint prefix.
	DefaultGraphBaseURL = "https://graph.facebook.com/v19.0"

	leaseBodyLimit   = 8 << 10
	messageBodyLimit = 64 << 10
	webhookBodyLimit = 256 << 10
	featureBodyLimit = 4 << 10
)

// Handler wires HTTP endpoints to the settings store and the upstream
// webhooks.
type Handler struct {
	store              settings.Store
	verifier           auth.Verifier
	upstream           *http.Client
	logger             pslog.Logger
	clock              clock.Clock
	tracer             trace.Tracer
	defaultTTLHours    int
	webhookTimeout     time.Duration
	graphBaseURL       string
	verifyToken        string
	defaultWebhookURL  string
	defaultWebhookAuth string
	httpTracingEnabled bool
	leaseRequests      *prometheus.CounterVec
}

// Config groups the dependencies required by Handler.
type Config struct {
	Store    settings.Store
	Verifier auth.Verifier
	Logger   pslog.Logger
	Clock    clock.Clock
	// Upstream is the HTTP client used for webhook forwards and Graph
	// API calls. A default client with DefaultWebhookTimeout is used
	// when nil.
	Upstream *http.Client
	// DefaultTTLHours applies to lock requests without an explicit TTL
	// when the operator has no default of their own.
	DefaultTTLHours int
	// WebhookTimeout bounds each upstream call.
	WebhookTimeout time.Duration
	// GraphBaseURL overrides the Graph API endpoint, for tests.
	GraphBaseURL string
	// VerifyToken is the shared secret Meta echoes during webhook
	// subscription handshakes.
	VerifyToken string
	// DefaultWebhookURL serves operators without a webhook of their own.
	DefaultWebhookURL string
	// DefaultWebhookAuth is the credential sent to DefaultWebhookURL.
	DefaultWebhookAuth string
	// DisableHTTPTracing turns off otel span creation per request.
	DisableHTTPTracing bool
	// Metrics receives the gateway's counters when non-nil.
	Metrics prometheus.Registerer
}

// New constructs a Handler using the supplied configuration.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	upstream := cfg.Upstream
	if upstream == nil {
		upstream = &http.Client{Timeout: timeout}
	}
	ttl := cfg.DefaultTTLHours
	if ttl <= 0 {
		ttl = api.DefaultTTLHours
	}
	graphBase := strings.TrimRight(cfg.GraphBaseURL, "/")
	if graphBase == "" {
		graphBase = DefaultGraphBaseURL
	}
	var leaseRequests *prometheus.CounterVec
	if cfg.Metrics != nil {
		leaseRequests = newLeaseCounter()
		if err := cfg.Metrics.Register(leaseRequests); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				leaseRequests = already.ExistingCollector.(*prometheus.CounterVec)
			} else {
				logger.Warn("httpapi.metrics.register_failed", "error", err)
				leaseRequests = nil
			}
		}
	}
	return &Handler{
		store:              cfg.Store,
		verifier:           cfg.Verifier,
		upstream:           upstream,
		logger:             logger,
		clock:              clk,
		tracer:             otel.Tracer("github.com/agendaautomatizada/whatsapp/httpapi"),
		defaultTTLHours:    ttl,
		webhookTimeout:     timeout,
		graphBaseURL:       graphBase,
		verifyToken:        cfg.VerifyToken,
		defaultWebhookURL:  strings.TrimSpace(cfg.DefaultWebhookURL),
		defaultWebhookAuth: cfg.DefaultWebhookAuth,
		httpTracingEnabled: !cfg.DisableHTTPTracing,
		leaseRequests:      leaseRequests,
	}
}

// Register wires the routes under /v1 and health endpoints.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/v1/lease", h.wrap("lease", h.handleLease))
	mux.Handle("/v1/lease/status", h.wrap("lease.status", h.handleLeaseStatus))
	mux.Handle("/v1/message/send", h.wrap("message.send", h.handleSendMessage))
	mux.Handle("/v1/webhook", h.wrap("webhook", h.handleWebhook))
	mux.Handle("/v1/feature", h.wrap("feature", h.handleFeature))
	mux.Handle("/v1/admin/feature", h.wrap("admin.feature", h.handleAdminFeature))
	mux.Handle("/healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("/readyz", h.wrap("readyz", h.handleReady))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := routerSys(operation)
	httpSpanName := "livechat.http." + operation
	txSpanName := "livechat.tx." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		reqID := uuidv7.NewString()
		instrument := h.httpTracingEnabled
		var span trace.Span
		if instrument {
			ctx, span = h.tracer.Start(ctx, txSpanName,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attribute.String("livechat.sys", sys)),
			)
			span.SetAttributes(
				attribute.String("livechat.operation", operation),
				attribute.String("livechat.route", r.URL.Path),
			)
			defer span.End()
		} else {
			span = trace.SpanFromContext(ctx)
		}

		ctx = correlation.Ensure(ctx)

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = pslog.ContextWithLogger(ctx, logger)

		if corr := strings.TrimSpace(r.Header.Get(headerCorrelationID)); corr != "" {
			if normalized, ok := correlation.Normalize(corr); ok {
				ctx = correlation.Set(ctx, normalized)
			}
		}
		if !correlation.Has(ctx) {
			ctx = correlation.Set(ctx, correlation.Generate())
		}
		ctx, logger = applyCorrelation(ctx, logger, span)

		r = r.WithContext(ctx)

		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)

		// Echo the correlation ID before the handler runs: once a handler
		// writes the response body, header mutations are lost.
		if corr := correlation.ID(ctx); corr != "" {
			w.Header().Set(headerCorrelationID, corr)
		}

		status := codes.Ok
		statusMsg := ""
		defer func() {
			if instrument {
				span.SetStatus(status, statusMsg)
				span.AddEvent("livechat.tx.end", trace.WithAttributes(
					attribute.Int64("livechat.duration_ms", time.Since(start).Milliseconds()),
				))
			}
		}()

		if err := fn(w, r); err != nil {
			status = codes.Error
			statusMsg = "handler_error"
			if instrument {
				span.RecordError(err)
				var httpErr httpError
				if errors.As(err, &httpErr) {
					span.SetAttributes(
						attribute.String("livechat.error_code", httpErr.Code),
						attribute.Int("livechat.error_status", httpErr.Status),
					)
				} else {
					span.SetAttributes(attribute.String("livechat.error_code", "internal"))
				}
			}
			logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
			h.handleError(r.Context(), w, err)
			return
		}
		logger.Trace("http.request.complete", "elapsed", time.Since(start))
	})

	if !h.httpTracingEnabled {
		return handler
	}
	return otelhttp.NewHandler(handler, httpSpanName,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

// requireOperator authenticates the request's bearer token and loads the
// matching operator settings.
func (h *Handler) requireOperator(r *http.Request) (*settings.Operator, error) {
	if h.verifier == nil {
		return nil, httpError{Status: http.StatusServiceUnavailable, Code: "auth_unavailable", Detail: "token verification not configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return nil, httpError{Status: http.StatusUnauthorized, Code: "missing_authorization", Detail: "Authorization header required"}
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, httpError{Status: http.StatusUnauthorized, Code: "invalid_authorization", Detail: "expected Bearer token"}
	}
	operatorID, err := h.verifier.Verify(strings.TrimSpace(token))
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return nil, httpError{Status: http.StatusUnauthorized, Code: "token_expired", Detail: "token expired"}
		}
		return nil, httpError{Status: http.StatusUnauthorized, Code: "invalid_token", Detail: "token rejected"}
	}
	op, err := h.store.Operator(r.Context(), operatorID)
	if errors.Is(err, settings.ErrNotFound) {
		// An authenticated operator without a settings row still gets
		// service: downstream handlers fall back to the gateway-wide
		// webhook URL, credential and TTL defaults.
		return &settings.Operator{ID: operatorID}, nil
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) error {
	// Readiness means the settings store answers queries.
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := h.store.Operator(ctx, "readyz-probe"); err != nil && !errors.Is(err, settings.ErrNotFound) {
		return httpError{Status: http.StatusServiceUnavailable, Code: "store_unavailable", Detail: "settings store not answering"}
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		h.writeJSON(w, httpErr.Status, api.ErrorResponse{
			OK:      false,
			Error:   httpErr.Code,
			Details: httpErr.Detail,
		}, nil)
		return
	}
	logger.Error("http.request.internal_error", "error", err)
	h.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		OK:    false,
		Error: "internal_error",
	}, nil)
}

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (h httpError) Error() string {
	if h.Detail != "" {
		return fmt.Sprintf("%s: %s", h.Code, h.Detail)
	}
	return h.Code
}
