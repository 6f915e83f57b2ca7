package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/internal/correlation"
)

// correlationAppliedKey marks log enrichment to avoid duplicate correlation fields.
type correlationAppliedKey struct{}

var (
	// sessionIDPattern matches conversation identifiers: digits with an
	// optional leading plus sign.
	sessionIDPattern = regexp.MustCompile(`^\+?\d+$`)
	// authSchemePattern recognizes credentials that already carry their
	// own HTTP auth scheme. Scheme names are case-insensitive per RFC
	// 9110, so "bearer xyz" passes through as-is.
	authSchemePattern = regexp.MustCompile(`(?i)^(Bearer|Basic|Token)\s`)
	// featureNamePattern constrains feature flag names.
	featureNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// ValidSessionID reports whether id is an acceptable session identifier.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// authorizationValue normalizes a stored webhook credential into an
// Authorization header value. Credentials carrying their own scheme are
// passed through untouched; bare values are sent as Bearer.
func authorizationValue(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ""
	}
	if authSchemePattern.MatchString(credential) {
		return credential
	}
	return "Bearer " + credential
}

func routerSys(operation string) string {
	parts := strings.FieldsFunc(operation, func(r rune) bool {
		switch r {
		case '.', '/', '-', '_':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return "api.http.router"
	}
	return "api.http.router." + strings.Join(parts, ".")
}

func applyCorrelation(ctx context.Context, logger pslog.Logger, span trace.Span) (context.Context, pslog.Logger) {
	if id := correlation.ID(ctx); id != "" {
		if ctx.Value(correlationAppliedKey{}) == nil {
			logger = logger.With("cid", id)
			ctx = context.WithValue(ctx, correlationAppliedKey{}, struct{}{})
		} else if existing := pslog.LoggerFromContext(ctx); existing != nil {
			logger = existing
		}
		ctx = pslog.ContextWithLogger(ctx, logger)
		if span != nil {
			span.SetAttributes(attribute.String("livechat.correlation_id", id))
		}
	}
	return ctx, logger
}

type jsonDecodeOptions struct {
	allowEmpty       bool
	disallowUnknowns bool
}

func decodeJSONBody(body io.Reader, dst any, opts jsonDecodeOptions) error {
	if body == nil {
		if opts.allowEmpty {
			return nil
		}
		return io.EOF
	}
	dec := json.NewDecoder(body)
	if opts.disallowUnknowns {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if opts.allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unexpected trailing JSON value")
}

// decodeRequest reads and decodes a JSON request body, translating decode
// failures into the canonical bad-request envelope.
func decodeRequest(r *http.Request, dst any, limit int64) error {
	body := io.LimitReader(r.Body, limit)
	if err := decodeJSONBody(body, dst, jsonDecodeOptions{disallowUnknowns: true}); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: err.Error()}
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}
