package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/api"
	"github.com/agendaautomatizada/whatsapp/internal/correlation"
	"github.com/agendaautomatizada/whatsapp/internal/settings"
)

// handleLease validates a lease command and forwards it to the operator's
// automation webhook. The webhook owns lease state; the gateway never
// stores routing decisions and never retries.
func (h *Handler) handleLease(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: POST"}
	}
	op, err := h.requireOperator(r)
	if err != nil {
		h.observeLease("", "denied")
		return err
	}
	var req api.LeaseRequest
	if err := decodeRequest(r, &req, leaseBodyLimit); err != nil {
		h.observeLease("", "invalid")
		return err
	}
	if !ValidSessionID(req.SessionID) {
		h.observeLease(string(req.Action), "invalid")
		return httpError{Status: http.StatusBadRequest, Code: "invalid_session_id", Detail: "sessionId must be digits with an optional leading +"}
	}
	if !req.Action.Valid() {
		h.observeLease(string(req.Action), "invalid")
		return httpError{Status: http.StatusBadRequest, Code: "invalid_action", Detail: "action must be lock, unlock or extend"}
	}
	ttl, err := h.effectiveTTL(req.TTLHours, op)
	if err != nil {
		h.observeLease(string(req.Action), "invalid")
		return err
	}
	upstream := api.UpstreamLeaseRequest{
		SessionID: req.SessionID,
		Action:    req.Action,
		TTLHours:  ttl,
	}
	if req.Action == api.ActionUnlock {
		upstream.TTLHours = 0
	}
	err = h.forwardLease(r.Context(), w, op, upstream)
	if err != nil {
		h.observeLease(string(req.Action), "error")
		return err
	}
	h.observeLease(string(req.Action), "ok")
	return nil
}

// handleLeaseStatus forwards an authoritative-state read to the webhook.
// The gateway stays stateless; reconciliation truth always comes from the
// automation side.
func (h *Handler) handleLeaseStatus(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: POST"}
	}
	op, err := h.requireOperator(r)
	if err != nil {
		return err
	}
	var req api.LeaseRequest
	if err := decodeRequest(r, &req, leaseBodyLimit); err != nil {
		return err
	}
	if !ValidSessionID(req.SessionID) {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_session_id", Detail: "sessionId must be digits with an optional leading +"}
	}
	return h.forwardLease(r.Context(), w, op, api.UpstreamLeaseRequest{
		SessionID: req.SessionID,
		Action:    api.ActionStatus,
	})
}

// effectiveTTL resolves the lease duration for a request: explicit value
// first, then the operator default, then the gateway default. Explicit
// values outside [MinTTLHours, MaxTTLHours] are rejected rather than
// clamped, and an explicit zero counts as out of range rather than as an
// omitted field.
func (h *Handler) effectiveTTL(requested *int, op *settings.Operator) (int, error) {
	if requested != nil {
		if *requested < api.MinTTLHours || *requested > api.MaxTTLHours {
			return 0, httpError{
				Status: http.StatusBadRequest,
				Code:   "invalid_ttl",
				Detail: fmt.Sprintf("ttlHours must be between %d and %d", api.MinTTLHours, api.MaxTTLHours),
			}
		}
		return *requested, nil
	}
	if op != nil && op.DefaultTTLHours > 0 {
		return op.DefaultTTLHours, nil
	}
	return h.defaultTTLHours, nil
}

// forwardLease performs a single bounded call to the operator's webhook
// and relays the response. A reachable webhook answers for itself: non-2xx
// statuses and ok:false bodies surface as error envelopes, anything else
// is copied back to the caller verbatim.
func (h *Handler) forwardLease(ctx context.Context, w http.ResponseWriter, op *settings.Operator, payload api.UpstreamLeaseRequest) error {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	url := strings.TrimSpace(op.WebhookURL)
	credential := op.WebhookAuth
	if url == "" {
		url = h.defaultWebhookURL
		credential = h.defaultWebhookAuth
	}
	if url == "" {
		return httpError{Status: http.StatusBadGateway, Code: "webhook_unconfigured", Detail: "operator has no automation webhook configured"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode upstream payload: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, h.webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authz := authorizationValue(credential); authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if corr := correlation.ID(ctx); corr != "" {
		req.Header.Set(headerCorrelationID, corr)
	}

	resp, err := h.upstream.Do(req)
	if err != nil {
		logger.Warn("lease.forward.unreachable",
			"session_id", payload.SessionID,
			"action", string(payload.Action),
			"error", err,
		)
		return httpError{Status: http.StatusInternalServerError, Code: "webhook_unreachable", Detail: "automation webhook did not answer"}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, webhookBodyLimit))
	if err != nil {
		return httpError{Status: http.StatusInternalServerError, Code: "webhook_unreachable", Detail: "automation webhook response truncated"}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("lease.forward.upstream_error",
			"session_id", payload.SessionID,
			"action", string(payload.Action),
			"status", resp.StatusCode,
		)
		return httpError{
			Status: resp.StatusCode,
			Code:   fmt.Sprintf("Webhook error (HTTP %d)", resp.StatusCode),
			Detail: bodySnippet(respBody),
		}
	}
	if code, detail, rejected := upstreamRejection(respBody); rejected {
		logger.Warn("lease.forward.rejected",
			"session_id", payload.SessionID,
			"action", string(payload.Action),
			"error", code,
		)
		return httpError{Status: http.StatusInternalServerError, Code: code, Detail: detail}
	}

	logger.Debug("lease.forward.ok",
		"session_id", payload.SessionID,
		"action", string(payload.Action),
		"status", resp.StatusCode,
	)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
	return nil
}

// upstreamRejection detects webhook bodies that report failure inside a
// 2xx response, the `{"ok": false, ...}` convention.
func upstreamRejection(body []byte) (code, detail string, rejected bool) {
	var envelope struct {
		OK      *bool  `json:"ok"`
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", "", false
	}
	if envelope.OK == nil || *envelope.OK {
		return "", "", false
	}
	code = envelope.Error
	if code == "" {
		code = "webhook_rejected"
	}
	return code, envelope.Details, true
}

func bodySnippet(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
