package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/api"
	"github.com/agendaautomatizada/whatsapp/internal/settings"
)

// handleWebhook serves the Meta webhook: GET performs the subscription
// handshake, POST accepts message deliveries. Meta authenticates with the
// verify token, not an operator bearer token.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) error {
	switch r.Method {
	case http.MethodGet:
		return h.handleWebhookVerify(w, r)
	case http.MethodPost:
		return h.handleWebhookDelivery(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: GET, POST"}
	}
}

func (h *Handler) handleWebhookVerify(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")
	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		return httpError{Status: http.StatusForbidden, Code: "verification_failed", Detail: "verify token mismatch"}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
	return nil
}

// handleWebhookDelivery acks inbound deliveries and relays each message
// change to the owning operator's inbound URL. Meta expects a prompt 200;
// relay failures are logged, never surfaced.
func (h *Handler) handleWebhookDelivery(w http.ResponseWriter, r *http.Request) error {
	logger := pslog.LoggerFromContext(r.Context())
	if logger == nil {
		logger = h.logger
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: "unreadable delivery"}
	}
	var event api.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_body", Detail: "delivery is not valid JSON"}
	}
	if event.Object != "whatsapp_business_account" {
		logger.Debug("webhook.delivery.ignored", "object", event.Object)
		w.WriteHeader(http.StatusOK)
		return nil
	}
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			h.relayInbound(r.Context(), logger, change)
		}
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) relayInbound(ctx context.Context, logger pslog.Logger, change api.WebhookChange) {
	phoneNumberID := phoneNumberIDFromChange(change)
	if phoneNumberID == "" {
		logger.Warn("webhook.relay.no_phone_number_id")
		return
	}
	op, err := h.store.OperatorByPhone(ctx, phoneNumberID)
	if errors.Is(err, settings.ErrNotFound) {
		logger.Warn("webhook.relay.unknown_phone", "phone_number_id", phoneNumberID)
		return
	}
	if err != nil {
		logger.Error("webhook.relay.lookup_failed", "phone_number_id", phoneNumberID, "error", err)
		return
	}
	if strings.TrimSpace(op.InboundURL) == "" {
		logger.Debug("webhook.relay.disabled", "operator", op.ID)
		return
	}
	payload, err := json.Marshal(change.Value)
	if err != nil {
		logger.Error("webhook.relay.encode_failed", "operator", op.ID, "error", err)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, h.webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, op.InboundURL, bytes.NewReader(payload))
	if err != nil {
		logger.Error("webhook.relay.request_failed", "operator", op.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if authz := authorizationValue(op.WebhookAuth); authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := h.upstream.Do(req)
	if err != nil {
		logger.Warn("webhook.relay.unreachable", "operator", op.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, webhookBodyLimit))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn("webhook.relay.rejected", "operator", op.ID, "status", resp.StatusCode)
		return
	}
	logger.Debug("webhook.relay.ok", "operator", op.ID, "phone_number_id", phoneNumberID)
}

// phoneNumberIDFromChange pulls metadata.phone_number_id out of a raw
// change value.
func phoneNumberIDFromChange(change api.WebhookChange) string {
	metadata, ok := change.Value["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := metadata["phone_number_id"].(string)
	return id
}
