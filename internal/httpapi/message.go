package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/xid"
	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/api"
)

// graphTextMessage is the Cloud API payload for a plain text send.
type graphTextMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             graphTextBody `json:"text"`
}

type graphTextBody struct {
	Body string `json:"body"`
}

type graphSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// handleSendMessage relays a text message to the WhatsApp Cloud API using
// the calling operator's phone number and Graph token.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: POST"}
	}
	op, err := h.requireOperator(r)
	if err != nil {
		return err
	}
	var req api.SendMessageRequest
	if err := decodeRequest(r, &req, messageBodyLimit); err != nil {
		return err
	}
	if !ValidSessionID(req.To) {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_recipient", Detail: "to must be digits with an optional leading +"}
	}
	if strings.TrimSpace(req.Body) == "" {
		return httpError{Status: http.StatusBadRequest, Code: "empty_body", Detail: "message body required"}
	}
	if op.PhoneNumberID == "" || op.GraphToken == "" {
		return httpError{Status: http.StatusBadGateway, Code: "graph_unconfigured", Detail: "operator has no WhatsApp Cloud API credentials"}
	}

	logger := pslog.LoggerFromContext(r.Context())
	if logger == nil {
		logger = h.logger
	}
	messageID := xid.New().String()

	payload, err := json.Marshal(graphTextMessage{
		MessagingProduct: "whatsapp",
		To:               strings.TrimPrefix(req.To, "+"),
		Type:             "text",
		Text:             graphTextBody{Body: req.Body},
	})
	if err != nil {
		return fmt.Errorf("encode graph payload: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", h.graphBaseURL, op.PhoneNumberID)
	callCtx, cancel := context.WithTimeout(r.Context(), h.webhookTimeout)
	defer cancel()
	graphReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	graphReq.Header.Set("Content-Type", "application/json")
	graphReq.Header.Set("Authorization", "Bearer "+op.GraphToken)

	resp, err := h.upstream.Do(graphReq)
	if err != nil {
		logger.Warn("message.send.unreachable", "message_id", messageID, "error", err)
		return httpError{Status: http.StatusInternalServerError, Code: "graph_unreachable", Detail: "WhatsApp Cloud API did not answer"}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, webhookBodyLimit))
	if err != nil {
		return httpError{Status: http.StatusInternalServerError, Code: "graph_unreachable", Detail: "WhatsApp Cloud API response truncated"}
	}

	var graphResp graphSendResponse
	_ = json.Unmarshal(respBody, &graphResp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := bodySnippet(respBody)
		if graphResp.Error != nil && graphResp.Error.Message != "" {
			detail = graphResp.Error.Message
		}
		logger.Warn("message.send.graph_error", "message_id", messageID, "status", resp.StatusCode)
		return httpError{
			Status: resp.StatusCode,
			Code:   fmt.Sprintf("Graph error (HTTP %d)", resp.StatusCode),
			Detail: detail,
		}
	}

	out := api.SendMessageResponse{OK: true, MessageID: messageID}
	if len(graphResp.Messages) > 0 {
		out.WamID = graphResp.Messages[0].ID
	}
	logger.Info("message.send.accepted", "message_id", messageID, "wam_id", out.WamID)
	h.writeJSON(w, http.StatusOK, out, nil)
	return nil
}
