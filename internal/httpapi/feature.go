package httpapi

import (
	"net/http"
	"strings"

	"pkt.systems/pslog"

	"github.com/agendaautomatizada/whatsapp/api"
)

// handleFeature returns the calling operator's feature flags.
func (h *Handler) handleFeature(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: GET"}
	}
	op, err := h.requireOperator(r)
	if err != nil {
		return err
	}
	flags, err := h.store.Features(r.Context(), op.ID)
	if err != nil {
		return err
	}
	if flags == nil {
		flags = []api.FeatureFlag{}
	}
	h.writeJSON(w, http.StatusOK, api.FeatureFlags{Flags: flags}, nil)
	return nil
}

type adminFeatureRequest struct {
	// OperatorID targets another operator's flags. Empty means the
	// caller's own.
	OperatorID string `json:"operator_id,omitempty"`
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
}

// handleAdminFeature toggles a feature flag. Admin role required.
func (h *Handler) handleAdminFeature(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		return httpError{Status: http.StatusMethodNotAllowed, Code: "method_not_allowed", Detail: "supported methods: POST"}
	}
	op, err := h.requireOperator(r)
	if err != nil {
		return err
	}
	if !op.Admin() {
		return httpError{Status: http.StatusForbidden, Code: "admin_required", Detail: "feature flags can only be changed by admins"}
	}
	var req adminFeatureRequest
	if err := decodeRequest(r, &req, featureBodyLimit); err != nil {
		return err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return httpError{Status: http.StatusBadRequest, Code: "missing_name", Detail: "feature name required"}
	}
	if !featureNamePattern.MatchString(name) {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_name", Detail: "feature name must match [a-z0-9_]+"}
	}
	target := strings.TrimSpace(req.OperatorID)
	if target == "" {
		target = op.ID
	}
	if err := h.store.SetFeature(r.Context(), target, name, req.Enabled); err != nil {
		return err
	}
	logger := pslog.LoggerFromContext(r.Context())
	if logger == nil {
		logger = h.logger
	}
	logger.Info("feature.set", "operator", target, "feature", name, "enabled", req.Enabled)
	h.writeJSON(w, http.StatusOK, api.FeatureFlag{Name: name, Enabled: req.Enabled}, nil)
	return nil
}
