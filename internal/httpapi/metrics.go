package httpapi

import "github.com/prometheus/client_golang/prometheus"

// newLeaseCounter builds the per-action lease request counter.
func newLeaseCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livechat",
		Subsystem: "gateway",
		Name:      "lease_requests_total",
		Help:      "Lease commands processed, labelled by action and outcome.",
	}, []string{"action", "result"})
}

// observeLease records a lease command outcome. No-op when metrics are
// not configured.
func (h *Handler) observeLease(action, result string) {
	if h.leaseRequests == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	h.leaseRequests.WithLabelValues(action, result).Inc()
}
