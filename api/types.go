// Package api defines the JSON wire types shared by the gateway and the
// client SDK.
package api

// Action enumerates the lease operations accepted by POST /v1/lease.
type Action string

const (
	// ActionLock routes a session to the human inbox for the lease TTL.
	ActionLock Action = "lock"
	// ActionUnlock returns a session to the bot immediately.
	ActionUnlock Action = "unlock"
	// ActionExtend pushes an existing lease expiry further into the future.
	ActionExtend Action = "extend"
	// ActionStatus reads the authoritative lease state without mutating it.
	ActionStatus Action = "status"
)

// Valid reports whether a is one of the mutating lease actions. Status is
// carried on its own endpoint and is deliberately excluded here.
func (a Action) Valid() bool {
	switch a {
	case ActionLock, ActionUnlock, ActionExtend:
		return true
	}
	return false
}

// Route identifies who currently handles a session's messages.
type Route string

const (
	// RouteBot means the automated responder handles the session.
	RouteBot Route = "bot"
	// RouteInbox means a human operator handles the session until expiry.
	RouteInbox Route = "inbox"
)

const (
	// MinTTLHours is the smallest lease duration a caller may request.
	MinTTLHours = 1
	// MaxTTLHours is the largest lease duration a caller may request.
	MaxTTLHours = 48
	// DefaultTTLHours applies when a lock request omits ttlHours.
	DefaultTTLHours = 24
)

// LeaseRequest models the JSON payload for POST /v1/lease.
type LeaseRequest struct {
	// SessionID is the conversation identifier, digits with an optional
	// leading plus sign.
	SessionID string `json:"sessionId"`
	// Action selects the lease operation: lock, unlock or extend.
	Action Action `json:"action"`
	// TTLHours is the requested lease duration in whole hours. Nil means
	// the operator's configured default; an explicit value, including
	// zero, must fall within [MinTTLHours, MaxTTLHours].
	TTLHours *int `json:"ttlHours,omitempty"`
}

// TTL wraps a lease duration for LeaseRequest.TTLHours.
func TTL(hours int) *int { return &hours }

// UpstreamLeaseRequest is the payload the gateway forwards to the
// operator's automation webhook. Field names follow the webhook contract,
// not the public API.
type UpstreamLeaseRequest struct {
	// SessionID is the conversation identifier.
	SessionID string `json:"session_id"`
	// Action is the lease operation or "status" for reads.
	Action Action `json:"action"`
	// TTLHours is the effective lease duration. Omitted for unlock and
	// status.
	TTLHours int `json:"ttl_hours,omitempty"`
}

// LeaseStatus describes the authoritative lease state for one session as
// reported by the automation webhook.
type LeaseStatus struct {
	// SessionID is the conversation identifier.
	SessionID string `json:"session_id"`
	// Route is who currently handles the session.
	Route Route `json:"route"`
	// ExpiresAt is the lease expiry as a Unix timestamp in seconds. Zero
	// when the session is routed to the bot.
	ExpiresAt int64 `json:"expires_at_unix,omitempty"`
}

// ErrorResponse is the canonical error envelope for API errors.
type ErrorResponse struct {
	// OK is always false in an error envelope.
	OK bool `json:"ok"`
	// Error is the stable error identifier or short message.
	Error string `json:"error"`
	// Details provides human-readable diagnostic context for the error.
	Details string `json:"details,omitempty"`
}

// SendMessageRequest models POST /v1/message/send.
type SendMessageRequest struct {
	// To is the destination phone number in E.164-ish digits form.
	To string `json:"to"`
	// Body is the text message body.
	Body string `json:"body"`
}

// SendMessageResponse acknowledges an accepted outbound message.
type SendMessageResponse struct {
	// OK is true when the Graph API accepted the message.
	OK bool `json:"ok"`
	// MessageID is the gateway-assigned identifier for this send.
	MessageID string `json:"message_id"`
	// WamID is the WhatsApp message identifier returned by the Graph API.
	WamID string `json:"wam_id,omitempty"`
}

// FeatureFlag models a named boolean feature toggle scoped to an operator.
type FeatureFlag struct {
	// Name identifies the feature.
	Name string `json:"name"`
	// Enabled is the current state of the flag.
	Enabled bool `json:"enabled"`
}

// FeatureFlags is returned by GET /v1/feature.
type FeatureFlags struct {
	// Flags holds every flag known for the calling operator.
	Flags []FeatureFlag `json:"flags"`
}

// WebhookEvent is the subset of the Meta webhook delivery envelope the
// gateway inspects before forwarding inbound traffic.
type WebhookEvent struct {
	// Object is the Graph API object type, "whatsapp_business_account"
	// for message deliveries.
	Object string `json:"object"`
	// Entry carries one element per business account in the delivery.
	Entry []WebhookEntry `json:"entry"`
}

// WebhookEntry is one business-account entry inside a webhook delivery.
type WebhookEntry struct {
	// ID is the WhatsApp business account identifier.
	ID string `json:"id"`
	// Changes lists the field changes included in this entry.
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange is a single changed field inside a webhook entry.
type WebhookChange struct {
	// Field names the changed field, "messages" for inbound messages.
	Field string `json:"field"`
	// Value is the raw change payload, forwarded as-is.
	Value map[string]any `json:"value"`
}
