// Package settings persists per-operator gateway configuration: where to
// forward lease commands, WhatsApp Cloud API credentials and feature
// flags.
package settings

import (
	"context"
	"errors"
	"time"

	"github.com/agendaautomatizada/whatsapp/api"
)

// ErrNotFound is returned when no settings row exists for an operator.
var ErrNotFound = errors.New("settings: operator not found")

// Roles an operator account can hold. Admin unlocks the feature-flag
// mutation endpoint.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Operator holds everything the gateway needs to act on behalf of one
// operator account.
type Operator struct {
	// ID is the operator account identifier, matching the JWT subject.
	ID string
	// WebhookURL is the automation webhook that owns lease state.
	WebhookURL string
	// WebhookAuth is the credential forwarded to the webhook. It may
	// carry its own scheme prefix (Bearer, Basic or Token); bare values
	// are sent as Bearer.
	WebhookAuth string
	// DefaultTTLHours overrides the gateway-wide lease default when
	// positive.
	DefaultTTLHours int
	// InboundURL receives inbound WhatsApp messages relayed from the
	// Meta webhook. Empty disables relaying for this operator.
	InboundURL string
	// PhoneNumberID is the WhatsApp Cloud API phone number identifier
	// used for outbound sends.
	PhoneNumberID string
	// GraphToken authenticates outbound calls to the Graph API.
	GraphToken string
	// Role is the operator's privilege level, RoleOperator or RoleAdmin.
	Role string
	// UpdatedAt is the last modification time of this record.
	UpdatedAt time.Time
}

// Admin reports whether the operator may mutate feature flags.
func (o *Operator) Admin() bool {
	return o != nil && o.Role == RoleAdmin
}

// Store is the persistence interface the HTTP layer consumes.
type Store interface {
	// Operator loads the settings for one operator account. Returns
	// ErrNotFound when the account is unknown.
	Operator(ctx context.Context, id string) (*Operator, error)
	// OperatorByPhone resolves the operator owning a WhatsApp phone
	// number ID. Returns ErrNotFound when no operator claims it.
	OperatorByPhone(ctx context.Context, phoneNumberID string) (*Operator, error)
	// PutOperator inserts or replaces an operator record.
	PutOperator(ctx context.Context, op *Operator) error
	// Features lists every feature flag recorded for an operator.
	Features(ctx context.Context, operatorID string) ([]api.FeatureFlag, error)
	// SetFeature inserts or updates a single feature flag.
	SetFeature(ctx context.Context, operatorID, name string, enabled bool) error
	// Close releases the underlying resources.
	Close() error
}
