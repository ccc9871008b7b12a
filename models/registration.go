package models

import "time"

// ExternalPrincipal is the user as reported by an external login provider.
type ExternalPrincipal struct {
	// Subject is the provider's stable identifier for the user.
	Subject    string         `json:"sub"`
	Email      string         `json:"email,omitempty"`
	Name       string         `json:"name,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Attribute returns a string attribute, or "" when absent or not a string.
func (p ExternalPrincipal) Attribute(name string) string {
	if v, ok := p.Attributes[name].(string); ok {
		return v
	}
	return ""
}

// ProviderRegistration pairs a completed external login with the provider it
// came from. It only lives for the duration of one bridge call.
type ProviderRegistration struct {
	ProviderID string
	Principal  ExternalPrincipal
}

// FederatedIdentity links a provider account to a local identity.
type FederatedIdentity struct {
	ProviderID      string    `json:"provider_id" db:"provider_id"`
	ExternalSubject string    `json:"external_subject" db:"external_subject"`
	IdentityID      string    `json:"identity_id" db:"identity_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the FederatedIdentity model
func (FederatedIdentity) TableName() string {
	return "federated_identities"
}
