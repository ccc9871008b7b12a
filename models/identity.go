package models

import "time"

// DefaultAuthority is granted to identities created through an external login.
const DefaultAuthority = "ROLE_USER"

// Identity is the authenticated principal behind a token. ID is the token
// subject and is unique within the system.
type Identity struct {
	ID          string   `json:"id" db:"id"`
	Email       string   `json:"email,omitempty" db:"email"`
	Authorities []string `json:"authorities"`

	AccountNonExpired     bool `json:"account_non_expired" db:"account_non_expired"`
	AccountNonLocked      bool `json:"account_non_locked" db:"account_non_locked"`
	CredentialsNonExpired bool `json:"credentials_non_expired" db:"credentials_non_expired"`
	Enabled               bool `json:"enabled" db:"enabled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Identity model
func (Identity) TableName() string {
	return "identities"
}

// NewIdentity returns an identity with every status flag set.
func NewIdentity(id string, authorities ...string) *Identity {
	now := time.Now()
	return &Identity{
		ID:                    id,
		Authorities:           authorities,
		AccountNonExpired:     true,
		AccountNonLocked:      true,
		CredentialsNonExpired: true,
		Enabled:               true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// IsActive reports whether none of the status flags disable the account.
func (i *Identity) IsActive() bool {
	return i.Enabled && i.AccountNonLocked && i.AccountNonExpired && i.CredentialsNonExpired
}

// HasAuthority checks if the identity was granted the given authority.
func (i *Identity) HasAuthority(authority string) bool {
	for _, a := range i.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}
