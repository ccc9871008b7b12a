package repositories

import (
	"context"
	"errors"

	"github.com/upb/authcore/models"
)

// ErrNotFound is returned by repositories when no row matches
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique constraint rejects an insert
var ErrDuplicate = errors.New("record already exists")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Commits if fn succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// IdentityRepository handles identity data operations
type IdentityRepository interface {
	// Create inserts the identity and its authorities
	Create(ctx context.Context, identity *models.Identity) error

	// GetByID retrieves an identity with its authorities
	GetByID(ctx context.Context, id string) (*models.Identity, error)
}

// FederatedIdentityRepository handles links between provider accounts and identities
type FederatedIdentityRepository interface {
	// Create inserts a new link
	Create(ctx context.Context, link *models.FederatedIdentity) error

	// GetBySubject retrieves the link for a provider account
	GetBySubject(ctx context.Context, providerID, externalSubject string) (*models.FederatedIdentity, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Identities          IdentityRepository
	FederatedIdentities FederatedIdentityRepository
}
