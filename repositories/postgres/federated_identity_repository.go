package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/authcore/models"
	"github.com/upb/authcore/repositories"
	"go.uber.org/zap"
)

// FederatedIdentityRepository implements the repositories.FederatedIdentityRepository interface
type FederatedIdentityRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewFederatedIdentityRepository creates a new federated identity repository
func NewFederatedIdentityRepository(db *DB, logger *zap.Logger) repositories.FederatedIdentityRepository {
	return &FederatedIdentityRepository{
		db:     db,
		logger: logger,
	}
}

// Create links a provider account to a local identity
func (r *FederatedIdentityRepository) Create(ctx context.Context, link *models.FederatedIdentity) error {
	query := `
		INSERT INTO federated_identities (provider_id, external_subject, identity_id, created_at)
		VALUES ($1, $2, $3, $4)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		link.ProviderID,
		link.ExternalSubject,
		link.IdentityID,
		link.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("federated identity %s/%s: %w", link.ProviderID, link.ExternalSubject, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create federated identity: %w", err)
	}

	r.logger.Debug("federated identity linked",
		zap.String("provider", link.ProviderID),
		zap.String("identity_id", link.IdentityID))
	return nil
}

// GetBySubject retrieves the link for a provider account
func (r *FederatedIdentityRepository) GetBySubject(ctx context.Context, providerID, externalSubject string) (*models.FederatedIdentity, error) {
	query := `
		SELECT provider_id, external_subject, identity_id, created_at
		FROM federated_identities
		WHERE provider_id = $1 AND external_subject = $2
	`

	executor := GetExecutor(ctx, r.db)
	link := &models.FederatedIdentity{}

	err := executor.QueryRowContext(ctx, query, providerID, externalSubject).Scan(
		&link.ProviderID,
		&link.ExternalSubject,
		&link.IdentityID,
		&link.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("federated identity %s/%s: %w", providerID, externalSubject, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get federated identity: %w", err)
	}

	return link, nil
}
