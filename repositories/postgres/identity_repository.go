package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/upb/authcore/models"
	"github.com/upb/authcore/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL error code for unique_violation
const uniqueViolation = "23505"

// IdentityRepository implements the repositories.IdentityRepository interface
type IdentityRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *DB, logger *zap.Logger) repositories.IdentityRepository {
	return &IdentityRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the identity row followed by one row per authority.
// Run it inside a transaction so a partial write cannot survive.
func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	query := `
		INSERT INTO identities (id, email, account_non_expired, account_non_locked,
			credentials_non_expired, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		identity.ID,
		nullString(identity.Email),
		identity.AccountNonExpired,
		identity.AccountNonLocked,
		identity.CredentialsNonExpired,
		identity.Enabled,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("identity %s: %w", identity.ID, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}

	authorityQuery := `
		INSERT INTO identity_authorities (identity_id, authority, position)
		VALUES ($1, $2, $3)
	`
	for i, authority := range identity.Authorities {
		if _, err := executor.ExecContext(ctx, authorityQuery, identity.ID, authority, i); err != nil {
			return fmt.Errorf("failed to grant authority %s: %w", authority, err)
		}
	}

	r.logger.Debug("identity created",
		zap.String("id", identity.ID),
		zap.Strings("authorities", identity.Authorities))
	return nil
}

// GetByID retrieves an identity by ID
func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	query := `
		SELECT id, email, account_non_expired, account_non_locked,
			credentials_non_expired, enabled, created_at, updated_at
		FROM identities
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	identity := &models.Identity{}
	var email sql.NullString

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&identity.ID,
		&email,
		&identity.AccountNonExpired,
		&identity.AccountNonLocked,
		&identity.CredentialsNonExpired,
		&identity.Enabled,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("identity %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	identity.Email = email.String

	authorities, err := r.getAuthorities(ctx, executor, id)
	if err != nil {
		return nil, err
	}
	identity.Authorities = authorities

	return identity, nil
}

func (r *IdentityRepository) getAuthorities(ctx context.Context, executor Executor, id string) ([]string, error) {
	query := `
		SELECT authority
		FROM identity_authorities
		WHERE identity_id = $1
		ORDER BY position
	`

	rows, err := executor.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get authorities: %w", err)
	}
	defer rows.Close()

	authorities := []string{}
	for rows.Next() {
		var authority string
		if err := rows.Scan(&authority); err != nil {
			return nil, fmt.Errorf("failed to scan authority: %w", err)
		}
		authorities = append(authorities, authority)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating authorities: %w", err)
	}

	return authorities, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
