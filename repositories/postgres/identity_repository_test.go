package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authcore/models"
	"github.com/upb/authcore/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, zap.NewNop()), mock
}

var identityColumns = []string{
	"id", "email", "account_non_expired", "account_non_locked",
	"credentials_non_expired", "enabled", "created_at", "updated_at",
}

func TestIdentityRepository_Create(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("inserts identity and authorities in order", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdentityRepository(db, zap.NewNop())

		identity := models.NewIdentity("u1", "ROLE_USER", "ROLE_ADMIN")
		identity.Email = "u1@example.com"
		identity.CreatedAt, identity.UpdatedAt = now, now

		mock.ExpectExec("INSERT INTO identities").
			WithArgs("u1", "u1@example.com", true, true, true, true, now, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO identity_authorities").
			WithArgs("u1", "ROLE_USER", 0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO identity_authorities").
			WithArgs("u1", "ROLE_ADMIN", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Create(ctx, identity))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate id maps to ErrDuplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdentityRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO identities").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

		err := repo.Create(ctx, models.NewIdentity("u1"))
		assert.ErrorIs(t, err, repositories.ErrDuplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("authority insert failure is returned", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdentityRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO identities").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO identity_authorities").WillReturnError(errors.New("disk full"))

		err := repo.Create(ctx, models.NewIdentity("u1", "ROLE_USER"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ROLE_USER")
	})
}

func TestIdentityRepository_GetByID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("loads identity with authorities", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdentityRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM identities WHERE id = \\$1").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(identityColumns).
				AddRow("u1", "u1@example.com", true, false, true, true, now, now))
		mock.ExpectQuery("SELECT authority FROM identity_authorities").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"authority"}).
				AddRow("ROLE_USER").
				AddRow("ROLE_ADMIN"))

		identity, err := repo.GetByID(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", identity.ID)
		assert.Equal(t, "u1@example.com", identity.Email)
		assert.False(t, identity.AccountNonLocked)
		assert.False(t, identity.IsActive())
		assert.Equal(t, []string{"ROLE_USER", "ROLE_ADMIN"}, identity.Authorities)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("null email and no authorities", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdentityRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM identities").
			WillReturnRows(sqlmock.NewRows(identityColumns).
				AddRow("u2", nil, true, true, true, true, now, now))
		mock.ExpectQuery("SELECT authority").
			WillReturnRows(sqlmock.NewRows([]string{"authority"}))

		identity, err := repo.GetByID(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, identity.Email)
		assert.NotNil(t, identity.Authorities)
		assert.Empty(t, identity.Authorities)
	})

	t.Run("missing row maps to ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdentityRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM identities").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByID(ctx, "ghost")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	t.Run("query failure is not ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewIdentityRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM identities").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.GetByID(ctx, "u1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestFederatedIdentityRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("create", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewFederatedIdentityRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO federated_identities").
			WithArgs("google", "g-123", "u1", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Create(ctx, &models.FederatedIdentity{
			ProviderID:      "google",
			ExternalSubject: "g-123",
			IdentityID:      "u1",
			CreatedAt:       now,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create duplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewFederatedIdentityRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO federated_identities").
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.Create(ctx, &models.FederatedIdentity{ProviderID: "google", ExternalSubject: "g-123"})
		assert.ErrorIs(t, err, repositories.ErrDuplicate)
	})

	t.Run("get by subject", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewFederatedIdentityRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM federated_identities").
			WithArgs("google", "g-123").
			WillReturnRows(sqlmock.NewRows([]string{"provider_id", "external_subject", "identity_id", "created_at"}).
				AddRow("google", "g-123", "u1", now))

		link, err := repo.GetBySubject(ctx, "google", "g-123")
		require.NoError(t, err)
		assert.Equal(t, "u1", link.IdentityID)
	})

	t.Run("get by subject not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewFederatedIdentityRepository(db, zap.NewNop())

		mock.ExpectQuery("SELECT (.+) FROM federated_identities").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetBySubject(ctx, "github", "42")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}
