package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authcore/models"
	"github.com/upb/authcore/repositories"
	"go.uber.org/zap"
)

// IdentityService resolves token subjects to identities and maps external
// logins onto local identities, creating them on first login.
type IdentityService struct {
	identities repositories.IdentityRepository
	links      repositories.FederatedIdentityRepository
	txManager  repositories.TransactionManager
	newID      func() string
	logger     *zap.Logger
}

// NewIdentityService creates a new IdentityService
func NewIdentityService(repos *repositories.Repositories, txManager repositories.TransactionManager, logger *zap.Logger) *IdentityService {
	return &IdentityService{
		identities: repos.Identities,
		links:      repos.FederatedIdentities,
		txManager:  txManager,
		newID:      uuid.NewString,
		logger:     logger,
	}
}

// LoadByIdentifier returns the identity whose ID is the given token subject.
// A missing identity yields an error matching ErrIdentityNotFound.
func (s *IdentityService) LoadByIdentifier(ctx context.Context, identifier string) (*models.Identity, error) {
	if identifier == "" {
		return nil, ErrEmptyIdentifier
	}

	identity, err := s.identities.GetByID(ctx, identifier)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, WrapError(ErrorTypeNotFound, "identity not found", err)
		}
		return nil, WrapInternal("failed to load identity", err)
	}
	return identity, nil
}

// Process returns the local identity linked to the external principal. On a
// first login it creates the identity and the link in one transaction.
func (s *IdentityService) Process(ctx context.Context, principal models.ExternalPrincipal, providerID string) (*models.Identity, error) {
	if providerID == "" {
		return nil, ErrEmptyProviderID
	}
	if principal.Subject == "" {
		return nil, ErrEmptySubject
	}

	identity, linked, err := s.findLinked(ctx, providerID, principal.Subject)
	if err != nil {
		return nil, err
	}
	if linked {
		return identity, nil
	}

	identity, err = WithTransactionResult(ctx, s.txManager, func(txCtx context.Context) (*models.Identity, error) {
		return s.register(txCtx, principal, providerID)
	})
	if err != nil {
		// A concurrent first login for the same account won the race
		if errors.Is(err, repositories.ErrDuplicate) {
			identity, linked, lookupErr := s.findLinked(ctx, providerID, principal.Subject)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if linked {
				return identity, nil
			}
			return nil, WrapError(ErrorTypeConflict, "external identity already registered", err)
		}
		return nil, WrapInternal("failed to register external identity", err)
	}

	s.logger.Info("identity registered from external login",
		zap.String("provider", providerID),
		zap.String("sub", identity.ID))
	return identity, nil
}

// findLinked reports linked=false when the provider account has no link yet
func (s *IdentityService) findLinked(ctx context.Context, providerID, subject string) (*models.Identity, bool, error) {
	link, err := s.links.GetBySubject(ctx, providerID, subject)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, WrapInternal("failed to look up federated identity", err)
	}

	identity, err := s.LoadByIdentifier(ctx, link.IdentityID)
	if err != nil {
		return nil, false, err
	}
	return identity, true, nil
}

func (s *IdentityService) register(ctx context.Context, principal models.ExternalPrincipal, providerID string) (*models.Identity, error) {
	identity := models.NewIdentity(s.newID(), models.DefaultAuthority)
	identity.Email = principal.Email

	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, err
	}

	link := &models.FederatedIdentity{
		ProviderID:      providerID,
		ExternalSubject: principal.Subject,
		IdentityID:      identity.ID,
		CreatedAt:       time.Now(),
	}
	if err := s.links.Create(ctx, link); err != nil {
		return nil, err
	}

	return identity, nil
}
