package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/authcore/config"
	"github.com/upb/authcore/models"
	"github.com/upb/authcore/services"
	"github.com/upb/authcore/token"
	"github.com/upb/authcore/utils"
	"go.uber.org/zap"
)

// TokenVerifier decodes and checks bearer tokens
type TokenVerifier interface {
	// ExtractSubject reads the subject without verifying the token
	ExtractSubject(tokenString string) (string, bool)

	// Validate checks signature, expiry and subject binding
	Validate(tokenString string, identity *models.Identity) error
}

// IdentityProvider resolves a token subject to an application identity
type IdentityProvider interface {
	LoadByIdentifier(ctx context.Context, identifier string) (*models.Identity, error)
}

// OutcomeRecorder counts interception outcomes
type OutcomeRecorder interface {
	RecordAuthentication(outcome string)
}

// Outcome names the state an interception ended in
type Outcome string

const (
	OutcomeAuthenticated     Outcome = "authenticated"
	OutcomeNoHeader          Outcome = "no_header"
	OutcomeBadPrefix         Outcome = "bad_prefix"
	OutcomeMalformed         Outcome = "malformed"
	OutcomeIdentityNotFound  Outcome = "identity_not_found"
	OutcomeLookupFailed      Outcome = "lookup_failed"
	OutcomeExpired           Outcome = "expired"
	OutcomeSignatureMismatch Outcome = "signature_mismatch"
	OutcomeSubjectMismatch   Outcome = "subject_mismatch"
)

// AuthMiddleware turns bearer tokens into request-scoped identities
type AuthMiddleware struct {
	cfg        config.AuthConfig
	tokens     TokenVerifier
	identities IdentityProvider
	whitelist  *Whitelist
	recorder   OutcomeRecorder
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. recorder may be nil.
func NewAuthMiddleware(
	cfg config.AuthConfig,
	tokens TokenVerifier,
	identities IdentityProvider,
	recorder OutcomeRecorder,
	logger *zap.Logger,
) (*AuthMiddleware, error) {
	whitelist, err := NewWhitelist(cfg.Whitelist)
	if err != nil {
		return nil, err
	}
	return &AuthMiddleware{
		cfg:        cfg,
		tokens:     tokens,
		identities: identities,
		whitelist:  whitelist,
		recorder:   recorder,
		logger:     logger,
	}, nil
}

// Authenticate resolves the bearer token, if any, into an AuthenticationContext
// and always calls next. It never writes a response of its own.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		// Already evaluated for this request
		if GetAuthenticationFromContext(ctx) != nil {
			next.ServeHTTP(w, r)
			return
		}

		authCtx := &AuthenticationContext{}
		defer authCtx.clear()
		ctx = WithAuthentication(ctx, authCtx)

		identity, outcome, err := m.resolve(ctx, r)
		if identity != nil {
			authCtx.set(identity)
		}
		m.observe(ctx, outcome, identity, err)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuthenticated rejects requests that reach it without an identity,
// unless the path is whitelisted. Mount it after Authenticate.
func (m *AuthMiddleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.whitelist.Matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authCtx := GetAuthenticationFromContext(r.Context())
		if authCtx == nil || !authCtx.IsAuthenticated() {
			m.logger.Warn("unauthenticated request rejected",
				zap.String("request_id", GetRequestIDFromContext(r.Context())),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Whitelist returns the exempt path patterns
func (m *AuthMiddleware) Whitelist() *Whitelist {
	return m.whitelist
}

func (m *AuthMiddleware) resolve(ctx context.Context, r *http.Request) (*models.Identity, Outcome, error) {
	header := r.Header.Get(m.cfg.HeaderString)
	if header == "" {
		return nil, OutcomeNoHeader, nil
	}
	if !strings.HasPrefix(header, m.cfg.TokenPrefix) {
		return nil, OutcomeBadPrefix, nil
	}
	tokenString := strings.TrimSpace(header[len(m.cfg.TokenPrefix):])

	subject, ok := m.tokens.ExtractSubject(tokenString)
	if !ok {
		return nil, OutcomeMalformed, nil
	}

	identity, err := m.identities.LoadByIdentifier(ctx, subject)
	if err != nil {
		if services.IsNotFoundError(err) {
			return nil, OutcomeIdentityNotFound, err
		}
		return nil, OutcomeLookupFailed, err
	}
	if identity == nil {
		return nil, OutcomeIdentityNotFound, nil
	}

	if err := m.tokens.Validate(tokenString, identity); err != nil {
		return nil, validationOutcome(err), err
	}
	return identity, OutcomeAuthenticated, nil
}

func validationOutcome(err error) Outcome {
	switch {
	case errors.Is(err, token.ErrExpiredToken):
		return OutcomeExpired
	case errors.Is(err, token.ErrSignatureMismatch):
		return OutcomeSignatureMismatch
	case errors.Is(err, token.ErrSubjectMismatch):
		return OutcomeSubjectMismatch
	default:
		return OutcomeMalformed
	}
}

func (m *AuthMiddleware) observe(ctx context.Context, outcome Outcome, identity *models.Identity, err error) {
	if m.recorder != nil {
		m.recorder.RecordAuthentication(string(outcome))
	}

	fields := []zap.Field{
		zap.String("request_id", GetRequestIDFromContext(ctx)),
		zap.String("outcome", string(outcome)),
	}
	if identity != nil {
		fields = append(fields, zap.String("sub", identity.ID))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	if outcome == OutcomeLookupFailed {
		m.logger.Warn("identity lookup failed", fields...)
		return
	}
	m.logger.Debug("authentication evaluated", fields...)
}
