// Package token issues and validates the signed bearer tokens handed out by
// authcore. Tokens are HS256 JWTs carrying sub, iat and exp and are never
// stored server-side.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/authcore/config"
	"github.com/upb/authcore/models"
)

var signingMethod = jwt.SigningMethodHS256

// Service issues and validates tokens. It is immutable after construction
// and safe for concurrent use.
type Service struct {
	secret     []byte
	ttl        time.Duration
	now        func() time.Time
	unverified *jwt.Parser
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for iat, exp and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a token service from the auth configuration. A secret
// shorter than config.MinSecretKeyBytes or a non-positive TTL is rejected.
func NewService(cfg config.AuthConfig, opts ...Option) (*Service, error) {
	if len(cfg.SecretKey) < config.MinSecretKeyBytes {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrWeakSecret, config.MinSecretKeyBytes, len(cfg.SecretKey))
	}
	if cfg.ExpirationMs <= 0 {
		return nil, fmt.Errorf("%w: %d ms", ErrInvalidTTL, cfg.ExpirationMs)
	}

	s := &Service{
		secret:     []byte(cfg.SecretKey),
		ttl:        cfg.TTL(),
		now:        time.Now,
		unverified: jwt.NewParser(jwt.WithoutClaimsValidation()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for the identity. iat is the current time to the
// millisecond and exp is exactly iat plus the configured TTL.
func (s *Service) Issue(identity *models.Identity) (string, error) {
	if identity == nil || identity.ID == "" {
		return "", ErrMissingSubject
	}

	issuedAt := newMillisDate(s.now())
	payload := &claims{
		Subject:   identity.ID,
		IssuedAt:  issuedAt,
		ExpiresAt: newMillisDate(issuedAt.Add(s.ttl)),
	}

	signed, err := jwt.NewWithClaims(signingMethod, payload).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ExtractSubject decodes the token without verifying its signature or expiry
// and returns the sub claim. It reports false for anything it cannot decode
// or when the subject is empty. A subject alone proves nothing; callers must
// still run IsValid against the identity it names.
func (s *Service) ExtractSubject(tokenString string) (string, bool) {
	payload := &claims{}
	if _, _, err := s.unverified.ParseUnverified(tokenString, payload); err != nil {
		return "", false
	}
	if payload.Subject == "" {
		return "", false
	}
	return payload.Subject, true
}

// IsValid reports whether the token is well formed, signed with the
// configured secret, not yet expired and issued for the given identity.
func (s *Service) IsValid(tokenString string, identity *models.Identity) bool {
	return s.Validate(tokenString, identity) == nil
}

// Validate performs the same check as IsValid but says why a token failed:
// ErrMalformedToken, ErrSignatureMismatch, ErrExpiredToken or
// ErrSubjectMismatch.
func (s *Service) Validate(tokenString string, identity *models.Identity) error {
	if identity == nil || identity.ID == "" {
		return ErrSubjectMismatch
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(identity.ID),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims{}, s.keyFunc)
	return classify(err)
}

func (s *Service) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return s.secret, nil
}
