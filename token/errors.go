package token

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when the token cannot be decoded
	ErrMalformedToken = errors.New("malformed token")

	// ErrExpiredToken is returned when the current time is not before exp
	ErrExpiredToken = errors.New("token expired")

	// ErrSignatureMismatch is returned when the signature does not verify
	ErrSignatureMismatch = errors.New("token signature mismatch")

	// ErrSubjectMismatch is returned when sub differs from the identity checked against
	ErrSubjectMismatch = errors.New("token subject mismatch")

	// ErrMissingSubject is returned when issuing for an identity without an ID
	ErrMissingSubject = errors.New("identity has no subject")

	// ErrWeakSecret is returned when the signing secret is shorter than 256 bits
	ErrWeakSecret = errors.New("signing secret too short")

	// ErrInvalidTTL is returned when the token time-to-live is not positive
	ErrInvalidTTL = errors.New("token ttl must be positive")
)

// classify maps jwt parser errors onto the package sentinels. Signature
// problems are checked before claims because claims are only validated once
// the signature holds.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenInvalidSubject):
		return fmt.Errorf("%w: %v", ErrSubjectMismatch, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
