package middleware

import (
	"context"
	"sync"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/authcore/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// AuthenticationKey is the context key for the request's AuthenticationContext
	AuthenticationKey contextKey = "authentication"
)

// AuthenticationContext holds the identity resolved for a single request.
// It starts empty, is set at most once by the interceptor, and is cleared
// when the request leaves the interceptor, whatever the exit path.
type AuthenticationContext struct {
	mu          sync.RWMutex
	identity    *models.Identity
	authorities []string
	sealed      bool
}

// NewAuthenticatedContext returns a sealed AuthenticationContext holding
// identity, for callers that authenticate outside the interceptor.
func NewAuthenticatedContext(identity *models.Identity) *AuthenticationContext {
	a := &AuthenticationContext{}
	a.set(identity)
	a.mu.Lock()
	a.sealed = true
	a.mu.Unlock()
	return a
}

// Identity returns the authenticated identity, or nil.
func (a *AuthenticationContext) Identity() *models.Identity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity
}

// Authorities returns a copy of the granted authorities.
func (a *AuthenticationContext) Authorities() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.authorities))
	copy(out, a.authorities)
	return out
}

// IsAuthenticated reports whether an identity was established.
func (a *AuthenticationContext) IsAuthenticated() bool {
	return a.Identity() != nil
}

// set stores the identity. Later calls are ignored.
func (a *AuthenticationContext) set(identity *models.Identity) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed || identity == nil {
		return false
	}
	a.identity = identity
	a.authorities = append([]string(nil), identity.Authorities...)
	a.sealed = true
	return true
}

// clear drops the identity and prevents any further set.
func (a *AuthenticationContext) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identity = nil
	a.authorities = nil
	a.sealed = true
}

// GetRequestIDFromContext retrieves the request ID from context, falling
// back to the ID assigned by chi's RequestID middleware.
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetAuthenticationFromContext retrieves the AuthenticationContext, or nil
// when the interceptor has not run for this request.
func GetAuthenticationFromContext(ctx context.Context) *AuthenticationContext {
	if val := ctx.Value(AuthenticationKey); val != nil {
		if authCtx, ok := val.(*AuthenticationContext); ok {
			return authCtx
		}
	}
	return nil
}

// GetIdentityFromContext retrieves the authenticated identity, or nil.
func GetIdentityFromContext(ctx context.Context) *models.Identity {
	if authCtx := GetAuthenticationFromContext(ctx); authCtx != nil {
		return authCtx.Identity()
	}
	return nil
}

// WithAuthentication attaches an AuthenticationContext to the context
func WithAuthentication(ctx context.Context, authCtx *AuthenticationContext) context.Context {
	return context.WithValue(ctx, AuthenticationKey, authCtx)
}
