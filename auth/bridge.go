package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/upb/authcore/config"
	"github.com/upb/authcore/models"
	"github.com/upb/authcore/utils"
	"go.uber.org/zap"
)

// TokenQueryParam carries the issued token on the post-login redirect
const TokenQueryParam = "token"

// Login results reported to the LoginRecorder
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// OAuth2Processor maps an externally authenticated principal to a local identity
type OAuth2Processor interface {
	Process(ctx context.Context, principal models.ExternalPrincipal, providerID string) (*models.Identity, error)
}

// TokenIssuer issues bearer tokens for identities
type TokenIssuer interface {
	Issue(identity *models.Identity) (string, error)
}

// FailureHandler writes the response for a failed login
type FailureHandler interface {
	HandleAuthenticationFailure(w http.ResponseWriter, r *http.Request, err error)
}

// FailureHandlerFunc adapts a function to FailureHandler
type FailureHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)

// HandleAuthenticationFailure calls f(w, r, err)
func (f FailureHandlerFunc) HandleAuthenticationFailure(w http.ResponseWriter, r *http.Request, err error) {
	f(w, r, err)
}

// LoginRecorder counts external login results
type LoginRecorder interface {
	RecordOAuth2Login(provider, result string)
}

// Bridge turns a completed external login into a locally issued token and
// hands it to the client through a redirect.
type Bridge struct {
	processor   OAuth2Processor
	issuer      TokenIssuer
	failure     FailureHandler
	redirectURI *url.URL
	recorder    LoginRecorder
	logger      *zap.Logger
}

// NewBridge creates a new Bridge. failure and recorder may be nil; a nil
// failure handler answers 401.
func NewBridge(
	cfg config.AuthConfig,
	processor OAuth2Processor,
	issuer TokenIssuer,
	failure FailureHandler,
	recorder LoginRecorder,
	logger *zap.Logger,
) (*Bridge, error) {
	redirectURI, err := url.Parse(cfg.OAuth2RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid oauth2 redirect URI: %w", err)
	}
	if cfg.OAuth2RedirectURI == "" {
		return nil, fmt.Errorf("oauth2 redirect URI is required")
	}
	if failure == nil {
		failure = UnauthorizedFailureHandler(logger)
	}
	return &Bridge{
		processor:   processor,
		issuer:      issuer,
		failure:     failure,
		redirectURI: redirectURI,
		recorder:    recorder,
		logger:      logger,
	}, nil
}

// OnAuthenticationSuccess resolves the identity behind the registration,
// issues a token for it and redirects to the configured URI with the token
// in the query string. Any failure goes to the failure handler, once.
func (b *Bridge) OnAuthenticationSuccess(w http.ResponseWriter, r *http.Request, reg models.ProviderRegistration) {
	identity, err := b.processor.Process(r.Context(), reg.Principal, reg.ProviderID)
	if err != nil {
		b.fail(w, r, reg.ProviderID, fmt.Errorf("resolve identity: %w", err))
		return
	}
	if identity == nil {
		b.fail(w, r, reg.ProviderID, fmt.Errorf("resolve identity: processor returned no identity"))
		return
	}

	tok, err := b.issuer.Issue(identity)
	if err != nil {
		b.fail(w, r, reg.ProviderID, fmt.Errorf("issue token: %w", err))
		return
	}

	b.record(reg.ProviderID, LoginSuccess)
	b.logger.Info("external login bridged",
		zap.String("provider", reg.ProviderID),
		zap.String("sub", identity.ID))

	http.Redirect(w, r, b.redirectWithToken(tok), http.StatusFound)
}

// Fail reports a login that broke before the bridge could run
func (b *Bridge) Fail(w http.ResponseWriter, r *http.Request, providerID string, err error) {
	b.fail(w, r, providerID, err)
}

func (b *Bridge) fail(w http.ResponseWriter, r *http.Request, providerID string, err error) {
	b.record(providerID, LoginFailure)
	b.failure.HandleAuthenticationFailure(w, r, err)
}

func (b *Bridge) record(providerID, result string) {
	if b.recorder != nil {
		b.recorder.RecordOAuth2Login(providerID, result)
	}
}

func (b *Bridge) redirectWithToken(tok string) string {
	target := *b.redirectURI
	query := target.Query()
	query.Set(TokenQueryParam, tok)
	target.RawQuery = query.Encode()
	return target.String()
}

// UnauthorizedFailureHandler logs the failure and answers 401 without
// exposing the cause to the client.
func UnauthorizedFailureHandler(logger *zap.Logger) FailureHandler {
	return FailureHandlerFunc(func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("external login failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
	})
}
