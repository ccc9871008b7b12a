package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-chi/chi/v5"
	"github.com/upb/authcore/config"
	"github.com/upb/authcore/models"
	"github.com/upb/authcore/utils"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName   = "oauth_state"
	stateCookieMaxAge = 600

	// ProviderURLParam is the chi route parameter naming the provider
	ProviderURLParam = "provider"

	maxUserInfoBytes = 1 << 20
)

var defaultOIDCScopes = []string{oidc.ScopeOpenID, "email", "profile"}

// provider is one configured login provider
type provider struct {
	id          string
	oauth       oauth2.Config
	verifier    *oidc.IDTokenVerifier
	userInfoURL string
}

// Handler drives the OAuth2 authorization code flow for every configured
// provider and hands completed logins to the Bridge.
type Handler struct {
	providers  map[string]*provider
	bridge     *Bridge
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithHTTPClient sets the client used for discovery, code exchange and userinfo
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		h.httpClient = client
	}
}

// NewHandler builds a provider entry per configuration. OIDC providers are
// discovered from their issuer; ctx must outlive the handler because ID token
// key sets are refreshed with it.
func NewHandler(ctx context.Context, cfg config.OAuth2Config, bridge *Bridge, logger *zap.Logger, opts ...Option) (*Handler, error) {
	h := &Handler{
		providers: make(map[string]*provider, len(cfg.Providers)),
		bridge:    bridge,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	for _, pc := range cfg.Providers {
		p, err := h.newProvider(ctx, pc)
		if err != nil {
			return nil, err
		}
		h.providers[pc.ID] = p
		logger.Info("oauth2 provider configured",
			zap.String("provider", pc.ID),
			zap.Bool("oidc", p.verifier != nil))
	}

	return h, nil
}

func (h *Handler) newProvider(ctx context.Context, pc config.OAuth2ProviderConfig) (*provider, error) {
	p := &provider{
		id: pc.ID,
		oauth: oauth2.Config{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  pc.RedirectURL,
			Scopes:       pc.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  pc.AuthURL,
				TokenURL: pc.TokenURL,
			},
		},
		userInfoURL: pc.UserInfoURL,
	}

	if !pc.IsOIDC() {
		return p, nil
	}

	discovered, err := oidc.NewProvider(h.clientContext(ctx), pc.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s failed: %w", pc.ID, err)
	}
	endpoint := discovered.Endpoint()
	if p.oauth.Endpoint.AuthURL == "" {
		p.oauth.Endpoint.AuthURL = endpoint.AuthURL
	}
	if p.oauth.Endpoint.TokenURL == "" {
		p.oauth.Endpoint.TokenURL = endpoint.TokenURL
	}
	if len(p.oauth.Scopes) == 0 {
		p.oauth.Scopes = defaultOIDCScopes
	}
	p.verifier = discovered.Verifier(&oidc.Config{ClientID: pc.ClientID})

	return p, nil
}

// HandleAuthorize starts a login: it stores a fresh state in a cookie and
// redirects to the provider's authorization endpoint.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	http.SetCookie(w, h.stateCookie(p, state, stateCookieMaxAge))
	http.Redirect(w, r, p.oauth.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback completes a login: it checks the state, exchanges the code,
// resolves the external principal and passes it to the Bridge.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		h.bridge.Fail(w, r, p.id, fmt.Errorf("provider returned %s: %s", providerErr, query.Get("error_description")))
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	http.SetCookie(w, h.stateCookie(p, "", -1))

	ctx := h.clientContext(r.Context())

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		h.bridge.Fail(w, r, p.id, fmt.Errorf("code exchange: %w", err))
		return
	}

	principal, err := h.resolvePrincipal(ctx, p, tok)
	if err != nil {
		h.bridge.Fail(w, r, p.id, err)
		return
	}

	h.bridge.OnAuthenticationSuccess(w, r, models.ProviderRegistration{
		ProviderID: p.id,
		Principal:  principal,
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*provider, bool) {
	id := chi.URLParam(r, ProviderURLParam)
	p, ok := h.providers[id]
	if !ok {
		h.logger.Debug("unknown oauth2 provider", zap.String("provider", id))
		_ = utils.WriteNotFound(w, "Unknown login provider")
		return nil, false
	}
	return p, true
}

func (h *Handler) stateCookie(p *provider, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(p.oauth.RedirectURL, "https"),
		SameSite: http.SameSiteLaxMode,
	}
}

// clientContext makes oauth2 and oidc use the configured HTTP client
func (h *Handler) clientContext(ctx context.Context) context.Context {
	if h.httpClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, h.httpClient)
}

func (h *Handler) resolvePrincipal(ctx context.Context, p *provider, tok *oauth2.Token) (models.ExternalPrincipal, error) {
	if p.verifier != nil {
		return h.principalFromIDToken(ctx, p, tok)
	}
	return h.principalFromUserInfo(ctx, p, tok)
}

func (h *Handler) principalFromIDToken(ctx context.Context, p *provider, tok *oauth2.Token) (models.ExternalPrincipal, error) {
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return models.ExternalPrincipal{}, errors.New("token response carries no id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return models.ExternalPrincipal{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return models.ExternalPrincipal{}, fmt.Errorf("decode id_token claims: %w", err)
	}

	principal := principalFromClaims(claims)
	principal.Subject = idToken.Subject
	return principal, nil
}

func (h *Handler) principalFromUserInfo(ctx context.Context, p *provider, tok *oauth2.Token) (models.ExternalPrincipal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return models.ExternalPrincipal{}, fmt.Errorf("create userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return models.ExternalPrincipal{}, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ExternalPrincipal{}, fmt.Errorf("userinfo request failed: status %d", resp.StatusCode)
	}

	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes))
	decoder.UseNumber()
	var claims map[string]any
	if err := decoder.Decode(&claims); err != nil {
		return models.ExternalPrincipal{}, fmt.Errorf("decode userinfo: %w", err)
	}

	principal := principalFromClaims(claims)
	if principal.Subject == "" {
		return models.ExternalPrincipal{}, errors.New("userinfo carries no subject")
	}
	return principal, nil
}

// principalFromClaims reads sub (or id), email and name (or login)
func principalFromClaims(claims map[string]any) models.ExternalPrincipal {
	return models.ExternalPrincipal{
		Subject:    firstString(claims, "sub", "id"),
		Email:      firstString(claims, "email"),
		Name:       firstString(claims, "name", "login"),
		Attributes: claims,
	}
}

func firstString(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
