package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authcore/app"
	"github.com/upb/authcore/config"
	"github.com/upb/authcore/internal/observability"
	"github.com/upb/authcore/models"
	"github.com/upb/authcore/repositories/postgres"
	"go.uber.org/zap"
)

var identityColumns = []string{
	"id", "email", "account_non_expired", "account_non_locked",
	"credentials_non_expired", "enabled", "created_at", "updated_at",
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			AllowedOrigins: []string{"https://app.example.com"},
		},
		Auth: config.AuthConfig{
			SecretKey:    "0123456789abcdef0123456789abcdef",
			ExpirationMs: 3600000,
			TokenPrefix:  "Bearer ",
			HeaderString: "Authorization",
			Whitelist:    []string{"/healthz", "/readyz", "/metrics"},
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) (http.Handler, *app.Dependencies, sqlmock.Sqlmock) {
	t.Helper()
	logger := zap.NewNop()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg, reg)
	require.NoError(t, err)

	factory := postgres.NewRepositoryFactoryFromDB(postgres.Wrap(db, logger), logger)
	deps, err := app.NewDependenciesWithFactory(context.Background(), cfg, factory, metrics, logger)
	require.NoError(t, err)

	return SetupRoutes(deps), deps, mock
}

func expectIdentity(mock sqlmock.Sqlmock, id string) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM identities WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(identityColumns).
			AddRow(id, id+"@example.com", true, true, true, true, now, now))
	mock.ExpectQuery("SELECT authority FROM identity_authorities").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"authority"}).AddRow(models.DefaultAuthority))
}

func TestSetupRoutes_PublicEndpoints(t *testing.T) {
	router, _, mock := newTestRouter(t, testConfig())

	t.Run("healthz without a token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("readyz pings the database", func(t *testing.T) {
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("metrics exposes authentication outcomes", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "authcore_authentication_attempts_total")
		assert.Contains(t, w.Body.String(), `outcome="no_header"`)
	})

	t.Run("unknown route", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("login routes absent when oauth is disabled", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth2/authorization/github", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSetupRoutes_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.MetricsEnabled = false

	logger := zap.NewNop()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg, reg)
	require.NoError(t, err)

	factory := postgres.NewRepositoryFactoryFromDB(postgres.Wrap(db, logger), logger)
	deps, err := app.NewDependenciesWithFactory(context.Background(), cfg, factory, metrics, logger)
	require.NoError(t, err)
	router := SetupRoutes(deps)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	count, err := testutil.GatherAndCount(reg, "authcore_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSetupRoutes_CurrentIdentity(t *testing.T) {
	t.Run("rejects a request without a token", func(t *testing.T) {
		router, _, _ := newTestRouter(t, testConfig())

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("rejects a malformed token", func(t *testing.T) {
		router, _, mock := newTestRouter(t, testConfig())

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("serves the identity behind a valid token", func(t *testing.T) {
		router, deps, mock := newTestRouter(t, testConfig())

		tok, err := deps.Tokens.Issue(models.NewIdentity("u1", models.DefaultAuthority))
		require.NoError(t, err)

		// once for the interceptor, once for the handler
		expectIdentity(mock, "u1")
		expectIdentity(mock, "u1")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Data models.Identity `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "u1", response.Data.ID)
		assert.Equal(t, []string{models.DefaultAuthority}, response.Data.Authorities)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSetupRoutes_OAuthEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.EnableOAuth = true
	cfg.Auth.OAuth2RedirectURI = "https://app.example.com/oauth2/redirect"
	cfg.OAuth2.Providers = []config.OAuth2ProviderConfig{{
		ID:          "github",
		ClientID:    "client",
		AuthURL:     "https://github.com/login/oauth/authorize",
		TokenURL:    "https://github.com/login/oauth/access_token",
		UserInfoURL: "https://api.github.com/user",
		RedirectURL: "http://localhost:8080/login/oauth2/code/github",
	}}

	router, _, _ := newTestRouter(t, cfg)

	t.Run("authorization redirects to the provider", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth2/authorization/github", nil))

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "https://github.com/login/oauth/authorize")
	})

	t.Run("callback without state is rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login/oauth2/code/github?code=abc", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
