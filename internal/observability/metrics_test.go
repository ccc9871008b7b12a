package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, reg)
	require.NoError(t, err)
	return m
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg, reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg, reg)
	assert.Error(t, err)
}

func TestRecordAuthentication(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordAuthentication("authenticated")
	m.RecordAuthentication("authenticated")
	m.RecordAuthentication("expired")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authentications.WithLabelValues("authenticated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authentications.WithLabelValues("expired")))
}

func TestRecordOAuth2Login(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordOAuth2Login("google", "success")
	m.RecordOAuth2Login("github", "failure")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.oauth2Logins.WithLabelValues("google", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oauth2Logins.WithLabelValues("github", "failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.oauth2Logins.WithLabelValues("google", "failure")))
}

func TestMiddleware(t *testing.T) {
	m := newTestMetrics(t)

	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/login/oauth2/code/{provider}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	})
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, p := range []string{"/login/oauth2/code/google", "/login/oauth2/code/github", "/healthz"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/login/oauth2/code/{provider}", "3xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/healthz", "2xx")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestDuration))
}

func TestHandler(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordAuthentication("no_header")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `authcore_authentication_attempts_total{outcome="no_header"} 1`)
}
