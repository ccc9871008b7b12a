package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/authcore/utils"
)

// MinSecretKeyBytes is the minimum signing secret length (256 bits).
const MinSecretKeyBytes = 32

const (
	defaultTokenPrefix  = "Bearer "
	defaultHeaderString = "Authorization"
	defaultExpirationMs = int64(3600000)
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Auth          AuthConfig
	OAuth2        OAuth2Config
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// AuthConfig holds the token settings shared by the interceptor, the token
// service and the OAuth2 bridge. It is never mutated after New returns.
type AuthConfig struct {
	// SecretKey signs and verifies tokens. At least MinSecretKeyBytes long.
	SecretKey string `validate:"required"`

	// ExpirationMs is the token time-to-live in milliseconds.
	ExpirationMs int64 `validate:"gt=0"`

	// RefreshExpirationMs is reserved for a refresh flow and currently unused.
	RefreshExpirationMs int64 `validate:"gte=0"`

	// TokenPrefix precedes the token in the auth header (usually "Bearer ").
	TokenPrefix string `validate:"required"`

	// HeaderString names the header carrying the token.
	HeaderString string `validate:"required"`

	// Whitelist lists path patterns that do not require authentication.
	Whitelist []string

	EnableOAuth       bool
	OAuth2RedirectURI string `validate:"omitempty,url"`
}

// TTL returns ExpirationMs as a duration.
func (a AuthConfig) TTL() time.Duration {
	return time.Duration(a.ExpirationMs) * time.Millisecond
}

// String hides the secret so the config can be logged.
func (a AuthConfig) String() string {
	return fmt.Sprintf("AuthConfig{SecretKey:[REDACTED] ExpirationMs:%d TokenPrefix:%q HeaderString:%q Whitelist:%v EnableOAuth:%t OAuth2RedirectURI:%q}",
		a.ExpirationMs, a.TokenPrefix, a.HeaderString, a.Whitelist, a.EnableOAuth, a.OAuth2RedirectURI)
}

// OAuth2Config holds the external login providers.
type OAuth2Config struct {
	Providers []OAuth2ProviderConfig
}

// OAuth2ProviderConfig describes one external login provider. When Issuer is
// set the provider is discovered via OIDC; otherwise AuthURL, TokenURL and
// UserInfoURL must be given.
type OAuth2ProviderConfig struct {
	ID           string `validate:"required"`
	ClientID     string `validate:"required"`
	ClientSecret string
	Issuer       string `validate:"omitempty,url"`
	AuthURL      string `validate:"omitempty,url"`
	TokenURL     string `validate:"omitempty,url"`
	UserInfoURL  string `validate:"omitempty,url"`
	RedirectURL  string `validate:"required,url"`
	Scopes       []string
}

// IsOIDC reports whether the provider uses OIDC discovery.
func (p OAuth2ProviderConfig) IsOIDC() bool {
	return p.Issuer != ""
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or console
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
		},
		Database: loadDatabaseConfig(),
		Auth: AuthConfig{
			SecretKey:           getEnv("AUTH_SECRET_KEY", ""),
			ExpirationMs:        getEnvAsInt64("AUTH_EXPIRATION_MS", defaultExpirationMs),
			RefreshExpirationMs: getEnvAsInt64("AUTH_REFRESH_EXPIRATION_MS", 0),
			TokenPrefix:         getEnv("AUTH_TOKEN_PREFIX", defaultTokenPrefix),
			HeaderString:        getEnv("AUTH_HEADER_STRING", defaultHeaderString),
			Whitelist:           getEnvAsList("AUTH_WHITELIST", nil),
			EnableOAuth:         getEnvAsBool("AUTH_ENABLE_OAUTH", false),
			OAuth2RedirectURI:   getEnv("AUTH_OAUTH2_REDIRECT_URI", ""),
		},
		OAuth2: loadOAuth2Config(),
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if err := c.Auth.Validate(); err != nil {
		return err
	}

	if c.Auth.EnableOAuth {
		if c.IsProduction() && !strings.HasPrefix(c.Auth.OAuth2RedirectURI, "https://") {
			return fmt.Errorf("oauth2 redirect URI must use https in production")
		}
		if len(c.OAuth2.Providers) == 0 {
			return fmt.Errorf("oauth enabled but no providers configured: set OAUTH2_PROVIDERS")
		}
		for _, p := range c.OAuth2.Providers {
			if err := p.Validate(); err != nil {
				return err
			}
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// Validate checks the token settings. A short or missing secret is fatal.
func (a AuthConfig) Validate() error {
	if err := utils.ValidateStruct(a); err != nil {
		return fmt.Errorf("invalid auth configuration: %s", formatFields(err))
	}
	if len(a.SecretKey) < MinSecretKeyBytes {
		return fmt.Errorf("auth secret key must be at least %d bytes, got %d", MinSecretKeyBytes, len(a.SecretKey))
	}
	if a.EnableOAuth && a.OAuth2RedirectURI == "" {
		return fmt.Errorf("oauth2 redirect URI is required when oauth is enabled")
	}
	return nil
}

// Validate checks a single provider definition.
func (p OAuth2ProviderConfig) Validate() error {
	if err := utils.ValidateStruct(p); err != nil {
		return fmt.Errorf("invalid oauth2 provider %q: %s", p.ID, formatFields(err))
	}
	if p.IsOIDC() {
		return nil
	}
	if p.AuthURL == "" || p.TokenURL == "" || p.UserInfoURL == "" {
		return fmt.Errorf("oauth2 provider %q needs an issuer or auth, token and userinfo URLs", p.ID)
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "authcore"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadOAuth2Config reads OAUTH2_PROVIDERS and the OAUTH2_<ID>_* variables of
// each listed provider.
func loadOAuth2Config() OAuth2Config {
	var cfg OAuth2Config
	for _, id := range getEnvAsList("OAUTH2_PROVIDERS", nil) {
		prefix := "OAUTH2_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_"
		cfg.Providers = append(cfg.Providers, OAuth2ProviderConfig{
			ID:           id,
			ClientID:     getEnv(prefix+"CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
			Issuer:       getEnv(prefix+"ISSUER", ""),
			AuthURL:      getEnv(prefix+"AUTH_URL", ""),
			TokenURL:     getEnv(prefix+"TOKEN_URL", ""),
			UserInfoURL:  getEnv(prefix+"USERINFO_URL", ""),
			RedirectURL:  getEnv(prefix+"REDIRECT_URL", ""),
			Scopes:       getEnvAsList(prefix+"SCOPES", nil),
		})
	}
	return cfg
}

// formatFields flattens validator field errors into one line.
func formatFields(err error) string {
	fields := utils.GetValidationFields(err)
	if len(fields) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(fields))
	for _, msg := range fields {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, keeping order and dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
