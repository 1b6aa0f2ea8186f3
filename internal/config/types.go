package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// SessionStoreKind selects the session storage backend
type SessionStoreKind string

const (
	SessionStoreMemory    SessionStoreKind = "memory"
	SessionStoreRedis     SessionStoreKind = "redis"
	SessionStoreFirestore SessionStoreKind = "firestore"
)

// IdentityConfig holds the identity provider client registration
type IdentityConfig struct {
	ClientID              string        `env:"CLIENT_ID"`
	ClientSecret          Secret        `env:"CLIENT_SECRET"`
	TenantID              string        `env:"TENANT_ID"`
	CloudInstance         string        `env:"CLOUD_INSTANCE" envDefault:"https://login.microsoftonline.com"`
	RedirectURI           string        `env:"REDIRECT_URI"`
	PostLogoutRedirectURI string        `env:"POST_LOGOUT_REDIRECT_URI"`
	ProviderTimeout       time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
}

// Authority returns the tenant-scoped authority URL, e.g.
// https://login.microsoftonline.com/<tenant>
func (c IdentityConfig) Authority() string {
	return strings.TrimRight(c.CloudInstance, "/") + "/" + c.TenantID
}

// SessionConfig configures server-side sessions and their backend
type SessionConfig struct {
	Secret              Secret           `env:"SESSION_SECRET"`
	TTL                 time.Duration    `env:"SESSION_TTL" envDefault:"24h"`
	Store               SessionStoreKind `env:"SESSION_STORE" envDefault:"memory"`
	RedisURL            Secret           `env:"REDIS_URL"`
	GCPProject          string           `env:"GCP_PROJECT"`
	FirestoreDatabase   string           `env:"FIRESTORE_DATABASE" envDefault:"(default)"`
	FirestoreCollection string           `env:"FIRESTORE_COLLECTION" envDefault:"docsite_sessions"`
	CleanupInterval     time.Duration    `env:"SESSION_CLEANUP_INTERVAL" envDefault:"10m"`
}

// RouteConfig holds the fixed options the /auth routes are mounted with
type RouteConfig struct {
	LoginScopes                 []string `env:"LOGIN_SCOPES" envSeparator:","`
	AcquireTokenScopes          []string `env:"ACQUIRE_TOKEN_SCOPES" envSeparator:"," envDefault:"User.Read"`
	AcquireTokenSuccessRedirect string   `env:"ACQUIRE_TOKEN_SUCCESS_REDIRECT" envDefault:"/user/profile"`
}

// Config represents the resolved process configuration
type Config struct {
	Port     int    `env:"PORT" envDefault:"3080"`
	Env      string `env:"DOCSITE_ENV" envDefault:"production"`
	Identity IdentityConfig
	Session  SessionConfig
	Routes   RouteConfig
}

// Addr returns the listen address
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
