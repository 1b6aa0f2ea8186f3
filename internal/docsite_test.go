package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgellow/docsite/internal/config"
	"github.com/dgellow/docsite/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		Port: 3080,
		Env:  "production",
		Identity: config.IdentityConfig{
			ClientID:        "client-123",
			ClientSecret:    "client-secret",
			TenantID:        "tenant-abc",
			CloudInstance:   "https://login.example.com",
			RedirectURI:     "http://localhost:3080/auth/redirect",
			ProviderTimeout: time.Second,
		},
		Session: config.SessionConfig{
			Secret:          "0123456789abcdef0123456789abcdef",
			TTL:             time.Hour,
			Store:           config.SessionStoreMemory,
			CleanupInterval: time.Minute,
		},
		Routes: config.RouteConfig{
			AcquireTokenScopes:          []string{"User.Read"},
			AcquireTokenSuccessRedirect: "/user/profile",
		},
	}
}

func TestNewDocsite_Memory(t *testing.T) {
	d, err := NewDocsite(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { d.store.Close() })

	assert.IsType(t, &storage.MemoryStore{}, d.store)
	assert.Nil(t, d.cleanup)

	tests := []struct {
		path     string
		status   int
		location string
	}{
		{"/health", http.StatusOK, ""},
		{"/metrics", http.StatusOK, ""},
		{"/user/profile", http.StatusFound, "/auth/login"},
		{"/auth/logout", http.StatusFound, "https://login.example.com/tenant-abc/oauth2/v2.0/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			d.Handler().ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.location, w.Header().Get("Location"))
		})
	}

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNewDocsite_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Session.Store = config.SessionStoreRedis
	cfg.Session.RedisURL = config.Secret("redis://" + mr.Addr())

	d, err := NewDocsite(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.store.Close() })
	assert.IsType(t, &storage.RedisStore{}, d.store)

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	mr.Close()
	w = httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewDocsite_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Store = config.SessionStoreRedis
	cfg.Session.RedisURL = config.Secret("redis://127.0.0.1:1")

	_, err := NewDocsite(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to setup storage")
}
