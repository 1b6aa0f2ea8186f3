package idp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/docsite/internal/config"
	"github.com/dgellow/docsite/internal/metadata"
	"github.com/dgellow/docsite/internal/metrics"
	"golang.org/x/oauth2"
)

// ClientFactory builds a fresh Client for every request
type ClientFactory interface {
	NewClient(ctx context.Context, docs metadata.Documents) (Client, error)
}

// OAuth2Factory creates OAuth2Client instances from the cached provider metadata
type OAuth2Factory struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
	metrics      *metrics.Metrics
}

var _ ClientFactory = (*OAuth2Factory)(nil)

// NewFactory creates a factory for the configured client registration
func NewFactory(cfg config.IdentityConfig, m *metrics.Metrics) *OAuth2Factory {
	return &OAuth2Factory{
		clientID:     cfg.ClientID,
		clientSecret: string(cfg.ClientSecret),
		httpClient:   &http.Client{Timeout: cfg.ProviderTimeout},
		metrics:      m,
	}
}

// NewClient returns a client with an empty token cache.
// Callers deserialize the session's cache into it before use.
func (f *OAuth2Factory) NewClient(_ context.Context, docs metadata.Documents) (Client, error) {
	if docs.AuthorizationEndpoint == "" || docs.TokenEndpoint == "" {
		return nil, fmt.Errorf("provider metadata is incomplete")
	}
	return &OAuth2Client{
		clientID:     f.clientID,
		clientSecret: f.clientSecret,
		endpoint: oauth2.Endpoint{
			AuthURL:   docs.AuthorizationEndpoint,
			TokenURL:  docs.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		httpClient: f.httpClient,
		cache:      NewTokenCache(),
		metrics:    f.metrics,
		now:        time.Now,
	}, nil
}
