package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/dgellow/docsite/internal/log"
	"github.com/dgellow/docsite/internal/metrics"
	"github.com/dgellow/docsite/internal/urlutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrAuthorityRequired is returned when Ensure is called without an authority
var ErrAuthorityRequired = errors.New("authority is required")

// Documents holds both provider metadata documents for one authority.
// It is returned by value so callers never share cache state.
type Documents struct {
	// Raw JSON documents as fetched
	CloudDiscovery string
	Authority      string

	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	EndSessionEndpoint    string
}

type authorityDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

// Cache lazily fetches and memoizes provider metadata per authority.
// An entry is assigned once, after both documents were fetched and validated.
type Cache struct {
	fetcher Fetcher
	metrics *metrics.Metrics
	flights singleflight.Group

	mu      sync.RWMutex
	entries map[string]Documents
}

// NewCache creates an empty metadata cache
func NewCache(fetcher Fetcher, m *metrics.Metrics) *Cache {
	return &Cache{
		fetcher: fetcher,
		metrics: m,
		entries: make(map[string]Documents),
	}
}

// Cached returns the documents for authority without fetching
func (c *Cache) Cached(authority string) (Documents, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	docs, ok := c.entries[normalizeAuthority(authority)]
	return docs, ok
}

// Ensure returns the metadata for authority, fetching both documents
// concurrently on first use. Failures cache nothing; the next call retries.
// Concurrent callers share one fetch pair, and each stops waiting when its
// own ctx is done. The shared fetch is not cancelled by any single caller;
// the fetcher's timeout bounds it.
func (c *Cache) Ensure(ctx context.Context, authority string) (Documents, error) {
	authority = normalizeAuthority(authority)
	if authority == "" {
		return Documents{}, ErrAuthorityRequired
	}
	if docs, ok := c.Cached(authority); ok {
		return docs, nil
	}

	ch := c.flights.DoChan(authority, func() (any, error) {
		if docs, ok := c.Cached(authority); ok {
			return docs, nil
		}
		return c.load(context.WithoutCancel(ctx), authority)
	})

	select {
	case <-ctx.Done():
		return Documents{}, fmt.Errorf("waiting for provider metadata: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Documents{}, res.Err
		}
		return res.Val.(Documents), nil
	}
}

func (c *Cache) load(ctx context.Context, authority string) (Documents, error) {
	docs, err := c.fetch(ctx, authority)
	if err != nil {
		c.metrics.RecordMetadataFetch(metrics.OutcomeError)
		log.LogErrorWithFields("metadata", "Failed to fetch provider metadata", map[string]any{
			"authority": authority,
			"error":     err.Error(),
		})
		return Documents{}, err
	}

	c.mu.Lock()
	c.entries[authority] = docs
	c.mu.Unlock()

	c.metrics.RecordMetadataFetch(metrics.OutcomeSuccess)
	log.LogInfoWithFields("metadata", "Provider metadata cached", map[string]any{
		"authority": authority,
		"issuer":    docs.Issuer,
	})
	return docs, nil
}

func (c *Cache) fetch(ctx context.Context, authority string) (Documents, error) {
	discoveryURL, discoveryQuery, err := CloudDiscoveryEndpoint(authority)
	if err != nil {
		return Documents{}, err
	}
	authorityURL, err := AuthorityMetadataEndpoint(authority)
	if err != nil {
		return Documents{}, err
	}

	var cloudRaw, authorityRaw []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body, err := c.fetcher.Get(gctx, discoveryURL, discoveryQuery)
		if err != nil {
			return fmt.Errorf("cloud discovery metadata: %w", err)
		}
		cloudRaw = body
		return nil
	})
	g.Go(func() error {
		body, err := c.fetcher.Get(gctx, authorityURL, nil)
		if err != nil {
			return fmt.Errorf("authority metadata: %w", err)
		}
		authorityRaw = body
		return nil
	})
	if err := g.Wait(); err != nil {
		return Documents{}, err
	}

	var cloud map[string]json.RawMessage
	if err := json.Unmarshal(cloudRaw, &cloud); err != nil {
		return Documents{}, fmt.Errorf("cloud discovery metadata is not a JSON object: %w", err)
	}

	var doc authorityDocument
	if err := json.Unmarshal(authorityRaw, &doc); err != nil {
		return Documents{}, fmt.Errorf("authority metadata is not a JSON object: %w", err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return Documents{}, fmt.Errorf("authority metadata is missing authorization or token endpoint")
	}

	return Documents{
		CloudDiscovery:        string(cloudRaw),
		Authority:             string(authorityRaw),
		Issuer:                doc.Issuer,
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
		EndSessionEndpoint:    doc.EndSessionEndpoint,
	}, nil
}

// CloudDiscoveryEndpoint returns the instance discovery URL for authority:
// <cloud instance>/common/discovery/instance with api-version and authorization_endpoint
func CloudDiscoveryEndpoint(authority string) (string, url.Values, error) {
	u, err := url.Parse(authority)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", nil, fmt.Errorf("invalid authority %q", authority)
	}
	instance := u.Scheme + "://" + u.Host

	endpoint, err := urlutil.JoinPath(instance, "common", "discovery", "instance")
	if err != nil {
		return "", nil, err
	}
	authorize, err := urlutil.JoinPath(authority, "oauth2", "v2.0", "authorize")
	if err != nil {
		return "", nil, err
	}

	query := url.Values{}
	query.Set("api-version", "1.1")
	query.Set("authorization_endpoint", authorize)
	return endpoint, query, nil
}

// AuthorityMetadataEndpoint returns <authority>/v2.0/.well-known/openid-configuration
func AuthorityMetadataEndpoint(authority string) (string, error) {
	return urlutil.JoinPath(authority, "v2.0", ".well-known", "openid-configuration")
}

func normalizeAuthority(authority string) string {
	return strings.TrimRight(strings.TrimSpace(authority), "/")
}
